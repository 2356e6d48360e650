package cmds

import (
	"context"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/eval"
)

// EvalAPIURLEnv overrides the assistant URL for eval runs. It accepts either
// the base URL or the full /chat endpoint.
const EvalAPIURLEnv = "EVAL_API_URL"

// Row sets emitted by the eval command.
const (
	evalRowsOutcomes   = "outcomes"
	evalRowsClasses    = "classes"
	evalRowsConfusions = "confusions"
	evalRowsSummary    = "summary"
)

var evalRowSets = []string{evalRowsOutcomes, evalRowsClasses, evalRowsConfusions, evalRowsSummary}

type EvalCommand struct {
	*cmds.CommandDescription
	root *cobra.Command
}

type EvalSettings struct {
	Dataset     string `glazed:"dataset"`
	DB          string `glazed:"db"`
	Concurrency int    `glazed:"concurrency"`
	Rows        string `glazed:"rows"`
	Report      bool   `glazed:"report"`
}

// NewEvalCommand builds the eval command. root supplies the shared
// assistant flags and the writer for the human readable report.
func NewEvalCommand(root *cobra.Command) (*EvalCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"eval",
		cmds.WithShort("Evaluate the assistant's routing against a labelled JSONL dataset"),
		cmds.WithLong("Send every case of a JSONL dataset of {id, text, expected} rows to the assistant "+
			"and compare the returned route with the expected one. The text report goes to stderr, "+
			"the selected row set to stdout in any glazed output format."),
		cmds.WithFlags(
			fields.New(
				"dataset",
				fields.TypeString,
				fields.WithDefault("eval/router_eval.jsonl"),
				fields.WithHelp("JSONL dataset of {id, text, expected} rows"),
			),
			fields.New(
				"db",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite file to store the run in"),
			),
			fields.New(
				"concurrency",
				fields.TypeInteger,
				fields.WithDefault(eval.DefaultConcurrency),
				fields.WithHelp("Number of requests in flight"),
			),
			fields.New(
				"rows",
				fields.TypeChoice,
				fields.WithHelp("Row set to emit"),
				fields.WithChoices(evalRowSets...),
				fields.WithDefault(evalRowsOutcomes),
			),
			fields.New(
				"report",
				fields.TypeBool,
				fields.WithDefault(true),
				fields.WithHelp("Write the text report to stderr"),
			),
		),
		cmds.WithSections(glazedLayer),
	)

	return &EvalCommand{CommandDescription: desc, root: root}, nil
}

func (c *EvalCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &EvalSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := loadSettings(c.root)
	if err != nil {
		return err
	}
	if u := strings.TrimSpace(os.Getenv(EvalAPIURLEnv)); u != "" && !c.root.PersistentFlags().Changed("api-url") {
		cfg.APIURL = strings.TrimSuffix(strings.TrimRight(u, "/"), "/chat")
	}

	cases, err := eval.LoadDatasetFile(s.Dataset)
	if err != nil {
		return err
	}
	client, err := cfg.NewClient(chatapi.WithLogger(log.Logger))
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Int("cases", len(cases)).Str("api_url", client.BaseURL()).Msg("starting router eval")

	runner := eval.NewRunner(client, eval.WithConcurrency(s.Concurrency))
	outcomes, err := runner.Run(ctx, cases)
	if err != nil {
		return errors.Wrap(err, "run eval")
	}
	rep := eval.BuildReport(runID, client.BaseURL(), outcomes)

	if s.Report {
		if err := rep.WriteText(c.root.ErrOrStderr()); err != nil {
			return err
		}
	}
	addRow := func(row types.Row) error {
		return gp.AddRow(ctx, row)
	}
	if err := emitEvalRows(s.Rows, rep, outcomes, addRow); err != nil {
		return err
	}

	// the report is already out, a store failure only costs history
	if s.DB != "" {
		if err := storeRun(ctx, s.DB, rep, outcomes); err != nil {
			log.Error().Err(err).Str("db", s.DB).Str("run_id", runID).Msg("failed to store eval run")
		} else {
			log.Info().Str("db", s.DB).Str("run_id", runID).Msg("stored eval run")
		}
	}
	return nil
}

func storeRun(ctx context.Context, path string, rep *eval.Report, outcomes []eval.Outcome) error {
	store, err := eval.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	return store.SaveRun(ctx, rep, outcomes)
}

func emitEvalRows(set string, rep *eval.Report, outcomes []eval.Outcome, addRow func(types.Row) error) error {
	switch set {
	case evalRowsSummary:
		return addRow(types.NewRow(
			types.MRP("run_id", rep.RunID),
			types.MRP("api_url", rep.APIURL),
			types.MRP("total", rep.Total),
			types.MRP("correct", rep.Correct),
			types.MRP("errors", rep.Errors),
			types.MRP("accuracy", rep.Accuracy),
		))
	case evalRowsClasses:
		for _, c := range rep.PerClass {
			row := types.NewRow(
				types.MRP("label", c.Label),
				types.MRP("correct", c.Correct),
				types.MRP("total", c.Total),
				types.MRP("accuracy", c.Accuracy),
			)
			if err := addRow(row); err != nil {
				return err
			}
		}
	case evalRowsConfusions:
		for _, c := range rep.Confusions {
			row := types.NewRow(
				types.MRP("expected", c.Expected),
				types.MRP("predicted", c.Predicted),
				types.MRP("count", c.Count),
			)
			if err := addRow(row); err != nil {
				return err
			}
		}
	default:
		for _, o := range outcomes {
			if err := addRow(outcomeRow(o)); err != nil {
				return err
			}
		}
	}
	return nil
}

func outcomeRow(o eval.Outcome) types.Row {
	return types.NewRow(
		types.MRP("id", o.Case.ID),
		types.MRP("expected", o.Case.Expected),
		types.MRP("predicted", o.Predicted),
		types.MRP("correct", o.Correct),
		types.MRP("error", o.Error),
		types.MRP("duration_ms", o.DurationMs),
		types.MRP("text", o.Case.Text),
	)
}

type EvalHistoryCommand struct {
	*cmds.CommandDescription
}

type EvalHistorySettings struct {
	DB  string `glazed:"db"`
	Run string `glazed:"run"`
}

func NewEvalHistoryCommand() (*EvalHistoryCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"history",
		cmds.WithShort("List stored eval runs"),
		cmds.WithLong("List stored eval runs, newest first. With --run, list the misrouted cases of that run."),
		cmds.WithFlags(
			fields.New(
				"db",
				fields.TypeString,
				fields.WithDefault("eval.db"),
				fields.WithHelp("SQLite file with stored runs"),
			),
			fields.New(
				"run",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Run id whose misroutes to list"),
			),
		),
		cmds.WithSections(glazedLayer),
	)

	return &EvalHistoryCommand{CommandDescription: desc}, nil
}

func (c *EvalHistoryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &EvalHistorySettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := eval.NewSQLiteStore(s.DB)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	return emitHistoryRows(ctx, store, strings.TrimSpace(s.Run), func(row types.Row) error {
		return gp.AddRow(ctx, row)
	})
}

func emitHistoryRows(ctx context.Context, store *eval.SQLiteStore, runID string, addRow func(types.Row) error) error {
	if runID != "" {
		mis, err := store.Misroutes(ctx, runID)
		if err != nil {
			return err
		}
		for _, o := range mis {
			if err := addRow(outcomeRow(o)); err != nil {
				return err
			}
		}
		return nil
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		row := types.NewRow(
			types.MRP("run_id", r.ID),
			types.MRP("created_at", r.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			types.MRP("api_url", r.APIURL),
			types.MRP("total", r.Total),
			types.MRP("correct", r.Correct),
			types.MRP("errors", r.Errors),
			types.MRP("accuracy", r.Accuracy),
		)
		if err := addRow(row); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ cmds.GlazeCommand = &EvalCommand{}
	_ cmds.GlazeCommand = &EvalHistoryCommand{}
)

// buildEvalCommands wires eval and eval history into cobra through glazed.
func buildEvalCommands(root *cobra.Command) (*cobra.Command, error) {
	evalCmd, err := NewEvalCommand(root)
	if err != nil {
		return nil, err
	}
	cobraEval, err := cli.BuildCobraCommand(evalCmd)
	if err != nil {
		return nil, err
	}
	historyCmd, err := NewEvalHistoryCommand()
	if err != nil {
		return nil, err
	}
	cobraHistory, err := cli.BuildCobraCommand(historyCmd)
	if err != nil {
		return nil, err
	}
	cobraEval.AddCommand(cobraHistory)
	return cobraEval, nil
}
