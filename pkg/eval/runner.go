package eval

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/session"
)

const (
	// UnknownRoute is recorded when the reply carries no routing key.
	UnknownRoute = "UNKNOWN"
	// ErrorRoute is recorded when the exchange failed.
	ErrorRoute = "ERROR"

	DefaultConcurrency = 4
)

// Outcome is the result of one case.
type Outcome struct {
	Case       Case
	Predicted  string
	Correct    bool
	Error      string
	DurationMs int64
}

type Runner struct {
	sender      session.Sender
	concurrency int
	logger      zerolog.Logger
}

type RunnerOption func(*Runner)

func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func NewRunner(sender session.Sender, options ...RunnerOption) *Runner {
	r := &Runner{
		sender:      sender,
		concurrency: DefaultConcurrency,
		logger:      log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Run sends every case to the assistant and returns outcomes in dataset
// order. Failed exchanges are recorded, not returned as errors; Run only
// fails when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Outcome, error) {
	outcomes := make([]Outcome, len(cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range cases {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.runCase(ctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) Outcome {
	start := time.Now()
	out := Outcome{Case: c}

	req, err := chatapi.NewChatRequest(c.Text)
	if err != nil {
		out.Predicted = ErrorRoute
		out.Error = err.Error()
		return out
	}

	res := r.sender.Send(ctx, req)
	out.DurationMs = time.Since(start).Milliseconds()
	switch {
	case res.OK():
		out.Predicted = res.Response.Route
		if out.Predicted == "" {
			out.Predicted = UnknownRoute
		}
	case res.Failure != nil:
		out.Predicted = ErrorRoute
		out.Error = res.Failure.Message
	default:
		out.Predicted = ErrorRoute
		out.Error = chatapi.GenericFailureMessage
	}
	out.Correct = out.Predicted == c.Expected

	r.logger.Debug().
		Str("case", c.ID).
		Str("expected", c.Expected).
		Str("predicted", out.Predicted).
		Int64("duration_ms", out.DurationMs).
		Msg("eval case done")
	return out
}
