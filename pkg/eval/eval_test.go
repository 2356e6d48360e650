package eval

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/session"
)

const dataset = `
{"id":"r1","text":"I want to return an unopened bottle","expected":"REFUND"}
{"id":"r2","text":"Refund please, never opened","expected":"REFUND"}

{"id":"p1","text":"The seal was broken on arrival","expected":"REPLACEMENT"}
{"text":"what's the weather like","expected":"OUT_OF_SCOPE"}
`

func TestLoadDataset(t *testing.T) {
	cases, err := LoadDataset(strings.NewReader(dataset))
	require.NoError(t, err)
	require.Len(t, cases, 4)
	require.Equal(t, Case{ID: "r1", Text: "I want to return an unopened bottle", Expected: "REFUND"}, cases[0])
	require.Equal(t, "line-6", cases[3].ID)
}

func TestLoadDataset_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"bad json":         `{"id":"x"`,
		"missing text":     `{"id":"x","expected":"REFUND"}`,
		"missing expected": `{"id":"x","text":"hello"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadDataset(strings.NewReader(in))
			require.ErrorContains(t, err, "line 1")
		})
	}
}

func TestLoadDataset_NonStringIDs(t *testing.T) {
	cases, err := LoadDataset(strings.NewReader(
		`{"id":7,"text":"refund please","expected":"REFUND"}` + "\n" +
			`{"id":1.5,"text":"seal broken","expected":"REPLACEMENT"}` + "\n" +
			`{"id":null,"text":"hi","expected":"NEEDS_CLARIFICATION"}` + "\n" +
			`{"id":" x9 ","text":"hello","expected":"NEEDS_CLARIFICATION"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"7", "1.5", "line-3", "x9"},
		[]string{cases[0].ID, cases[1].ID, cases[2].ID, cases[3].ID})
}

func TestLoadDataset_DuplicateIDs(t *testing.T) {
	_, err := LoadDataset(strings.NewReader(
		`{"id":"a","text":"one","expected":"REFUND"}` + "\n\n" +
			`{"id":"a","text":"two","expected":"REFUND"}`))
	require.ErrorContains(t, err, `line 3: duplicate id "a" (first used on line 1)`)

	// a numeric id collides with the same id written as a string
	_, err = LoadDataset(strings.NewReader(
		`{"id":1,"text":"one","expected":"REFUND"}` + "\n" +
			`{"id":"1","text":"two","expected":"REFUND"}`))
	require.ErrorContains(t, err, "line 2: duplicate id")

	// an explicit id may not shadow a generated line id
	_, err = LoadDataset(strings.NewReader(
		`{"text":"one","expected":"REFUND"}` + "\n" +
			`{"id":"line-1","text":"two","expected":"REFUND"}`))
	require.ErrorContains(t, err, "line 2: duplicate id")
}

func TestLoadDatasetFile_Missing(t *testing.T) {
	_, err := LoadDatasetFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
}

// routeByKeyword answers like a router that only understands a few words.
func routeByKeyword(calls *atomic.Int32) session.SenderFunc {
	return func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
		calls.Add(1)
		msg := strings.ToLower(req.Message)
		switch {
		case strings.Contains(msg, "weather"):
			return chatapi.Result{Failure: &chatapi.Failure{Kind: chatapi.FailureServer, StatusCode: 500, Message: "Internal error"}}
		case strings.Contains(msg, "seal"):
			return chatapi.Result{Response: &chatapi.ChatResponse{Response: "ok"}}
		case strings.Contains(msg, "never opened"):
			return chatapi.Result{Response: &chatapi.ChatResponse{Response: "ok", Route: "NEEDS_CLARIFICATION"}}
		default:
			return chatapi.Result{Response: &chatapi.ChatResponse{Response: "ok", Route: "REFUND"}}
		}
	}
}

func runDataset(t *testing.T) ([]Outcome, *Report) {
	t.Helper()
	cases, err := LoadDataset(strings.NewReader(dataset))
	require.NoError(t, err)

	var calls atomic.Int32
	r := NewRunner(routeByKeyword(&calls), WithConcurrency(2), WithLogger(zerolog.Nop()))
	outcomes, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.EqualValues(t, len(cases), calls.Load())
	return outcomes, BuildReport("run-1", "http://localhost:8000", outcomes)
}

func TestRunner_OutcomesKeepDatasetOrder(t *testing.T) {
	outcomes, _ := runDataset(t)
	require.Len(t, outcomes, 4)

	require.Equal(t, "r1", outcomes[0].Case.ID)
	require.True(t, outcomes[0].Correct)

	require.Equal(t, "NEEDS_CLARIFICATION", outcomes[1].Predicted)
	require.False(t, outcomes[1].Correct)

	require.Equal(t, UnknownRoute, outcomes[2].Predicted)

	require.Equal(t, ErrorRoute, outcomes[3].Predicted)
	require.Equal(t, "Internal error", outcomes[3].Error)
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	r := NewRunner(routeByKeyword(&calls), WithLogger(zerolog.Nop()))
	_, err := r.Run(ctx, []Case{{ID: "a", Text: "x", Expected: "REFUND"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())
}

func TestBuildReport(t *testing.T) {
	_, rep := runDataset(t)
	require.Equal(t, 4, rep.Total)
	require.Equal(t, 1, rep.Correct)
	require.Equal(t, 1, rep.Errors)
	require.InDelta(t, 0.25, rep.Accuracy, 1e-9)

	require.Equal(t, []ClassAccuracy{
		{Label: "OUT_OF_SCOPE", Correct: 0, Total: 1, Accuracy: 0},
		{Label: "REFUND", Correct: 1, Total: 2, Accuracy: 0.5},
		{Label: "REPLACEMENT", Correct: 0, Total: 1, Accuracy: 0},
	}, rep.PerClass)

	require.Len(t, rep.Confusions, 3)
	require.Equal(t, Confusion{Expected: "OUT_OF_SCOPE", Predicted: ErrorRoute, Count: 1}, rep.Confusions[0])
	require.Len(t, rep.Misroutes, 3)
	require.Equal(t, "r2", rep.Misroutes[0].Case.ID)
}

func TestBuildReport_Limits(t *testing.T) {
	var outcomes []Outcome
	for i := 0; i < 20; i++ {
		label := string(rune('A' + i))
		outcomes = append(outcomes, Outcome{Case: Case{ID: label, Text: "t", Expected: label}, Predicted: "Z"})
	}
	rep := BuildReport("run", "", outcomes)
	require.Len(t, rep.Confusions, maxConfusions)
	require.Len(t, rep.Misroutes, maxMisroutes)
	require.Equal(t, "A", rep.Confusions[0].Expected)
}

func TestBuildReport_Empty(t *testing.T) {
	rep := BuildReport("run", "", nil)
	require.Zero(t, rep.Total)
	require.Zero(t, rep.Accuracy)
}

func TestReport_WriteText(t *testing.T) {
	_, rep := runDataset(t)
	var buf bytes.Buffer
	require.NoError(t, rep.WriteText(&buf))
	out := buf.String()
	require.Contains(t, out, "Total: 4")
	require.Contains(t, out, "Correct: 1")
	require.Contains(t, out, "Accuracy: 25.00%")
	require.Contains(t, out, "REFUND             1/2 (50.00%)")
	require.Contains(t, out, "REFUND -> NEEDS_CLARIFICATION: 1")
	require.Contains(t, out, "- r2 expected=REFUND predicted=NEEDS_CLARIFICATION text=Refund please, never opened")
}

func TestSQLiteStore(t *testing.T) {
	outcomes, rep := runDataset(t)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()

	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, rep, outcomes))
	require.Error(t, store.SaveRun(ctx, rep, outcomes), "run ids are unique")

	second := BuildReport("run-2", rep.APIURL, outcomes[:1])
	require.NoError(t, store.SaveRun(ctx, second, outcomes[:1]))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, "run-1", runs[1].ID)
	require.Equal(t, 4, runs[1].Total)
	require.InDelta(t, 0.25, runs[1].Accuracy, 1e-9)

	mis, err := store.Misroutes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, mis, 3)
	require.Equal(t, "r2", mis[0].Case.ID)
	require.Equal(t, "Internal error", mis[2].Error)

	mis, err = store.Misroutes(ctx, "no-such-run")
	require.NoError(t, err)
	require.Empty(t, mis)
}

func TestSQLiteStore_NumericIDsRoundTrip(t *testing.T) {
	cases, err := LoadDataset(strings.NewReader(
		`{"id":1,"text":"refund please","expected":"REFUND"}` + "\n" +
			`{"id":2,"text":"weather","expected":"OUT_OF_SCOPE"}`))
	require.NoError(t, err)

	var calls atomic.Int32
	outcomes, err := NewRunner(routeByKeyword(&calls)).Run(context.Background(), cases)
	require.NoError(t, err)
	rep := BuildReport("run-n", "http://assistant", outcomes)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()
	require.NoError(t, store.SaveRun(context.Background(), rep, outcomes))

	mis, err := store.Misroutes(context.Background(), "run-n")
	require.NoError(t, err)
	require.Len(t, mis, 1)
	require.Equal(t, "2", mis[0].Case.ID)
}
