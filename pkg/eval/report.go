package eval

import (
	"fmt"
	"io"
	"sort"
	"time"
)

const (
	maxConfusions = 10
	maxMisroutes  = 8
)

type ClassAccuracy struct {
	Label    string
	Correct  int
	Total    int
	Accuracy float64
}

type Confusion struct {
	Expected  string
	Predicted string
	Count     int
}

type Report struct {
	RunID      string
	APIURL     string
	CreatedAt  time.Time
	Total      int
	Correct    int
	Errors     int
	Accuracy   float64
	PerClass   []ClassAccuracy
	Confusions []Confusion
	Misroutes  []Outcome
}

// BuildReport aggregates outcomes: overall and per-class accuracy, the most
// common confusions, and the first misrouted cases.
func BuildReport(runID, apiURL string, outcomes []Outcome) *Report {
	rep := &Report{
		RunID:     runID,
		APIURL:    apiURL,
		CreatedAt: time.Now().UTC(),
		Total:     len(outcomes),
	}

	perTotal := map[string]int{}
	perCorrect := map[string]int{}
	confusions := map[[2]string]int{}
	for _, o := range outcomes {
		perTotal[o.Case.Expected]++
		if o.Error != "" {
			rep.Errors++
		}
		if o.Correct {
			rep.Correct++
			perCorrect[o.Case.Expected]++
			continue
		}
		confusions[[2]string{o.Case.Expected, o.Predicted}]++
		if len(rep.Misroutes) < maxMisroutes {
			rep.Misroutes = append(rep.Misroutes, o)
		}
	}
	if rep.Total > 0 {
		rep.Accuracy = float64(rep.Correct) / float64(rep.Total)
	}

	labels := make([]string, 0, len(perTotal))
	for l := range perTotal {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		rep.PerClass = append(rep.PerClass, ClassAccuracy{
			Label:    l,
			Correct:  perCorrect[l],
			Total:    perTotal[l],
			Accuracy: float64(perCorrect[l]) / float64(perTotal[l]),
		})
	}

	for k, n := range confusions {
		rep.Confusions = append(rep.Confusions, Confusion{Expected: k[0], Predicted: k[1], Count: n})
	}
	sort.Slice(rep.Confusions, func(i, j int) bool {
		a, b := rep.Confusions[i], rep.Confusions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Expected != b.Expected {
			return a.Expected < b.Expected
		}
		return a.Predicted < b.Predicted
	})
	if len(rep.Confusions) > maxConfusions {
		rep.Confusions = rep.Confusions[:maxConfusions]
	}
	return rep
}

func percent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func (r *Report) WriteText(w io.Writer) error {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(w, format, args...)
	}
	p("\n=== Router Eval Results ===\n")
	p("API_URL: %s\n", r.APIURL)
	p("Total: %d\n", r.Total)
	p("Correct: %d\n", r.Correct)
	if r.Errors > 0 {
		p("Errors: %d\n", r.Errors)
	}
	p("Accuracy: %s\n", percent(r.Accuracy))

	p("\n=== Per-class accuracy ===\n")
	for _, c := range r.PerClass {
		p("%-18s %d/%d (%s)\n", c.Label, c.Correct, c.Total, percent(c.Accuracy))
	}

	p("\n=== Confusion cases (top) ===\n")
	for _, c := range r.Confusions {
		p("%s -> %s: %d\n", c.Expected, c.Predicted, c.Count)
	}

	if len(r.Misroutes) > 0 {
		p("\n=== Example misroutes (up to %d) ===\n", maxMisroutes)
		for _, m := range r.Misroutes {
			p("- %s expected=%s predicted=%s text=%s\n", m.Case.ID, m.Case.Expected, m.Predicted, m.Case.Text)
		}
	}
	return nil
}
