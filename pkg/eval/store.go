package eval

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS eval_runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    api_url TEXT NOT NULL,
    total INTEGER NOT NULL,
    correct INTEGER NOT NULL,
    errors INTEGER NOT NULL,
    accuracy REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS eval_results (
    run_id TEXT NOT NULL REFERENCES eval_runs(id),
    case_id TEXT NOT NULL,
    text TEXT NOT NULL,
    expected TEXT NOT NULL,
    predicted TEXT NOT NULL,
    correct INTEGER NOT NULL,
    error TEXT,
    duration_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, case_id)
);
`

// RunSummary is one stored eval run.
type RunSummary struct {
	ID        string
	CreatedAt time.Time
	APIURL    string
	Total     int
	Correct   int
	Errors    int
	Accuracy  float64
}

// SQLiteStore keeps eval runs so accuracy can be compared over time.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteStore{db: db}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun stores the report summary and all outcomes in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, rep *Report, outcomes []Outcome) error {
	if rep == nil || rep.RunID == "" {
		return errors.New("empty run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO eval_runs(id, created_at, api_url, total, correct, errors, accuracy) VALUES(?,?,?,?,?,?,?)",
		rep.RunID, rep.CreatedAt.Format(time.RFC3339Nano), rep.APIURL, rep.Total, rep.Correct, rep.Errors, rep.Accuracy)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO eval_results(run_id, case_id, text, expected, predicted, correct, error, duration_ms) VALUES(?,?,?,?,?,?,?,?)")
	if err != nil {
		return errors.Wrap(err, "prepare result insert")
	}
	defer func() {
		_ = stmt.Close()
	}()
	for _, o := range outcomes {
		var errText sql.NullString
		if o.Error != "" {
			errText = sql.NullString{String: o.Error, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rep.RunID, o.Case.ID, o.Case.Text, o.Case.Expected, o.Predicted, o.Correct, errText, o.DurationMs); err != nil {
			return errors.Wrapf(err, "insert result %s", o.Case.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit run")
}

// ListRuns returns stored runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, api_url, total, correct, errors, accuracy FROM eval_runs ORDER BY rowid DESC")
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var created string
		if err := rows.Scan(&r.ID, &created, &r.APIURL, &r.Total, &r.Correct, &r.Errors, &r.Accuracy); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

// Misroutes returns the stored incorrect outcomes of a run.
func (s *SQLiteStore) Misroutes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT case_id, text, expected, predicted, COALESCE(error, ''), duration_ms FROM eval_results WHERE run_id=? AND correct=0 ORDER BY rowid",
		runID)
	if err != nil {
		return nil, errors.Wrap(err, "query misroutes")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Case.ID, &o.Case.Text, &o.Case.Expected, &o.Predicted, &o.Error, &o.DurationMs); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate misroutes")
}
