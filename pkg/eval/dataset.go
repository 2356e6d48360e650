package eval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Case is one labelled message of a router eval dataset.
type Case struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Expected string `json:"expected"`
}

const maxLineSize = 1 << 20

type caseRow struct {
	ID       json.RawMessage `json:"id"`
	Text     string          `json:"text"`
	Expected string          `json:"expected"`
}

// caseID turns a JSON id of any type into a string. Strings are unquoted,
// other values keep their JSON text.
func caseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadDataset reads JSONL cases from r. Blank lines are skipped, cases
// without an id are named after their line number, and ids must be unique.
func LoadDataset(r io.Reader) ([]Case, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var cases []Case
	seen := map[string]int{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row caseRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		id, err := caseID(row.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: invalid id", lineNo)
		}
		c := Case{
			ID:       id,
			Text:     strings.TrimSpace(row.Text),
			Expected: strings.TrimSpace(row.Expected),
		}
		if c.Text == "" {
			return nil, errors.Errorf("line %d: missing text", lineNo)
		}
		if c.Expected == "" {
			return nil, errors.Errorf("line %d: missing expected route", lineNo)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("line-%d", lineNo)
		}
		if first, ok := seen[c.ID]; ok {
			return nil, errors.Errorf("line %d: duplicate id %q (first used on line %d)", lineNo, c.ID, first)
		}
		seen[c.ID] = lineNo
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	return cases, nil
}

func LoadDatasetFile(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open dataset")
	}
	defer func() {
		_ = f.Close()
	}()
	cases, err := LoadDataset(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cases, nil
}
