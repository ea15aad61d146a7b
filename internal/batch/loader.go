// Package batch scores files of loan applications offline through the same
// codec and model as the online service, optionally appending every scored
// record to the prediction history, and reports the outcome.
package batch

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

// Columns with a special meaning in input files. Both are optional.
var (
	keyColumns      = []string{"id", "loan_id", "application_id"}
	expectedColumns = []string{"expected", "loan_status", "label"}
)

// Application is one input row.
type Application struct {
	Line     int
	Key      string
	Raw      loan.RawApplication
	Expected *loan.Label
}

// Loader holds the applications of one input file in file order.
type Loader struct {
	apps  []Application
	index int
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{apps: make([]Application, 0)}
}

// LoadFile reads path as csv or jsonl. "auto" picks by extension.
func (l *Loader) LoadFile(path, format string) error {
	if format == "" || format == "auto" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = "csv"
		case ".jsonl", ".ndjson", ".json":
			format = "jsonl"
		default:
			return fmt.Errorf("cannot determine file format for: %s", path)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	switch format {
	case "csv":
		err = l.LoadCSV(file)
	case "jsonl":
		err = l.LoadJSONLines(file)
	default:
		return fmt.Errorf("unknown input format %q", format)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("file", path).
		Str("format", format).
		Int("applications", len(l.apps)).
		Msg("Input loaded successfully")
	return nil
}

// LoadCSV reads a header row of field names followed by one application per
// row. Empty cells are treated as missing fields.
func (l *Loader) LoadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	reader.FieldsPerRecord = len(header)

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		values := make(map[string]any, len(header))
		for i, col := range header {
			if v := strings.TrimSpace(record[i]); v != "" {
				values[col] = v
			}
		}
		app, err := newApplication(line, values)
		if err != nil {
			return err
		}
		l.apps = append(l.apps, app)
	}
}

// LoadJSONLines reads one JSON object per line.
func (l *Loader) LoadJSONLines(r io.Reader) error {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	for n := 1; decoder.More(); n++ {
		var values map[string]any
		if err := decoder.Decode(&values); err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		app, err := newApplication(n, values)
		if err != nil {
			return err
		}
		l.apps = append(l.apps, app)
	}
	return nil
}

func newApplication(line int, values map[string]any) (Application, error) {
	app := Application{Line: line, Raw: make(loan.RawApplication, len(values))}
	for k, v := range values {
		switch {
		case contains(keyColumns, strings.ToLower(k)):
			app.Key = fmt.Sprint(v)
		case contains(expectedColumns, strings.ToLower(k)):
			label, err := parseExpected(v)
			if err != nil {
				return Application{}, fmt.Errorf("line %d: %w", line, err)
			}
			app.Expected = &label
		default:
			app.Raw[k] = v
		}
	}
	return app, nil
}

// parseExpected accepts 0/1, the outcome words and the Y/N loan status
// convention, where Y means the loan was granted.
func parseExpected(v any) (loan.Label, error) {
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
	case "0", "safe", "approved", "y", "yes":
		return loan.LabelSafe, nil
	case "1", "danger", "rejected", "n", "no":
		return loan.LabelDanger, nil
	default:
		return 0, fmt.Errorf("unrecognised expected label %q", v)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Reset rewinds the loader to the first application.
func (l *Loader) Reset() {
	l.index = 0
}

// HasNext returns true if there's more data to process
func (l *Loader) HasNext() bool {
	return l.index < len(l.apps)
}

// Next returns the next application
func (l *Loader) Next() Application {
	if l.index >= len(l.apps) {
		return Application{}
	}
	app := l.apps[l.index]
	l.index++
	return app
}

// Count returns the total number of applications
func (l *Loader) Count() int {
	return len(l.apps)
}

// Progress returns the current progress as a percentage
func (l *Loader) Progress() float64 {
	if len(l.apps) == 0 {
		return 100.0
	}
	return float64(l.index) / float64(len(l.apps)) * 100.0
}
