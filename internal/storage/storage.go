// Package storage provides the append-only prediction history for the
// scoring service. Every backing implements History: records are persisted
// durably before Append returns and ScanAll yields them in insertion order.
//
// Backings are a flat CSV file, an embedded BoltDB file, an SQL table
// (embedded SQLite or PostgreSQL) and an in-memory slice for tests.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

// Backend names accepted by Open.
const (
	BackendCSV      = "csv"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// History is the append-only prediction log shared by all requests.
type History interface {
	// Init creates the backing and its header or schema exactly once.
	// Calling it again, from any goroutine or process, is a no-op.
	Init(ctx context.Context) error

	// Append persists one record durably before returning.
	Append(ctx context.Context, rec loan.PredictionRecord) error

	// ScanAll reads every record in insertion order.
	ScanAll(ctx context.Context) ([]loan.PredictionRecord, error)

	Close() error
}

// Column is one persisted application field.
type Column struct {
	Name        string
	Categorical bool
}

// Options configures Open.
type Options struct {
	Backend string
	Path    string // csv, bolt, sqlite
	DSN     string // postgres
	Columns []Column
	Timeout time.Duration
}

// ColumnsFor lays out fields in order, marking those listed in categorical.
func ColumnsFor(fields, categorical []string) []Column {
	isCat := make(map[string]bool, len(categorical))
	for _, c := range categorical {
		isCat[c] = true
	}
	cols := make([]Column, len(fields))
	for i, f := range fields {
		cols[i] = Column{Name: f, Categorical: isCat[f]}
	}
	return cols
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved header names that application fields may not shadow.
var reserved = map[string]bool{"id": true, "record_id": true, "created_at": true, "profile": true, "label": true}

func checkColumns(cols []Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("no columns configured")
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("column name %q is not a plain identifier", c.Name)
		}
		if reserved[c.Name] {
			return fmt.Errorf("column name %q is reserved", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Open builds the configured backing. Init must still be called.
func Open(opts Options) (History, error) {
	if err := checkColumns(opts.Columns); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log.Info().
		Str("backend", opts.Backend).
		Str("path", opts.Path).
		Int("columns", len(opts.Columns)).
		Msg("Opening history store")

	switch opts.Backend {
	case BackendCSV:
		return NewCSVStore(opts.Path, opts.Columns, timeout), nil
	case BackendBolt:
		return NewBoltStore(opts.Path, opts.Columns, timeout)
	case BackendSQLite:
		return OpenSQLite(opts.Path, opts.Columns, timeout)
	case BackendPostgres:
		return OpenPostgres(opts.DSN, opts.Columns, timeout)
	case BackendMemory:
		return NewMemoryStore(opts.Columns), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", opts.Backend)
	}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &loan.StorageError{Op: op, Err: err}
}

// checkRecord verifies rec carries every configured column with the right kind.
func checkRecord(cols []Column, rec loan.PredictionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	for _, c := range cols {
		if c.Categorical {
			if _, ok := rec.Categorical[c.Name]; !ok {
				return fmt.Errorf("record %s lacks categorical field %q", rec.ID, c.Name)
			}
			continue
		}
		if _, ok := rec.Numeric[c.Name]; !ok {
			return fmt.Errorf("record %s lacks numeric field %q", rec.ID, c.Name)
		}
	}
	return nil
}

// header is the flat column layout shared by the CSV file and SQL table.
func header(cols []Column) []string {
	h := make([]string, 0, len(cols)+4)
	h = append(h, "id", "created_at", "profile")
	for _, c := range cols {
		h = append(h, c.Name)
	}
	return append(h, "label")
}

func encodeRow(cols []Column, rec loan.PredictionRecord) []string {
	row := make([]string, 0, len(cols)+4)
	row = append(row, rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.Profile)
	for _, c := range cols {
		if c.Categorical {
			row = append(row, rec.Categorical[c.Name])
		} else {
			row = append(row, strconv.FormatFloat(rec.Numeric[c.Name], 'g', -1, 64))
		}
	}
	return append(row, strconv.Itoa(int(rec.Label)))
}

func decodeRow(cols []Column, row []string) (loan.PredictionRecord, error) {
	if len(row) != len(cols)+4 {
		return loan.PredictionRecord{}, fmt.Errorf("row has %d fields, want %d", len(row), len(cols)+4)
	}
	created, err := time.Parse(time.RFC3339Nano, row[1])
	if err != nil {
		return loan.PredictionRecord{}, fmt.Errorf("record %s: bad created_at: %w", row[0], err)
	}
	rec := newRecord(row[0], created, row[2])
	for i, c := range cols {
		v := row[3+i]
		if c.Categorical {
			rec.Categorical[c.Name] = v
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return loan.PredictionRecord{}, fmt.Errorf("record %s: field %s: %w", row[0], c.Name, err)
		}
		rec.Numeric[c.Name] = n
	}
	label, err := strconv.Atoi(row[len(row)-1])
	if err != nil {
		return loan.PredictionRecord{}, fmt.Errorf("record %s: bad label: %w", row[0], err)
	}
	rec.Label = loan.Label(label)
	if err := rec.Validate(); err != nil {
		return loan.PredictionRecord{}, err
	}
	return rec, nil
}

func newRecord(id string, created time.Time, profile string) loan.PredictionRecord {
	return loan.PredictionRecord{
		ID:          id,
		CreatedAt:   created,
		Profile:     profile,
		Numeric:     map[string]float64{},
		Categorical: map[string]string{},
	}
}

// lock is a mutex whose acquisition honours ctx.
type lock chan struct{}

func newLock() lock { return make(lock, 1) }

func (l lock) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l lock) release() { <-l }
