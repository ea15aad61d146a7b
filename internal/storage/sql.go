package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loan-risk/internal/loan"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const predictionsTable = "predictions"

// initLockKey is the advisory lock that serialises schema creation across
// replicas sharing one PostgreSQL database.
const initLockKey = 7244501

// dialect holds the few places SQLite and PostgreSQL disagree.
type dialect struct {
	name     string
	identity string
	realType string
	timeType string
	param    func(i int) string
	// initLock runs before the create statement in the same transaction.
	initLock string
}

var (
	sqliteDialect = dialect{
		name:     "sqlite",
		identity: "INTEGER PRIMARY KEY AUTOINCREMENT",
		realType: "REAL",
		timeType: "TEXT",
		param:    func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:     "postgres",
		identity: "BIGSERIAL PRIMARY KEY",
		realType: "DOUBLE PRECISION",
		timeType: "TEXT",
		param:    func(i int) string { return fmt.Sprintf("$%d", i) },
		initLock: fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", initLockKey),
	}
)

// SQLStore keeps the history in a relational table with one column per
// application field.
type SQLStore struct {
	db      *sql.DB
	d       dialect
	cols    []Column
	timeout time.Duration

	createSQL string
	insertSQL string
	selectSQL string
}

// OpenSQLite opens an embedded SQLite database in WAL mode.
func OpenSQLite(path string, cols []Column, timeout time.Duration) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", path, timeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// One writer connection keeps appends serialised without SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect, cols, timeout), nil
}

// OpenPostgres connects to a PostgreSQL server.
func OpenPostgres(dsn string, cols []Column, timeout time.Duration) (*SQLStore, error) {
	if dsn == "" {
		return nil, storageErr("open", fmt.Errorf("DATABASE_URL is empty"))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(db, postgresDialect, cols, timeout), nil
}

func newSQLStore(db *sql.DB, d dialect, cols []Column, timeout time.Duration) *SQLStore {
	s := &SQLStore{db: db, d: d, cols: cols, timeout: timeout}

	defs := []string{
		"id " + d.identity,
		"record_id TEXT NOT NULL UNIQUE",
		"created_at " + d.timeType + " NOT NULL",
		"profile TEXT NOT NULL",
	}
	names := []string{"record_id", "created_at", "profile"}
	for _, c := range cols {
		typ := d.realType
		if c.Categorical {
			typ = "TEXT"
		}
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", c.Name, typ))
		names = append(names, c.Name)
	}
	defs = append(defs, "label INTEGER NOT NULL CHECK (label IN (0, 1))")
	names = append(names, "label")

	params := make([]string, len(names))
	for i := range names {
		params[i] = d.param(i + 1)
	}

	s.createSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", predictionsTable, strings.Join(defs, ", "))
	s.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", predictionsTable, strings.Join(names, ", "), strings.Join(params, ", "))
	s.selectSQL = fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(names, ", "), predictionsTable)
	return s
}

func (s *SQLStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("init", fmt.Errorf("%s unreachable: %w", s.d.name, err))
	}
	if s.d.initLock == "" {
		_, err := s.db.ExecContext(ctx, s.createSQL)
		return storageErr("init", err)
	}

	// CREATE TABLE IF NOT EXISTS alone still races in PostgreSQL: two
	// sessions can both miss the table and collide on its catalog entries.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("init", err)
	}
	if _, err := tx.ExecContext(ctx, s.d.initLock); err != nil {
		tx.Rollback()
		return storageErr("init", err)
	}
	if _, err := tx.ExecContext(ctx, s.createSQL); err != nil {
		tx.Rollback()
		if alreadyCreated(err) {
			return nil
		}
		return storageErr("init", err)
	}
	if err := tx.Commit(); err != nil && !alreadyCreated(err) {
		return storageErr("init", err)
	}
	return nil
}

// alreadyCreated reports a concurrent creator winning: duplicate_table, or
// unique_violation on the catalog's type name index.
func alreadyCreated(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "42P07" || pqErr.Code == "23505"
}

func (s *SQLStore) Append(ctx context.Context, rec loan.PredictionRecord) error {
	if err := checkRecord(s.cols, rec); err != nil {
		return storageErr("append", err)
	}

	args := make([]any, 0, len(s.cols)+4)
	args = append(args, rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.Profile)
	for _, c := range s.cols {
		if c.Categorical {
			args = append(args, rec.Categorical[c.Name])
		} else {
			args = append(args, rec.Numeric[c.Name])
		}
	}
	args = append(args, int(rec.Label))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("append", err)
	}
	if _, err := tx.ExecContext(ctx, s.insertSQL, args...); err != nil {
		_ = tx.Rollback()
		return storageErr("append", err)
	}
	return storageErr("append", tx.Commit())
}

func (s *SQLStore) ScanAll(ctx context.Context) ([]loan.PredictionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.selectSQL)
	if err != nil {
		return nil, storageErr("scan", err)
	}
	defer rows.Close()

	var out []loan.PredictionRecord
	for rows.Next() {
		rec, err := s.scanRow(rows)
		if err != nil {
			return nil, storageErr("scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan", err)
	}
	return out, nil
}

func (s *SQLStore) scanRow(rows *sql.Rows) (loan.PredictionRecord, error) {
	var (
		id, created, profile string
		label                int
	)
	nums := make([]float64, len(s.cols))
	strs := make([]string, len(s.cols))

	dest := make([]any, 0, len(s.cols)+4)
	dest = append(dest, &id, &created, &profile)
	for i, c := range s.cols {
		if c.Categorical {
			dest = append(dest, &strs[i])
		} else {
			dest = append(dest, &nums[i])
		}
	}
	dest = append(dest, &label)

	if err := rows.Scan(dest...); err != nil {
		return loan.PredictionRecord{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return loan.PredictionRecord{}, fmt.Errorf("record %s: bad created_at: %w", id, err)
	}
	rec := newRecord(id, ts, profile)
	for i, c := range s.cols {
		if c.Categorical {
			rec.Categorical[c.Name] = strs[i]
		} else {
			rec.Numeric[c.Name] = nums[i]
		}
	}
	rec.Label = loan.Label(label)
	return rec, rec.Validate()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
