package database

import (
	"database/sql"
	"fmt"

	"ebakup-go/internal/database/migrations"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements ebakup.Journal on a SQLite database.
type SQLiteJournal struct {
	db    *sql.DB
	path  string
	clock ebakup.Clock
}

// NewSQLiteJournal opens the journal at path, or an in-memory journal for
// ":memory:", and brings its schema up to date.
func NewSQLiteJournal(path string, clock ebakup.Clock) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection. An in-memory
// database lives in a single connection, so the pool is limited to one.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring journal: %w", err)
	}
	return db, nil
}

func (j *SQLiteJournal) StartOperation(operation, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		StartedAt:  j.clock.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     model.StatusRunning,
	}
	res, err := j.db.Exec(
		"INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)",
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("starting operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("starting operation: %w", err)
	}
	return op, nil
}

func (j *SQLiteJournal) FinishOperation(id int64, status, detail string) error {
	res, err := j.db.Exec(
		"UPDATE operations SET finished_at = ?, status = ?, detail = ? WHERE id = ? AND finished_at IS NULL",
		j.clock.Now().UTC(), status, detail, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing operation %d: %w", id, ebakup.ErrNotFound)
	}
	return nil
}

func (j *SQLiteJournal) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := j.db.Query(
		"SELECT id, started_at, finished_at, operation, parameters, status, detail FROM operations ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op := &model.Operation{}
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status, &op.Detail); err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Path returns the journal file path, or ":memory:".
func (j *SQLiteJournal) Path() string {
	return j.path
}

// CheckMigrations verifies the journal schema is up to date.
func (j *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckStatus(j.db)
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

var _ ebakup.Journal = (*SQLiteJournal)(nil)

