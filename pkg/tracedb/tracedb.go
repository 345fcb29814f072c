// Package tracedb persists VM capture logs to a local sqlite database so
// runs can be inspected after the fact.
package tracedb

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	_ "modernc.org/sqlite"

	"github.com/delimvm/delim/vm"
)

// Error is the tracedb error class.
var Error = errs.Class("tracedb")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	program    TEXT NOT NULL,
	started_at TEXT NOT NULL,
	outcome    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	seq          INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	dispatch_id  INTEGER NOT NULL,
	effect       TEXT,
	handler      TEXT,
	action       TEXT,
	value        TEXT,
	PRIMARY KEY (run_id, seq)
);
`

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open opens (and initializes) the trace database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return Error.Wrap(d.db.Close())
}

// SaveRun stores one run's capture log and returns the minted run id.
func (d *DB) SaveRun(programName, outcome string, events []vm.CaptureEvent) (string, error) {
	runID := uuid.NewString()

	tx, err := d.db.Begin()
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, program, started_at, outcome) VALUES (?, ?, ?, ?)`,
		runID, programName, time.Now().UTC().Format(time.RFC3339), outcome,
	)
	if err != nil {
		return "", Error.Wrap(err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO events (run_id, seq, kind, dispatch_id, effect, handler, action, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, ev := range events {
		action := ""
		if ev.Action != nil {
			action = ev.Action.Kind.String()
		}
		_, err = stmt.Exec(
			runID, seq, ev.Kind.String(), int64(ev.DispatchID),
			ev.EffectRepr, ev.HandlerName, action, ev.ValueRepr,
		)
		if err != nil {
			return "", Error.Wrap(err)
		}
	}

	return runID, Error.Wrap(tx.Commit())
}

// EventRow is one persisted capture event.
type EventRow struct {
	Seq        int
	Kind       string
	DispatchID int64
	Effect     string
	Handler    string
	Action     string
	Value      string
}

// LoadRun returns the persisted events for a run in sequence order.
func (d *DB) LoadRun(runID string) ([]EventRow, error) {
	rows, err := d.db.Query(
		`SELECT seq, kind, dispatch_id, effect, handler, action, value
		 FROM events WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(&row.Seq, &row.Kind, &row.DispatchID, &row.Effect, &row.Handler, &row.Action, &row.Value); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, row)
	}
	return out, Error.Wrap(rows.Err())
}

// RunCount returns the number of stored runs.
func (d *DB) RunCount() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, Error.Wrap(err)
}
