// Package archive persists terminal task runs and their event logs to
// SQLite. The in-memory maps remain authoritative for live runs; the
// archive is append-only and written once, on the terminal transition.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Store manages run and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL,
			template    TEXT NOT NULL,
			instruction TEXT NOT NULL,
			state       TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			start_time  DATETIME NOT NULL,
			archived_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_task_id
			ON runs(task_id);

		CREATE TABLE IF NOT EXISTS run_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id    TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			stage     TEXT NOT NULL,
			message   TEXT NOT NULL DEFAULT '',
			data      TEXT NOT NULL DEFAULT '{}',
			timestamp DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);

		CREATE INDEX IF NOT EXISTS idx_run_events_run_id
			ON run_events(run_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveRun writes one terminal run and its complete event log.
func (s *Store) ArchiveRun(run *model.TaskRun, events []*model.TaskEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO runs
			(run_id, task_id, template, instruction, state, error, start_time, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TaskID, string(run.Template), run.Instruction,
		string(run.State), run.Error, run.StartTime, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, e := range events {
		data, merr := json.Marshal(e.Data)
		if merr != nil {
			data = []byte("{}")
		}
		_, err = tx.Exec(
			`INSERT INTO run_events (run_id, iteration, stage, message, data, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.RunID, e.Iteration, string(e.Stage), e.Message, string(data), e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("inserting event %d: %w", e.Iteration, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves the most recently archived run for a task, with its
// event log.
func (s *Store) GetRun(taskID string) (*model.TaskRun, []*model.TaskEvent, error) {
	row := s.db.QueryRow(
		`SELECT run_id, task_id, template, instruction, state, error, start_time
		 FROM runs WHERE task_id = ?
		 ORDER BY archived_at DESC LIMIT 1`, taskID,
	)
	run := &model.TaskRun{}
	var template, state string
	err := row.Scan(&run.RunID, &run.TaskID, &template, &run.Instruction,
		&state, &run.Error, &run.StartTime)
	if err != nil {
		return nil, nil, err
	}
	run.Template = model.Template(template)
	run.State = model.State(state)

	rows, err := s.db.Query(
		`SELECT run_id, iteration, stage, message, data, timestamp
		 FROM run_events WHERE run_id = ?
		 ORDER BY iteration ASC`, run.RunID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var events []*model.TaskEvent
	for rows.Next() {
		e := &model.TaskEvent{TaskID: run.TaskID}
		var stage, data string
		if err := rows.Scan(&e.RunID, &e.Iteration, &stage, &e.Message, &data, &e.Timestamp); err != nil {
			return nil, nil, err
		}
		e.Stage = model.State(stage)
		if data != "" {
			_ = json.Unmarshal([]byte(data), &e.Data)
		}
		events = append(events, e)
	}
	return run, events, rows.Err()
}
