// Package cache stores a local snapshot of the last fetched open tasks so they
// can be listed without reaching the server.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"caldavtasks/backend"
)

// ErrNoSnapshot is returned by LoadTasks when nothing was saved for a calendar.
var ErrNoSnapshot = errors.New("no offline snapshot")

// Key identifies the calendar a snapshot belongs to.
type Key struct {
	ServerURL string
	Username  string
	Calendar  string
}

// Store is a SQLite-backed task snapshot.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the snapshot database at path
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the snapshot tables if they don't exist
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			server_url TEXT NOT NULL,
			username TEXT NOT NULL,
			calendar_name TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (server_url, username, calendar_name)
		);

		CREATE TABLE IF NOT EXISTS snapshot_tasks (
			server_url TEXT NOT NULL,
			username TEXT NOT NULL,
			calendar_name TEXT NOT NULL,
			id TEXT NOT NULL,
			position INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (server_url, username, calendar_name, id)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTasks replaces the snapshot for key with tasks
func (s *Store) SaveTasks(ctx context.Context, key Key, tasks []backend.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_tasks WHERE server_url = ? AND username = ? AND calendar_name = ?`,
		key.ServerURL, key.Username, key.Calendar); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_tasks (server_url, username, calendar_name, id, position, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, key.ServerURL, key.Username, key.Calendar, t.ID, i, string(data)); err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (server_url, username, calendar_name, saved_at) VALUES (?, ?, ?, ?)`,
		key.ServerURL, key.Username, key.Calendar, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadTasks returns the tasks saved for key in their original order and the
// time they were saved.
func (s *Store) LoadTasks(ctx context.Context, key Key) ([]backend.Task, time.Time, error) {
	var savedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT saved_at FROM snapshots WHERE server_url = ? AND username = ? AND calendar_name = ?`,
		key.ServerURL, key.Username, key.Calendar).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM snapshot_tasks WHERE server_url = ? AND username = ? AND calendar_name = ? ORDER BY position`,
		key.ServerURL, key.Username, key.Calendar)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = rows.Close() }()

	tasks := []backend.Task{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, time.Time{}, err
		}
		var t backend.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, time.Time{}, fmt.Errorf("corrupt snapshot entry: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	return tasks, time.Unix(savedAt, 0), nil
}
