// ABOUTME: SQLite storage for taskd: tasks, idempotency keys and profiles per owner.
// ABOUTME: Tasks get integer ids from the database; fields are stored as a JSON object.

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var errNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner      TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_owner ON tasks(owner);
CREATE TABLE IF NOT EXISTS idempotency (
	owner      TEXT NOT NULL,
	key        TEXT NOT NULL,
	task_id    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (owner, key)
);
CREATE TABLE IF NOT EXISTS profiles (
	owner TEXT PRIMARY KEY,
	doc   TEXT NOT NULL
);
`

// task is the wire and storage form of one record.
type task struct {
	ID        int64          `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type profile struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type taskStore struct {
	db *sql.DB
}

func openTaskStore(path string) (*taskStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &taskStore{db: db}, nil
}

func (s *taskStore) Close() error { return s.db.Close() }

func (s *taskStore) list(ctx context.Context, owner string) ([]task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM tasks WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	items := []task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// create stores a task. A repeated idempotency key returns the task stored by
// the first request instead of creating another.
func (s *taskStore) create(ctx context.Context, owner, key string, fields map[string]any, createdAt time.Time) (task, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task{}, false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if key != "" {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT task_id FROM idempotency WHERE owner = ? AND key = ?`, owner, key).Scan(&id)
		switch {
		case err == nil:
			t, err := getTask(ctx, tx, owner, id)
			if err == nil {
				return t, true, nil
			}
			if !errors.Is(err, errNotFound) {
				return task{}, false, err
			}
			// Deleted since the first request; the key no longer dedupes.
			if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency WHERE owner = ? AND key = ?`, owner, key); err != nil {
				return task{}, false, err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return task{}, false, err
		}
	}

	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	if fields == nil {
		fields = map[string]any{}
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return task{}, false, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (owner, fields, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		owner, string(doc), createdAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return task{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return task{}, false, err
	}
	if key != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency (owner, key, task_id, created_at) VALUES (?, ?, ?, ?)`,
			owner, key, id, now.Unix()); err != nil {
			return task{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return task{}, false, err
	}
	return task{ID: id, Fields: fields, CreatedAt: time.UnixMilli(createdAt.UnixMilli()).UTC(), UpdatedAt: time.UnixMilli(now.UnixMilli()).UTC()}, false, nil
}

// update merges patch into the stored fields; a null value removes the field.
func (s *taskStore) update(ctx context.Context, owner string, id int64, patch map[string]any) (task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	t, err := getTask(ctx, tx, owner, id)
	if err != nil {
		return task{}, err
	}
	for k, v := range patch {
		if v == nil {
			delete(t.Fields, k)
			continue
		}
		t.Fields[k] = v
	}
	t.UpdatedAt = time.UnixMilli(time.Now().UnixMilli()).UTC()
	doc, err := json.Marshal(t.Fields)
	if err != nil {
		return task{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET fields = ?, updated_at = ? WHERE owner = ? AND id = ?`,
		string(doc), t.UpdatedAt.UnixMilli(), owner, id); err != nil {
		return task{}, err
	}
	return t, tx.Commit()
}

func (s *taskStore) delete(ctx context.Context, owner string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

func (s *taskStore) profile(ctx context.Context, owner string) (profile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE owner = ?`, owner).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return profile{ID: owner}, nil
	}
	if err != nil {
		return profile{}, err
	}
	var p profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return profile{}, err
	}
	p.ID = owner
	return p, nil
}

func (s *taskStore) putProfile(ctx context.Context, owner string, p profile) (profile, error) {
	p.ID = owner
	doc, err := json.Marshal(p)
	if err != nil {
		return profile{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (owner, doc) VALUES (?, ?) ON CONFLICT(owner) DO UPDATE SET doc = excluded.doc`,
		owner, string(doc))
	if err != nil {
		return profile{}, err
	}
	return p, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getTask(ctx context.Context, q queryer, owner string, id int64) (task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task{}, errNotFound
	}
	return t, err
}

func scanTask(sc scanner) (task, error) {
	var (
		t       task
		doc     string
		created int64
		updated int64
	)
	if err := sc.Scan(&t.ID, &doc, &created, &updated); err != nil {
		return task{}, err
	}
	if err := json.Unmarshal([]byte(doc), &t.Fields); err != nil {
		return task{}, fmt.Errorf("task %d: %w", t.ID, err)
	}
	if t.Fields == nil {
		t.Fields = map[string]any{}
	}
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return t, nil
}
