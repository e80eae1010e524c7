package storage

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

	"taskmaster/domain"
)

// SQLiteStore keeps tasks in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(".", "data", "taskmaster.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		category TEXT NOT NULL DEFAULT 'General',
		due_date TEXT,
		links TEXT NOT NULL DEFAULT '[]',
		cover_image TEXT NOT NULL DEFAULT '',
		ai_summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

const sqliteTaskColumns = `id, title, description, status, priority, category, due_date, links, cover_image, ai_summary, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(row rowScanner) (domain.Task, error) {
	var (
		t                    domain.Task
		status, priority     string
		dueDate              sql.NullString
		links                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.Category, &dueDate, &links, &t.CoverImage, &t.AISummary, &createdAt, &updatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if dueDate.Valid {
		d := dueDate.String
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(links), &t.Links); err != nil {
		return domain.Task{}, fmt.Errorf("decode links: %w", err)
	}
	if len(t.Links) == 0 {
		t.Links = nil
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return t, nil
}

func encodeLinks(links []string) (string, error) {
	if links == nil {
		links = []string{}
	}
	b, err := json.Marshal(links)
	return string(b), err
}

func nullableDate(d *string) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *d, Valid: true}
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanSQLiteTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) InsertTask(ctx context.Context, t domain.Task) error {
	links, err := encodeLinks(t.Links)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+sqliteTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Category, nullableDate(t.DueDate),
		links, t.CoverImage, t.AISummary, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask reads, merges and writes the task inside one transaction.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := scanSQLiteTask(tx.QueryRowContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	t := mergeTask(cur, patch, now)
	links, err := encodeLinks(t.Links)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, category = ?, due_date = ?, links = ?, cover_image = ?, ai_summary = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.Category, nullableDate(t.DueDate),
		links, t.CoverImage, t.AISummary, t.UpdatedAt.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
