package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskmaster/domain"
)

// PostgresStore is a PostgreSQL-backed task store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and ensures the tasks table exists.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("missing postgres url")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL DEFAULT 'medium',
			category    TEXT NOT NULL DEFAULT 'General',
			due_date    TEXT,
			links       TEXT[] NOT NULL DEFAULT '{}',
			cover_image TEXT NOT NULL DEFAULT '',
			ai_summary  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`)
	return err
}

const pgTaskColumns = `id, title, description, status, priority, category, due_date, links, cover_image, ai_summary, created_at, updated_at`

func scanPgTask(row pgx.Row) (domain.Task, error) {
	var (
		t                domain.Task
		status, priority string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.Category, &t.DueDate, &t.Links, &t.CoverImage, &t.AISummary, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if len(t.Links) == 0 {
		t.Links = nil
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTaskColumns+` FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, t domain.Task) error {
	links := t.Links
	if links == nil {
		links = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+pgTaskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Category, t.DueDate,
		links, t.CoverImage, t.AISummary, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTask locks the row, merges the patch and writes it back.
func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cur, err := scanPgTask(tx.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task %s: %w", id, err)
	}
	t := mergeTask(cur, patch, now)
	links := t.Links
	if links == nil {
		links = []string{}
	}
	_, err = tx.Exec(ctx, `
		UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4, category = $5,
			due_date = $6, links = $7, cover_image = $8, ai_summary = $9, updated_at = $10
		WHERE id = $11`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.Category,
		t.DueDate, links, t.CoverImage, t.AISummary, t.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
