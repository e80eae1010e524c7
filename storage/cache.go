package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskmaster/domain"
)

// Cache wraps a Backend with a Redis-backed copy of the task list. Every
// write evicts the cached list.
type Cache struct {
	base    Backend
	redis   *redis.Client
	ttl     time.Duration
	boardID string
}

// NewCache creates a caching Backend using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, boardID string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if boardID == "" {
		boardID = "default"
	}
	return &Cache{base: base, redis: client, ttl: ttl, boardID: boardID}
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	err := c.base.InsertTask(ctx, t)
	c.evict(ctx)
	return err
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, now time.Time) error {
	err := c.base.UpdateTask(ctx, id, patch, now)
	c.evict(ctx)
	return err
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	err := c.base.DeleteTask(ctx, id)
	c.evict(ctx)
	return err
}

func (c *Cache) loadTasks(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.tasksKey()).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, c.tasksKey()).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, c.tasksKey()).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.tasksKey(), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.tasksKey()).Err()
}

func (c *Cache) tasksKey() string {
	return "tasks:" + c.boardID
}
