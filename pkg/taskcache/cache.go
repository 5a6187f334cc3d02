// Package taskcache keeps the last known server copy of every task and
// overlays queued local edits on top of it.
package taskcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/surrealdb/surrealtodo/internal/codec"
	"github.com/surrealdb/surrealtodo/pkg/kv"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/remote"
)

// Lister reads every task from the server.
type Lister interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
}

// Fetcher reads one task from the server.
type Fetcher interface {
	FetchTask(ctx context.Context, id models.TaskID) (*models.Task, error)
}

type Cache struct {
	mu       sync.Mutex
	tasks    []models.Task
	lastSync time.Time

	tasksDoc *kv.Document[[]models.Task]
	syncDoc  *kv.Document[time.Time]

	log   logger.Logger
	now   func() time.Time
	codec codec.Codec
}

type Option func(*Cache)

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithCodec(cd codec.Codec) Option {
	return func(c *Cache) { c.codec = cd }
}

// Load restores the cached snapshot from store.
func Load(ctx context.Context, store kv.Store, opts ...Option) (*Cache, error) {
	c := &Cache{
		log: logger.Nop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tasksDoc = kv.NewDocument[[]models.Task](store, kv.KeyTasks, c.codec)
	c.syncDoc = kv.NewDocument[time.Time](store, kv.KeyLastSync, c.codec)

	tasks, _, err := c.tasksDoc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskcache: load: %w", err)
	}
	lastSync, _, err := c.syncDoc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskcache: load: %w", err)
	}
	c.tasks = tasks
	c.lastSync = lastSync
	return c, nil
}

func (c *Cache) index(id models.TaskID) int {
	return slices.IndexFunc(c.tasks, func(t models.Task) bool { return t.ID == id })
}

// Get returns the cached server copy of id.
func (c *Cache) Get(id models.TaskID) (*models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.index(id); i >= 0 {
		return c.tasks[i].Clone(), true
	}
	return nil, false
}

// All returns the cached tasks in server order.
func (c *Cache) All() []models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Task, len(c.tasks))
	for i := range c.tasks {
		out[i] = *c.tasks[i].Clone()
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// LastSync is the time of the last full refresh, zero if none happened.
func (c *Cache) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// ReplaceAll stores tasks as the new snapshot and stamps the sync time.
func (c *Cache) ReplaceAll(ctx context.Context, tasks []models.Task) error {
	next := make([]models.Task, len(tasks))
	for i := range tasks {
		next[i] = *tasks[i].Clone()
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tasksDoc.Save(ctx, next); err != nil {
		return fmt.Errorf("taskcache: persist: %w", err)
	}
	if err := c.syncDoc.Save(ctx, now); err != nil {
		return fmt.Errorf("taskcache: persist: %w", err)
	}
	c.tasks = next
	c.lastSync = now
	return nil
}

// Put inserts or replaces one task.
func (c *Cache) Put(ctx context.Context, t *models.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := slices.Clone(c.tasks)
	if i := c.index(t.ID); i >= 0 {
		next[i] = *t.Clone()
	} else {
		next = append(next, *t.Clone())
	}
	if err := c.tasksDoc.Save(ctx, next); err != nil {
		return fmt.Errorf("taskcache: persist: %w", err)
	}
	c.tasks = next
	return nil
}

// Remove drops id from the snapshot.
func (c *Cache) Remove(ctx context.Context, id models.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(id)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(c.tasks), i, i+1)
	if err := c.tasksDoc.Save(ctx, next); err != nil {
		return fmt.Errorf("taskcache: persist: %w", err)
	}
	c.tasks = next
	return nil
}

// ApplyMutation writes the value of an edit the server accepted into the
// cached copy, so later edits of the task start from it. Unknown tasks are
// left alone.
func (c *Cache) ApplyMutation(ctx context.Context, m models.PendingMutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(m.RecordID)
	if i < 0 || m.Payload == nil {
		return nil
	}
	next := slices.Clone(c.tasks)
	t := next[i].Clone()
	m.Payload.Apply(t)
	next[i] = *t
	if err := c.tasksDoc.Save(ctx, next); err != nil {
		return fmt.Errorf("taskcache: persist: %w", err)
	}
	c.tasks = next
	return nil
}

// Refresh replaces the snapshot with the server's task list.
func (c *Cache) Refresh(ctx context.Context, l Lister) ([]models.Task, error) {
	tasks, err := l.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskcache: refresh: %w", err)
	}
	if err := c.ReplaceAll(ctx, tasks); err != nil {
		return nil, err
	}
	c.log.Debug("task cache refreshed", "tasks", len(tasks))
	return c.All(), nil
}

// RefreshTask re-reads one task. A task missing on the server is dropped.
func (c *Cache) RefreshTask(ctx context.Context, f Fetcher, id models.TaskID) (*models.Task, error) {
	t, err := f.FetchTask(ctx, id)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return nil, c.Remove(ctx, id)
	case err != nil:
		return nil, fmt.Errorf("taskcache: refresh %s: %w", id, err)
	}
	if err := c.Put(ctx, t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}
