// Package remote applies queued edits to the remote document database and
// reads task records back from it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
)

// ErrNotFound is returned when the record does not exist on the server.
var ErrNotFound = errors.New("record not found")

// DefaultTable is the table tasks are stored in.
const DefaultTable = "task"

// Client is the remote side of the sync process.
type Client interface {
	// FetchTask returns the current server copy of id, or ErrNotFound.
	FetchTask(ctx context.Context, id models.TaskID) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	// Apply writes the field touched by m. It returns ErrNotFound when the
	// record was deleted.
	Apply(ctx context.Context, m models.PendingMutation) error
	Ping(ctx context.Context) error
}

type Option func(*DocumentClient)

func WithTable(table string) Option {
	return func(c *DocumentClient) { c.table = table }
}

// WithTimeout bounds every call; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *DocumentClient) { c.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(c *DocumentClient) { c.logger = l }
}

// DocumentClient implements Client with select and merge calls.
type DocumentClient struct {
	sender  connection.Sender
	table   string
	timeout time.Duration
	logger  logger.Logger
}

var _ Client = (*DocumentClient)(nil)

func NewDocumentClient(sender connection.Sender, opts ...Option) *DocumentClient {
	c := &DocumentClient{
		sender:  sender,
		table:   DefaultTable,
		timeout: connection.DefaultTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DocumentClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *DocumentClient) FetchTask(ctx context.Context, id models.TaskID) (*models.Task, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	var res connection.RPCResponse[*models.Task]
	if err := connection.Send(c.sender, ctx, &res, connection.MethodSelect, id.Thing(c.table)); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", id, err)
	}
	if res.Result == nil || *res.Result == nil {
		return nil, fmt.Errorf("fetching %s: %w", id, ErrNotFound)
	}
	t := *res.Result
	t.ID = id
	return t, nil
}

func (c *DocumentClient) ListTasks(ctx context.Context) ([]models.Task, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	var res connection.RPCResponse[[]rawTask]
	if err := connection.Send(c.sender, ctx, &res, connection.MethodSelect, c.table); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	if res.Result == nil {
		return nil, nil
	}
	tasks := make([]models.Task, 0, len(*res.Result))
	for _, r := range *res.Result {
		id, err := models.ParseThing(r.ID)
		if err != nil {
			c.logger.Warn("skipping task with invalid id", "id", r.ID, "error", err)
			continue
		}
		t := r.Task
		t.ID = id
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (c *DocumentClient) Apply(ctx context.Context, m models.PendingMutation) error {
	if err := models.ValidatePayload(m.Kind, m.Payload); err != nil {
		return err
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	var res connection.RPCResponse[*models.Task]
	if err := connection.Send(c.sender, ctx, &res, connection.MethodMerge, m.RecordID.Thing(c.table), Patch(m.Payload)); err != nil {
		return fmt.Errorf("applying %s to %s: %w", m.Kind, m.RecordID, err)
	}
	if res.Result == nil || *res.Result == nil {
		return fmt.Errorf("applying %s to %s: %w", m.Kind, m.RecordID, ErrNotFound)
	}
	c.logger.Debug("applied mutation", "id", m.ID, "record", m.RecordID, "kind", m.Kind)
	return nil
}

func (c *DocumentClient) Ping(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	_, err := c.sender.Send(ctx, connection.MethodPing)
	return err
}

// rawTask is a task row as listed, with the record id still in "table:id" form.
type rawTask struct {
	models.Task
	ID string `json:"id"`
}

// Patch returns the merge document writing the field touched by p.
func Patch(p models.Payload) map[string]any {
	switch v := p.(type) {
	case models.StatusPayload:
		return map[string]any{"status": v.Status}
	case models.CheckboxPayload:
		return map[string]any{"done": v.Done}
	case models.TitlePayload:
		return map[string]any{"title": v.Title}
	case models.DoDatePayload:
		return map[string]any{"do_date": v.Date}
	case models.DueDatePayload:
		return map[string]any{"due_date": v.Date}
	case models.CompletedDatePayload:
		return map[string]any{"completed_date": v.Date}
	case models.TaskTypePayload:
		return map[string]any{"task_type": v.Value}
	case models.ProjectPayload:
		return map[string]any{"project": v.Value}
	case models.URLPayload:
		return map[string]any{"url": v.URL}
	}
	panic(fmt.Sprintf("remote: unhandled payload %T", p))
}
