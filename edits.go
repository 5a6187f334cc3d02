package surrealtodo

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/models"
)

// Enqueue queues payload as an edit of task id. The edit is made against
// the cached server copy of the task, which must be known locally.
func (c *Client) Enqueue(ctx context.Context, id models.TaskID, payload models.Payload) (string, error) {
	original, ok := c.cache.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	mutationID, err := c.queue.Add(ctx, id, payload, original)
	if err != nil {
		return "", err
	}
	c.log.Debug("edit queued", "record", id, "kind", payload.Kind(), "mutation", mutationID)
	return mutationID, nil
}

func (c *Client) SetStatus(ctx context.Context, id models.TaskID, status string) (string, error) {
	return c.Enqueue(ctx, id, models.StatusPayload{Status: status})
}

func (c *Client) SetDone(ctx context.Context, id models.TaskID, done bool) (string, error) {
	return c.Enqueue(ctx, id, models.CheckboxPayload{Done: done})
}

func (c *Client) SetTitle(ctx context.Context, id models.TaskID, title string) (string, error) {
	return c.Enqueue(ctx, id, models.TitlePayload{Title: title})
}

// SetDoDate sets the do date; nil clears it.
func (c *Client) SetDoDate(ctx context.Context, id models.TaskID, date *time.Time) (string, error) {
	return c.Enqueue(ctx, id, models.DoDatePayload{Date: date})
}

func (c *Client) SetDueDate(ctx context.Context, id models.TaskID, date *time.Time) (string, error) {
	return c.Enqueue(ctx, id, models.DueDatePayload{Date: date})
}

func (c *Client) SetCompletedDate(ctx context.Context, id models.TaskID, date *time.Time) (string, error) {
	return c.Enqueue(ctx, id, models.CompletedDatePayload{Date: date})
}

func (c *Client) SetTaskType(ctx context.Context, id models.TaskID, value models.Property) (string, error) {
	return c.Enqueue(ctx, id, models.TaskTypePayload{Value: value})
}

func (c *Client) SetProject(ctx context.Context, id models.TaskID, value models.Property) (string, error) {
	return c.Enqueue(ctx, id, models.ProjectPayload{Value: value})
}

// SetURL sets the task URL; an empty string clears it.
func (c *Client) SetURL(ctx context.Context, id models.TaskID, url string) (string, error) {
	return c.Enqueue(ctx, id, models.URLPayload{URL: url})
}
