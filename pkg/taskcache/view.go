package taskcache

import "github.com/surrealdb/surrealtodo/pkg/models"

// Overlay returns t with every queued mutation of t applied in queue order.
func Overlay(t *models.Task, pending []models.PendingMutation) *models.Task {
	out := t.Clone()
	for _, m := range pending {
		if m.RecordID == out.ID && m.Payload != nil {
			m.Payload.Apply(out)
		}
	}
	return out
}

// View returns the cached tasks as the user sees them: the server copy with
// the queued local edits applied on top.
func (c *Cache) View(pending []models.PendingMutation) []models.Task {
	tasks := c.All()
	for i := range tasks {
		tasks[i] = *Overlay(&tasks[i], pending)
	}
	return tasks
}

// ViewTask is View for a single task.
func (c *Cache) ViewTask(id models.TaskID, pending []models.PendingMutation) (*models.Task, bool) {
	t, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	return Overlay(t, pending), true
}
