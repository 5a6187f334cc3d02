// Package queue holds the local edits that are not yet confirmed by the
// server.
//
// The queue keeps at most one mutation per (record, kind): a newer edit of
// the same field replaces the queued one in place. Every mutating operation
// writes the whole queue to the store first and only then updates memory,
// so a failed write never leaves memory ahead of disk.
package queue

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
)

// ErrInvalidMutation is returned when an edit is rejected before queueing.
var ErrInvalidMutation = errors.New("queue: invalid mutation")

// Queue is the ordered list of edits waiting for the server. Every change is
// persisted before it becomes visible.
type Queue struct {
	mu    sync.Mutex
	doc   *kv.Document[[]models.PendingMutation]
	items []models.PendingMutation

	log   logger.Logger
	now   func() time.Time
	codec codec.Codec
}

// Option configures a Queue in Load.
type Option func(*Queue)

func WithLogger(l logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithClock overrides time.Now for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithCodec selects the encoding of the persisted queue. JSON by default.
func WithCodec(c codec.Codec) Option {
	return func(q *Queue) { q.codec = c }
}

// Load restores the queue persisted in store.
func Load(ctx context.Context, store kv.Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		log: logger.Nop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	q.doc = kv.NewDocument[[]models.PendingMutation](store, kv.KeyQueue, q.codec)

	items, _, err := q.doc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	q.items = items
	q.log.Debug("queue loaded", "length", len(items))
	return q, nil
}

// commit persists next and makes it the current queue.
// The caller holds q.mu.
func (q *Queue) commit(ctx context.Context, next []models.PendingMutation) error {
	if err := q.doc.Save(ctx, next); err != nil {
		return fmt.Errorf("queue: persist: %w", err)
	}
	q.items = next
	return nil
}

func (q *Queue) indexOf(id string) int {
	return slices.IndexFunc(q.items, func(m models.PendingMutation) bool { return m.ID == id })
}

// Add queues an edit of record recordID and returns the new mutation id.
// original is the locally known task the edit was made against.
//
// A queued mutation of the same kind for the same record is replaced in
// place: the new one gets a fresh id, payload and creation time and a zero
// retry count, but keeps the earliest original record as its baseline.
func (q *Queue) Add(ctx context.Context, recordID models.TaskID, payload models.Payload, original *models.Task) (string, error) {
	if recordID.IsZero() {
		return "", fmt.Errorf("%w: empty record id", ErrInvalidMutation)
	}
	if payload == nil {
		return "", fmt.Errorf("%w: missing payload", ErrInvalidMutation)
	}
	if err := models.ValidatePayload(payload.Kind(), payload); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}
	if original == nil {
		return "", fmt.Errorf("%w: no local snapshot of %s", ErrInvalidMutation, recordID)
	}
	if original.ID != recordID {
		return "", fmt.Errorf("%w: snapshot of %s used for %s", ErrInvalidMutation, original.ID, recordID)
	}

	m := models.PendingMutation{
		ID:             models.NewID(),
		RecordID:       recordID,
		Kind:           payload.Kind(),
		Payload:        payload,
		CreatedAt:      q.now(),
		OriginalRecord: original.Clone(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := slices.Clone(q.items)
	i := slices.IndexFunc(next, func(e models.PendingMutation) bool {
		return e.RecordID == recordID && e.Kind == m.Kind
	})
	if i >= 0 {
		m.OriginalRecord = next[i].OriginalRecord
		q.log.Debug("coalescing mutation", "record", recordID, "kind", m.Kind, "replaced", next[i].ID)
		next[i] = m
	} else {
		next = append(next, m)
	}

	if err := q.commit(ctx, next); err != nil {
		return "", err
	}
	return m.ID, nil
}

// Remove drops the mutation with the given id. Unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return nil
	}
	return q.commit(ctx, slices.Delete(slices.Clone(q.items), i, i+1))
}

// update applies fn to a copy of the mutation with the given id and
// persists the result. found is false for unknown ids.
func (q *Queue) update(ctx context.Context, id string, fn func(m *models.PendingMutation)) (models.PendingMutation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return models.PendingMutation{}, false, nil
	}
	next := slices.Clone(q.items)
	m := next[i].Clone()
	fn(&m)
	next[i] = m
	if err := q.commit(ctx, next); err != nil {
		return models.PendingMutation{}, true, err
	}
	return m.Clone(), true, nil
}

// IncrementRetryCount records a failed apply attempt. nextAttempt, if set,
// holds the mutation back until that time.
func (q *Queue) IncrementRetryCount(ctx context.Context, id string, cause error, nextAttempt *time.Time) (models.PendingMutation, bool, error) {
	return q.update(ctx, id, func(m *models.PendingMutation) {
		m.RetryCount++
		if cause != nil {
			m.LastError = cause.Error()
		}
		m.NextAttemptAt = nextAttempt
	})
}

// MarkNeedsAttention parks a mutation whose retry budget is exhausted. It
// stays queued but drains skip it until Retry is called.
func (q *Queue) MarkNeedsAttention(ctx context.Context, id string, cause error) (bool, error) {
	_, found, err := q.update(ctx, id, func(m *models.PendingMutation) {
		m.NeedsAttention = true
		m.NextAttemptAt = nil
		if cause != nil {
			m.LastError = cause.Error()
		}
	})
	return found, err
}

// Retry makes a parked mutation eligible again with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	_, found, err := q.update(ctx, id, func(m *models.PendingMutation) {
		m.NeedsAttention = false
		m.NextAttemptAt = nil
		m.RetryCount = 0
	})
	return found, err
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.commit(ctx, nil)
}

// ForTask returns the queued mutations of one record, at most one per kind.
func (q *Queue) ForTask(recordID models.TaskID) []models.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.PendingMutation
	for _, m := range q.items {
		if m.RecordID == recordID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// List returns a snapshot of the queue in drain order.
func (q *Queue) List() []models.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingMutation, len(q.items))
	for i, m := range q.items {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the mutation with id.
func (q *Queue) Get(id string) (models.PendingMutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexOf(id); i >= 0 {
		return q.items[i].Clone(), true
	}
	return models.PendingMutation{}, false
}

// Len counts queued mutations, parked ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NeedsAttention counts parked mutations.
func (q *Queue) NeedsAttention() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, m := range q.items {
		if m.NeedsAttention {
			n++
		}
	}
	return n
}
