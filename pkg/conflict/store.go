package conflict

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

var (
	ErrConflictNotFound = errors.New("conflict: not found")
	ErrAlreadyResolved  = errors.New("conflict: already resolved")
)

// Store holds the pending conflicts. Resolved conflicts are pruned at once;
// only pending ones are persisted.
type Store struct {
	mu    sync.Mutex
	doc   *kv.Document[[]models.SyncConflict]
	items []models.SyncConflict
	// resolved remembers ids resolved by this process so a repeated
	// resolution is reported as such rather than as unknown.
	resolved map[string]struct{}

	log   logger.Logger
	now   func() time.Time
	codec codec.Codec
}

type StoreOption func(*Store)

func WithStoreLogger(l logger.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithStoreCodec(c codec.Codec) StoreOption {
	return func(s *Store) { s.codec = c }
}

// Load restores the pending conflicts persisted in store.
func Load(ctx context.Context, store kv.Store, opts ...StoreOption) (*Store, error) {
	s := &Store{
		resolved: make(map[string]struct{}),
		log:      logger.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.doc = kv.NewDocument[[]models.SyncConflict](store, kv.KeyConflicts, s.codec)

	items, _, err := s.doc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("conflict: load: %w", err)
	}
	s.items = slices.DeleteFunc(items, func(c models.SyncConflict) bool { return !c.IsPending() })
	return s, nil
}

// commit persists next and makes it current. The caller holds s.mu.
func (s *Store) commit(ctx context.Context, next []models.SyncConflict) error {
	if err := s.doc.Save(ctx, next); err != nil {
		return fmt.Errorf("conflict: persist: %w", err)
	}
	s.items = next
	return nil
}

// Add records a pending conflict for m against server as classified by res.
func (s *Store) Add(ctx context.Context, m models.PendingMutation, server *models.Task, res Result) (models.SyncConflict, error) {
	c := models.SyncConflict{
		ID:           models.NewID(),
		Mutation:     m.Clone(),
		ServerRecord: server.Clone(),
		DetectedAt:   s.now(),
		Status:       models.ConflictPending,
		Reason:       res.Reason,
		LocalChange:  res.LocalChange,
		ServerChange: res.ServerChange,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commit(ctx, append(slices.Clone(s.items), c)); err != nil {
		return models.SyncConflict{}, err
	}
	s.log.Info("conflict detected", "conflict", c.ID, "record", m.RecordID, "kind", m.Kind, "reason", c.Reason)
	return c.Clone(), nil
}

// markResolved moves a pending conflict to resolved and prunes it.
func (s *Store) markResolved(ctx context.Context, id string, r models.Resolution) (models.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.items, func(c models.SyncConflict) bool { return c.ID == id })
	if i < 0 {
		return models.SyncConflict{}, s.missingLocked(id)
	}

	c := s.items[i].Clone()
	if err := s.commit(ctx, slices.Delete(slices.Clone(s.items), i, i+1)); err != nil {
		return models.SyncConflict{}, err
	}
	s.resolved[id] = struct{}{}

	now := s.now()
	c.Status = models.ConflictResolved
	c.Resolution = &r
	c.ResolvedAt = &now
	return c, nil
}

// missing explains why id is not pending.
func (s *Store) missing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missingLocked(id)
}

func (s *Store) missingLocked(id string) error {
	if _, ok := s.resolved[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
}

// Pending returns the pending conflicts in detection order.
func (s *Store) Pending() []models.SyncConflict {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SyncConflict, len(s.items))
	for i, c := range s.items {
		out[i] = c.Clone()
	}
	return out
}

// Get returns a copy of the pending conflict with id.
func (s *Store) Get(id string) (models.SyncConflict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.items {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return models.SyncConflict{}, false
}

// Len counts pending conflicts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear drops every pending conflict without resolving it.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, nil)
}
