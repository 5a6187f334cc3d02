package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
)

var (
	ErrInvalidResolution = errors.New("conflict: invalid resolution")
	// ErrReapplyFailed wraps the remote error of a failed keepLocal write.
	// The conflict stays pending.
	ErrReapplyFailed = errors.New("conflict: re-applying local change failed")
)

// Applier writes one mutation to the server.
type Applier interface {
	Apply(ctx context.Context, m models.PendingMutation) error
}

// Resolver serializes resolutions so a conflict is written back at most once.
type Resolver struct {
	mu sync.Mutex

	store      *Store
	remote     Applier
	log        logger.Logger
	onResolved []func(models.SyncConflict)
}

type ResolverOption func(*Resolver)

func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// OnResolved registers fn to run after every successful resolution.
func OnResolved(fn func(models.SyncConflict)) ResolverOption {
	return func(r *Resolver) { r.onResolved = append(r.onResolved, fn) }
}

func NewResolver(store *Store, remote Applier, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, remote: remote, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve settles the pending conflict id.
//
// KeepServer discards the local edit. KeepLocal writes the local edit to
// the server once, bypassing the queue, and resolves only if that write
// succeeds; otherwise the conflict stays pending and the error wraps
// ErrReapplyFailed. AutoResolved is a terminal marker set by policies.
func (r *Resolver) Resolve(ctx context.Context, id string, res models.Resolution) (models.SyncConflict, error) {
	if !res.Valid() {
		return models.SyncConflict{}, fmt.Errorf("%w: %q", ErrInvalidResolution, res)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.store.Get(id)
	if !ok {
		return models.SyncConflict{}, r.store.missing(id)
	}

	if res == models.KeepLocal {
		if err := r.remote.Apply(ctx, c.Mutation); err != nil {
			r.log.Warn("keeping local change failed", "conflict", id, "record", c.Mutation.RecordID, "err", err)
			return c, fmt.Errorf("%w: %w", ErrReapplyFailed, err)
		}
	}

	resolved, err := r.store.markResolved(ctx, id, res)
	if err != nil {
		return c, err
	}
	r.log.Info("conflict resolved", "conflict", id, "record", c.Mutation.RecordID, "resolution", res)
	for _, fn := range r.onResolved {
		fn(resolved)
	}
	return resolved, nil
}
