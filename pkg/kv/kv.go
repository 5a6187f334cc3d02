// Package kv is the durable key/value layer behind the mutation queue, the
// conflict store and the task cache.
//
// Stores replace whole blobs: a Put either stores the new value or leaves the
// previous one untouched.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("kv: key not found")

// Well-known keys.
const (
	KeyQueue     = "queue"
	KeyConflicts = "conflicts"
	KeyTasks     = "tasks"
	KeyLastSync  = "last_sync"
)

// Store reads and writes serialized blobs by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type prefixed struct {
	Store
	prefix string
}

// WithPrefix scopes every key of s under prefix, e.g. one namespace per
// account or workspace sharing a single database.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix + "/"}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Put(ctx context.Context, key string, value []byte) error {
	return p.Store.Put(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}
