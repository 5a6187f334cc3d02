package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealtodo/internal/codec"
)

// Document is a typed value stored under one key.
type Document[T any] struct {
	store Store
	key   string
	codec codec.Codec
}

// NewDocument binds key of s to values of type T encoded with c.
// A nil codec selects JSON.
func NewDocument[T any](s Store, key string, c codec.Codec) *Document[T] {
	if c == nil {
		c = codec.JSON{}
	}
	return &Document[T]{store: s, key: key, codec: c}
}

func (d *Document[T]) Key() string { return d.key }

// Load decodes the stored value. found is false when nothing was stored yet.
func (d *Document[T]) Load(ctx context.Context) (v T, found bool, err error) {
	raw, err := d.store.Get(ctx, d.key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("kv: read %q: %w", d.key, err)
	}
	if err := d.codec.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("kv: decode %q: %w", d.key, err)
	}
	return v, true, nil
}

// Save replaces the stored value with v.
func (d *Document[T]) Save(ctx context.Context, v T) error {
	raw, err := d.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", d.key, err)
	}
	if err := d.store.Put(ctx, d.key, raw); err != nil {
		return fmt.Errorf("kv: write %q: %w", d.key, err)
	}
	return nil
}

func (d *Document[T]) Delete(ctx context.Context) error {
	return d.store.Delete(ctx, d.key)
}
