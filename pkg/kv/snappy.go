package kv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang/snappy"
)

// snappyMagic marks compressed blobs. It can not start a JSON or CBOR
// document written by an older, uncompressed store.
var snappyMagic = []byte{0xff, 's', 'n', 'p'}

type snappyStore struct {
	Store
}

// WithSnappy compresses blobs before they reach s. Blobs written without
// compression are still readable.
func WithSnappy(s Store) Store {
	return &snappyStore{Store: s}
}

func (s *snappyStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(raw, snappyMagic) {
		return raw, nil
	}
	out, err := snappy.Decode(nil, raw[len(snappyMagic):])
	if err != nil {
		return nil, fmt.Errorf("kv: decompress %q: %w", key, err)
	}
	return out, nil
}

func (s *snappyStore) Put(ctx context.Context, key string, value []byte) error {
	buf := make([]byte, len(snappyMagic), len(snappyMagic)+snappy.MaxEncodedLen(len(value)))
	copy(buf, snappyMagic)
	buf = append(buf, snappy.Encode(nil, value)...)
	return s.Store.Put(ctx, key, buf)
}
