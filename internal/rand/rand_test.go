package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		id := NewRequestID(RequestIDLength)
		assert.Len(t, id, RequestIDLength)
		for _, c := range id {
			assert.True(t, strings.ContainsRune(charset, c))
		}
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)

	assert.Len(t, NewRequestID(3), 3)
}
