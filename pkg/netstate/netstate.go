// Package netstate tracks whether the remote database is reachable.
package netstate

import (
	"sync"
)

type State int

const (
	StateUnknown State = iota
	StateOffline
	StateOnline
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateOffline:
		return "Offline"
	case StateOnline:
		return "Online"
	default:
		return "InvalidState"
	}
}

// Monitor reports reachability and its transitions.
type Monitor interface {
	State() State
	// Watch returns a channel receiving every state change after the call.
	// The returned function stops the subscription.
	Watch() (<-chan State, func())
}

// hub holds the current state and fans changes out to watchers.
// Slow watchers miss intermediate states but always see the latest one.
type hub struct {
	mu       sync.Mutex
	state    State
	watchers map[chan State]struct{}
}

func (h *hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *hub) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	h.mu.Lock()
	if h.watchers == nil {
		h.watchers = make(map[chan State]struct{})
	}
	h.watchers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.watchers, ch)
		})
	}
}

// set stores s and reports whether it changed.
func (h *hub) set(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == s {
		return false
	}
	h.state = s
	for ch := range h.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	return true
}

// Manual is a Monitor driven by the caller, e.g. from OS connectivity callbacks.
type Manual struct {
	hub
}

var _ Monitor = (*Manual)(nil)

func NewManual(initial State) *Manual {
	m := &Manual{}
	m.state = initial
	return m
}

// Set changes the state; watchers are notified only on change.
func (m *Manual) Set(s State) {
	m.set(s)
}

func (m *Manual) SetOnline(online bool) {
	if online {
		m.Set(StateOnline)
		return
	}
	m.Set(StateOffline)
}
