package syncmgr

import (
	"context"
	"errors"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/netstate"
)

// Run drains automatically until ctx is done. Every transition of mon to
// online drains once if the queue is not empty and always publishes a
// ReasonReconnected invalidation. With a retry interval set, deferred
// mutations are re-drained periodically while online.
func (m *Manager) Run(ctx context.Context, mon netstate.Monitor) {
	states, stop := mon.Watch()
	defer stop()

	var tick <-chan time.Time
	if m.retryInterval > 0 {
		ticker := time.NewTicker(m.retryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	prev := mon.State()
	if prev == netstate.StateOnline {
		m.onOnline(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-states:
			if s == netstate.StateOnline && prev != netstate.StateOnline {
				m.onOnline(ctx)
			}
			prev = s
		case <-tick:
			if prev == netstate.StateOnline && m.hasDueWork() {
				m.drainQuietly(ctx, "retry")
			}
		}
	}
}

func (m *Manager) onOnline(ctx context.Context) {
	m.log.Info("remote reachable", "queue_length", m.queue.Len())
	if m.queue.Len() > 0 {
		m.drainQuietly(ctx, "reconnect")
	}
	m.publish(Invalidation{Reason: ReasonReconnected, At: m.now()})
}

func (m *Manager) drainQuietly(ctx context.Context, trigger string) {
	_, err := m.Drain(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		m.log.Debug("drain skipped, another one is running", "trigger", trigger)
	default:
		m.log.Warn("automatic drain failed", "trigger", trigger, "error", err)
	}
}

func (m *Manager) hasDueWork() bool {
	now := m.now()
	for _, mut := range m.queue.List() {
		if mut.Due(now) {
			return true
		}
	}
	return false
}

// DismissError clears the error status left by the last failed drain.
func (m *Manager) DismissError() {
	m.setLastErr(nil)
	m.publish(Invalidation{Reason: ReasonStatus, At: m.now()})
}
