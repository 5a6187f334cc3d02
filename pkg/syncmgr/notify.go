package syncmgr

import (
	"sync"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/models"
)

// InvalidationReason tells subscribers why cached views are stale.
type InvalidationReason string

const (
	// ReasonDrained follows a drain that applied or moved mutations.
	ReasonDrained InvalidationReason = "drained"
	// ReasonReconnected follows every transition to online, even with an
	// empty queue, so server-side changes made while offline show up.
	ReasonReconnected InvalidationReason = "reconnected"
	// ReasonResolved follows a conflict resolution.
	ReasonResolved InvalidationReason = "resolved"
	// ReasonStatus only signals that the sync status may have changed.
	ReasonStatus InvalidationReason = "status"
)

// Invalidation asks the UI layer to refetch. Records is empty when every
// record may be affected.
type Invalidation struct {
	Reason  InvalidationReason `json:"reason"`
	Records []models.TaskID    `json:"records,omitempty"`
	At      time.Time          `json:"at"`
}

const subscriberBuffer = 16

// notifier fans invalidations out to subscribers without blocking; a
// subscriber that falls behind loses events.
type notifier struct {
	subMu sync.Mutex
	subs  map[chan Invalidation]struct{}
}

// Subscribe returns a channel of invalidations and a function that ends the
// subscription and closes the channel.
func (n *notifier) Subscribe() (<-chan Invalidation, func()) {
	ch := make(chan Invalidation, subscriberBuffer)

	n.subMu.Lock()
	if n.subs == nil {
		n.subs = make(map[chan Invalidation]struct{})
	}
	n.subs[ch] = struct{}{}
	n.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subMu.Lock()
			defer n.subMu.Unlock()
			delete(n.subs, ch)
			close(ch)
		})
	}
}

func (n *notifier) publish(inv Invalidation) {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- inv:
		default:
		}
	}
}
