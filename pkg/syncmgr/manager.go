package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/conflict"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/netstate"
	"github.com/surrealdb/surrealtodo/pkg/queue"
	"github.com/surrealdb/surrealtodo/pkg/remote"
)

var (
	ErrOffline        = errors.New("syncmgr: offline")
	ErrSyncInProgress = errors.New("syncmgr: sync already in progress")
	// ErrDrainFailed is returned when no attempted mutation got through.
	ErrDrainFailed = errors.New("syncmgr: drain failed")
)

// Report counts the outcomes of one drain.
type Report struct {
	Attempted    int `json:"attempted" yaml:"attempted"`
	Applied      int `json:"applied" yaml:"applied"`
	Conflicts    int `json:"conflicts" yaml:"conflicts"`
	AutoResolved int `json:"auto_resolved" yaml:"auto_resolved"`
	Failed       int `json:"failed" yaml:"failed"`
	Parked       int `json:"parked" yaml:"parked"`
	// Deferred counts mutations skipped because their backoff has not elapsed
	// or they need attention.
	Deferred int `json:"deferred" yaml:"deferred"`

	Records []models.TaskID `json:"records,omitempty" yaml:"records,omitempty"`
}

func (r *Report) touch(id models.TaskID) {
	for _, v := range r.Records {
		if v == id {
			return
		}
	}
	r.Records = append(r.Records, id)
}

type Manager struct {
	queue     *queue.Queue
	conflicts *conflict.Store
	remote    remote.Client
	resolver  *conflict.Resolver

	monitor       netstate.Monitor
	retryer       Retryer
	policy        conflict.AutoPolicy
	retryInterval time.Duration
	onApplied     func(context.Context, models.PendingMutation)
	log           logger.Logger
	now           func() time.Time

	inFlight atomic.Bool

	mu      sync.Mutex
	lastErr error
	// accepted holds mutations the server took whose removal from the
	// queue failed. The next drain removes them without resending.
	accepted map[string]struct{}

	notifier
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMonitor lets SyncNow fail fast while offline.
func WithMonitor(mon netstate.Monitor) Option {
	return func(m *Manager) { m.monitor = mon }
}

func WithRetryer(r Retryer) Option {
	return func(m *Manager) { m.retryer = r }
}

// WithAutoPolicy settles matching conflicts as autoResolved during drains.
func WithAutoPolicy(p conflict.AutoPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithRetryInterval makes Run re-drain deferred mutations while online.
// Zero disables the periodic drain.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// OnApplied is called with every mutation the server accepted, before it
// leaves the queue.
func OnApplied(fn func(context.Context, models.PendingMutation)) Option {
	return func(m *Manager) { m.onApplied = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(q *queue.Queue, conflicts *conflict.Store, rc remote.Client, opts ...Option) *Manager {
	m := &Manager{
		queue:     q,
		conflicts: conflicts,
		remote:    rc,
		retryer:   NewExponentialBackoffRetryer(),
		policy:    conflict.NeverPolicy{},
		log:       logger.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
		accepted:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resolver = conflict.NewResolver(conflicts, rc,
		conflict.WithResolverLogger(m.log),
		conflict.OnResolved(func(c models.SyncConflict) {
			m.publish(Invalidation{
				Reason:  ReasonResolved,
				Records: []models.TaskID{c.Mutation.RecordID},
				At:      m.now(),
			})
		}),
	)
	return m
}

// Resolve settles a pending conflict and emits an invalidation on success.
func (m *Manager) Resolve(ctx context.Context, id string, res models.Resolution) (models.SyncConflict, error) {
	return m.resolver.Resolve(ctx, id, res)
}

// InFlight reports whether a drain is running.
func (m *Manager) InFlight() bool {
	return m.inFlight.Load()
}

func (m *Manager) offline() bool {
	return m.monitor != nil && m.monitor.State() == netstate.StateOffline
}

// SyncNow drains the queue on user request. It fails with ErrOffline while
// offline and ErrSyncInProgress while another drain runs, and does nothing
// when the queue is empty.
func (m *Manager) SyncNow(ctx context.Context) (Report, error) {
	if m.offline() {
		return Report{}, ErrOffline
	}
	if m.InFlight() {
		return Report{}, ErrSyncInProgress
	}
	if m.queue.Len() == 0 {
		return Report{}, nil
	}
	return m.Drain(ctx)
}

// Drain processes every due mutation once, in queue order.
func (m *Manager) Drain(ctx context.Context) (report Report, err error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return Report{}, ErrSyncInProgress
	}
	m.publish(Invalidation{Reason: ReasonStatus, At: m.now()})
	defer func() {
		m.setLastErr(err)
		m.inFlight.Store(false)
		if len(report.Records) > 0 {
			m.publish(Invalidation{Reason: ReasonDrained, Records: report.Records, At: m.now()})
		}
		m.publish(Invalidation{Reason: ReasonStatus, At: m.now()})
	}()

	start := m.now()
	m.log.Debug("drain started", "queue_length", m.queue.Len())

	report, err = m.drain(ctx)

	m.log.Info("drain finished",
		"attempted", report.Attempted,
		"applied", report.Applied,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
		"parked", report.Parked,
		"duration", m.now().Sub(start),
		"error", err,
	)
	return report, err
}

func (m *Manager) drain(ctx context.Context) (Report, error) {
	var (
		report  Report
		lastErr error
	)

	for _, mut := range m.queue.List() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !mut.Due(m.now()) {
			report.Deferred++
			continue
		}

		report.Attempted++
		applyErr, err := m.process(ctx, mut, &report)
		if err != nil {
			return report, err
		}
		if applyErr != nil {
			lastErr = applyErr
		}
	}

	if report.Attempted > 0 && report.Failed+report.Parked == report.Attempted {
		return report, fmt.Errorf("%w: %w", ErrDrainFailed, lastErr)
	}
	return report, nil
}

// process handles one mutation. applyErr is the remote failure that kept it
// queued; err is a local failure that aborts the drain.
func (m *Manager) process(ctx context.Context, mut models.PendingMutation, report *Report) (applyErr, err error) {
	if m.wasAccepted(mut.ID) {
		return nil, m.applied(ctx, mut, report)
	}

	server, fetchErr := m.remote.FetchTask(ctx, mut.RecordID)
	switch {
	case errors.Is(fetchErr, remote.ErrNotFound):
		server = nil
	case fetchErr != nil:
		return fetchErr, m.fail(ctx, mut, fetchErr, report)
	}

	if res := conflict.Detect(mut, server); res.Conflict {
		return nil, m.conflict(ctx, mut, server, res, report)
	}

	if err := m.remote.Apply(ctx, mut); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, m.conflict(ctx, mut, nil, conflict.Detect(mut, nil), report)
		}
		return err, m.fail(ctx, mut, err, report)
	}

	m.setAccepted(mut.ID, true)
	if m.onApplied != nil {
		m.onApplied(ctx, mut)
	}
	return nil, m.applied(ctx, mut, report)
}

// applied drops a mutation the server accepted.
func (m *Manager) applied(ctx context.Context, mut models.PendingMutation, report *Report) error {
	if err := m.queue.Remove(ctx, mut.ID); err != nil {
		return err
	}
	m.setAccepted(mut.ID, false)
	report.Applied++
	report.touch(mut.RecordID)
	m.log.Debug("mutation applied", "id", mut.ID, "record", mut.RecordID, "kind", mut.Kind)
	return nil
}

func (m *Manager) wasAccepted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accepted[id]
	return ok
}

func (m *Manager) setAccepted(id string, accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accepted {
		m.accepted[id] = struct{}{}
	} else {
		delete(m.accepted, id)
	}
}

// conflict records the conflict before dropping the mutation so a failed
// write never loses the local edit.
func (m *Manager) conflict(ctx context.Context, mut models.PendingMutation, server *models.Task, res conflict.Result, report *Report) error {
	c, err := m.conflicts.Add(ctx, mut, server, res)
	if err != nil {
		return err
	}
	if err := m.queue.Remove(ctx, mut.ID); err != nil {
		return err
	}
	report.Conflicts++
	report.touch(mut.RecordID)

	if m.policy.AutoResolve(mut, server) {
		if _, err := m.resolver.Resolve(ctx, c.ID, models.AutoResolved); err != nil {
			m.log.Warn("auto resolution failed", "conflict", c.ID, "error", err)
			return nil
		}
		report.AutoResolved++
	}
	return nil
}

// fail books a failed attempt: transient errors back off until the retry
// budget is spent, anything else parks the mutation at once. It returns
// ctx.Err() without booking anything once ctx is done.
func (m *Manager) fail(ctx context.Context, mut models.PendingMutation, cause error, report *Report) error {
	// A canceled drain leaves the mutation as it was.
	if err := ctx.Err(); err != nil {
		return err
	}
	if connection.IsTransient(cause) {
		if delay, ok := m.retryer.NextDelay(mut.RetryCount, cause); ok {
			next := m.now().Add(delay)
			if _, _, err := m.queue.IncrementRetryCount(ctx, mut.ID, cause, &next); err != nil {
				return err
			}
			report.Failed++
			m.log.Warn("mutation failed, will retry",
				"id", mut.ID, "record", mut.RecordID, "kind", mut.Kind,
				"retry_count", mut.RetryCount+1, "next_attempt", next, "error", cause)
			return nil
		}
	}

	if _, err := m.queue.MarkNeedsAttention(ctx, mut.ID, cause); err != nil {
		return err
	}
	report.Parked++
	m.log.Error("mutation needs attention",
		"id", mut.ID, "record", mut.RecordID, "kind", mut.Kind,
		"retry_count", mut.RetryCount, "error", cause)
	return nil
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Status derives the current sync status from the queue, the conflict
// store and the drain state.
func (m *Manager) Status() models.StatusReport {
	lastErr := m.LastError()
	qlen := m.queue.Len()
	pending := m.conflicts.Len()

	r := models.StatusReport{
		Status: models.DeriveStatus(models.StatusInputs{
			QueueLength:      qlen,
			PendingConflicts: pending,
			InFlight:         m.InFlight(),
			LastDrainFailed:  lastErr != nil,
		}),
		QueueLength:      qlen,
		PendingConflicts: pending,
		NeedsAttention:   m.queue.NeedsAttention(),
		PendingWork:      qlen > 0,
	}
	if lastErr != nil {
		r.LastError = lastErr.Error()
	}
	return r
}
