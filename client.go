package surrealtodo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/surrealtodo/internal/codec"
	"github.com/surrealdb/surrealtodo/pkg/conflict"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/kv"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/netstate"
	"github.com/surrealdb/surrealtodo/pkg/queue"
	"github.com/surrealdb/surrealtodo/pkg/remote"
	"github.com/surrealdb/surrealtodo/pkg/syncmgr"
	"github.com/surrealdb/surrealtodo/pkg/taskcache"
)

// Options configure a Client. Store and Remote are required.
type Options struct {
	Store  kv.Store
	Remote remote.Client
	// Sender, when set, is closed together with the Client.
	Sender connection.Sender

	// Monitor reports reachability. Nil probes Remote with Ping.
	Monitor netstate.Monitor
	// ProbeInterval is the ping interval of the default monitor.
	ProbeInterval time.Duration

	// Codec encodes persisted collections. Nil means JSON.
	Codec codec.Codec

	Retryer       syncmgr.Retryer
	AutoPolicy    conflict.AutoPolicy
	RetryInterval time.Duration

	Logger logger.Logger
}

// Client is the UI-facing surface: edits, sync, conflicts and status.
type Client struct {
	store   kv.Store
	remote  remote.Client
	sender  connection.Sender
	monitor netstate.Monitor
	prober  *netstate.Prober

	queue     *queue.Queue
	conflicts *conflict.Store
	cache     *taskcache.Cache
	mgr       *syncmgr.Manager

	log logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New loads the persisted queue, conflicts and task snapshot from
// opts.Store and wires the sync manager.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, errors.New("surrealtodo: store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("surrealtodo: remote is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	q, err := queue.Load(ctx, opts.Store, queue.WithLogger(log), queue.WithCodec(opts.Codec))
	if err != nil {
		return nil, err
	}
	cs, err := conflict.Load(ctx, opts.Store, conflict.WithStoreLogger(log), conflict.WithStoreCodec(opts.Codec))
	if err != nil {
		return nil, err
	}
	cache, err := taskcache.Load(ctx, opts.Store, taskcache.WithLogger(log), taskcache.WithCodec(opts.Codec))
	if err != nil {
		return nil, err
	}

	c := &Client{
		store:     opts.Store,
		remote:    opts.Remote,
		sender:    opts.Sender,
		monitor:   opts.Monitor,
		queue:     q,
		conflicts: cs,
		cache:     cache,
		log:       log,
	}
	if c.monitor == nil {
		c.prober = netstate.NewProber(opts.Remote, log)
		if opts.ProbeInterval > 0 {
			c.prober.CheckInterval = opts.ProbeInterval
		}
		c.monitor = c.prober
	}

	mgrOpts := []syncmgr.Option{
		syncmgr.WithLogger(log),
		syncmgr.WithMonitor(c.monitor),
		syncmgr.WithRetryInterval(opts.RetryInterval),
		syncmgr.OnApplied(c.applied),
	}
	if opts.Retryer != nil {
		mgrOpts = append(mgrOpts, syncmgr.WithRetryer(opts.Retryer))
	}
	if opts.AutoPolicy != nil {
		mgrOpts = append(mgrOpts, syncmgr.WithAutoPolicy(opts.AutoPolicy))
	}
	c.mgr = syncmgr.New(q, cs, opts.Remote, mgrOpts...)

	log.Debug("surrealtodo client loaded",
		"tasks", cache.Len(), "queue_length", q.Len(), "conflicts", cs.Len())
	return c, nil
}

// Start runs reachability probing, automatic drains and cache refreshes in
// the background until Close is called or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	invalidations, stop := c.mgr.Subscribe()

	if c.prober != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.prober.Run(ctx)
		}()
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.mgr.Run(ctx, c.monitor)
	}()
	go func() {
		defer c.wg.Done()
		defer stop()
		c.watch(ctx, invalidations)
	}()
	return nil
}

// watch keeps the task cache in step with the server after reconnects and
// background drains.
func (c *Client) watch(ctx context.Context, invalidations <-chan syncmgr.Invalidation) {
	for {
		select {
		case <-ctx.Done():
			return
		case inv, ok := <-invalidations:
			if !ok {
				return
			}
			switch inv.Reason {
			case syncmgr.ReasonReconnected:
				if _, err := c.Refresh(ctx); err != nil {
					c.log.Warn("refreshing tasks after reconnect failed", "error", err)
				}
			case syncmgr.ReasonDrained:
				c.refreshRecords(ctx, inv.Records)
			}
		}
	}
}

// applied moves an accepted edit into the cached server copy, so an edit
// queued right after a drain is checked against the value it replaced.
func (c *Client) applied(ctx context.Context, m models.PendingMutation) {
	if err := c.cache.ApplyMutation(ctx, m); err != nil {
		c.log.Warn("updating cached task failed", "record", m.RecordID, "error", err)
	}
}

// Close stops background work and releases the store and the transport.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	var errs []error
	if c.sender != nil {
		errs = append(errs, c.sender.Close(ctx))
	}
	errs = append(errs, c.store.Close())
	return errors.Join(errs...)
}

// Subscribe delivers invalidations: after drains, resolutions and
// reconnects, the UI should refetch what it shows.
func (c *Client) Subscribe() (<-chan syncmgr.Invalidation, func()) {
	return c.mgr.Subscribe()
}

// SyncNow drains the queue. It fails with syncmgr.ErrOffline when offline
// and syncmgr.ErrSyncInProgress when a drain is running.
func (c *Client) SyncNow(ctx context.Context) (syncmgr.Report, error) {
	report, err := c.mgr.SyncNow(ctx)
	c.refreshRecords(ctx, report.Records)
	return report, err
}

// ResolveConflict settles a pending conflict with keepLocal or keepServer.
func (c *Client) ResolveConflict(ctx context.Context, id string, res models.Resolution) (models.SyncConflict, error) {
	if res != models.KeepLocal && res != models.KeepServer {
		return models.SyncConflict{}, fmt.Errorf("%w: %q is not a user resolution", conflict.ErrInvalidResolution, res)
	}
	resolved, err := c.mgr.Resolve(ctx, id, res)
	if err != nil {
		return resolved, err
	}
	c.refreshRecords(ctx, []models.TaskID{resolved.Mutation.RecordID})
	return resolved, nil
}

// refreshRecords re-reads touched tasks into the cache. Failures only
// leave the cache stale until the next refresh.
func (c *Client) refreshRecords(ctx context.Context, ids []models.TaskID) {
	for _, id := range ids {
		if _, err := c.cache.RefreshTask(ctx, c.remote, id); err != nil {
			c.log.Debug("refreshing task failed", "record", id, "error", err)
		}
	}
}

// RetryMutation makes a mutation that needs attention eligible again.
func (c *Client) RetryMutation(ctx context.Context, id string) (bool, error) {
	return c.queue.Retry(ctx, id)
}

// DiscardMutation drops a queued edit.
func (c *Client) DiscardMutation(ctx context.Context, id string) error {
	return c.queue.Remove(ctx, id)
}

// ClearQueue drops every queued edit.
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.queue.Clear(ctx)
}

func (c *Client) PendingCount() int { return c.queue.Len() }

func (c *Client) PendingForTask(id models.TaskID) []models.PendingMutation {
	return c.queue.ForTask(id)
}

func (c *Client) Mutations() []models.PendingMutation { return c.queue.List() }

func (c *Client) Conflicts() []models.SyncConflict { return c.conflicts.Pending() }

func (c *Client) Conflict(id string) (models.SyncConflict, bool) { return c.conflicts.Get(id) }

func (c *Client) ConflictCount() int { return c.conflicts.Len() }

// Status is derived from the current queue, conflicts and drain state.
func (c *Client) Status() models.StatusReport { return c.mgr.Status() }

// DismissError clears an error status left by a failed drain.
func (c *Client) DismissError() { c.mgr.DismissError() }

// Online reports the last known reachability.
func (c *Client) Online() netstate.State { return c.monitor.State() }

// Probe checks reachability now when the Client probes on its own, and
// otherwise returns the monitor's state.
func (c *Client) Probe(ctx context.Context) netstate.State {
	if c.prober == nil {
		return c.monitor.State()
	}
	return c.prober.Probe(ctx)
}

// Tasks returns the cached tasks with queued edits applied.
func (c *Client) Tasks() []models.Task {
	return c.cache.View(c.queue.List())
}

// Task returns one cached task with its queued edits applied.
func (c *Client) Task(id models.TaskID) (*models.Task, bool) {
	return c.cache.ViewTask(id, c.queue.ForTask(id))
}

// LastSync is the time of the last full refresh of the task cache.
func (c *Client) LastSync() time.Time { return c.cache.LastSync() }

// Refresh replaces the task cache with the server's tasks.
func (c *Client) Refresh(ctx context.Context) ([]models.Task, error) {
	if _, err := c.cache.Refresh(ctx, c.remote); err != nil {
		return nil, err
	}
	return c.Tasks(), nil
}
