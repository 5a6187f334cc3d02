package syncmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealtodo/internal/testenv"
	"github.com/surrealdb/surrealtodo/pkg/conflict"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/kv"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/netstate"
	"github.com/surrealdb/surrealtodo/pkg/queue"
	"github.com/surrealdb/surrealtodo/pkg/remote"
)

// memRemote is an in-memory remote.Client with scripted failures.
type memRemote struct {
	mu       sync.Mutex
	tasks    map[models.TaskID]*models.Task
	fetchErr map[models.TaskID]error
	applyErr map[models.TaskID]error
	fetched  []models.TaskID
	applied  []models.PendingMutation

	// block, when set, holds every fetch until it is closed.
	block chan struct{}
}

var _ remote.Client = (*memRemote)(nil)

func newMemRemote(tasks ...*models.Task) *memRemote {
	r := &memRemote{
		tasks:    make(map[models.TaskID]*models.Task),
		fetchErr: make(map[models.TaskID]error),
		applyErr: make(map[models.TaskID]error),
	}
	for _, t := range tasks {
		r.tasks[t.ID] = t.Clone()
	}
	return r
}

func (r *memRemote) FetchTask(ctx context.Context, id models.TaskID) (*models.Task, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, id)
	if err := r.fetchErr[id]; err != nil {
		return nil, err
	}
	t, ok := r.tasks[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *memRemote) ListTasks(context.Context) ([]models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t.Clone())
	}
	return out, nil
}

func (r *memRemote) Apply(_ context.Context, m models.PendingMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, m)
	if err := r.applyErr[m.RecordID]; err != nil {
		return err
	}
	t, ok := r.tasks[m.RecordID]
	if !ok {
		return remote.ErrNotFound
	}
	m.Payload.Apply(t)
	return nil
}

func (r *memRemote) Ping(context.Context) error { return nil }

func (r *memRemote) appliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func (r *memRemote) fetchedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fetched)
}

func (r *memRemote) task(id models.TaskID) *models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id].Clone()
}

type fixture struct {
	store     kv.Store
	queue     *queue.Queue
	conflicts *conflict.Store
	remote    *memRemote
	mgr       *Manager
}

func newFixture(t *testing.T, rc *memRemote, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := kv.NewMemory()

	q, err := queue.Load(ctx, store)
	require.NoError(t, err)
	cs, err := conflict.Load(ctx, store)
	require.NoError(t, err)

	return &fixture{
		store:     store,
		queue:     q,
		conflicts: cs,
		remote:    rc,
		mgr:       New(q, cs, rc, opts...),
	}
}

func (f *fixture) enqueue(t *testing.T, original *models.Task, p models.Payload) string {
	t.Helper()
	id, err := f.queue.Add(context.Background(), original.ID, p, original)
	require.NoError(t, err)
	return id
}

func waitFor(t *testing.T, ch <-chan Invalidation, reason InvalidationReason) Invalidation {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case inv := <-ch:
			if inv.Reason == reason {
				return inv
			}
		case <-timeout:
			t.Fatalf("no %s invalidation", reason)
			return Invalidation{}
		}
	}
}

func TestDrainAppliesAndDetectsConflicts(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one", Status: "Todo"}
	task2 := &models.Task{ID: "task2", Title: "Old title", Status: "Todo"}

	serverTask2 := task2.Clone()
	serverTask2.Title = "Renamed elsewhere"
	f := newFixture(t, newMemRemote(task1, serverTask2))

	f.enqueue(t, task1, models.StatusPayload{Status: "Done"})
	f.enqueue(t, task2, models.TitlePayload{Title: "New title"})

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Conflicts)
	assert.ElementsMatch(t, []models.TaskID{"task1", "task2"}, report.Records)

	assert.Equal(t, 0, f.queue.Len())
	require.Equal(t, 1, f.conflicts.Len())
	assert.Equal(t, "Done", f.remote.task("task1").Status)
	assert.Equal(t, "Renamed elsewhere", f.remote.task("task2").Title)
	assert.Equal(t, 1, f.remote.appliedCount())

	c := f.conflicts.Pending()[0]
	assert.Equal(t, models.TaskID("task2"), c.Mutation.RecordID)
	assert.Equal(t, models.ReasonDiverged, c.Reason)
	assert.Contains(t, c.LocalChange, "New title")
	assert.Contains(t, c.ServerChange, "Renamed elsewhere")

	status := f.mgr.Status()
	assert.Equal(t, models.StatusHasConflicts, status.Status)
	assert.False(t, status.PendingWork)
}

func TestDrainIsIdempotent(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	f := newFixture(t, newMemRemote(task1))
	f.enqueue(t, task1, models.CheckboxPayload{Done: true})

	_, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	applied := f.remote.appliedCount()

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Equal(t, applied, f.remote.appliedCount())
	assert.Equal(t, 0, f.conflicts.Len())
	assert.Equal(t, models.StatusIdle, f.mgr.Status().Status)
}

func TestDrainKeepsTransientFailuresQueued(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	task2 := &models.Task{ID: "task2", Title: "two"}
	rc := newMemRemote(task1, task2)
	rc.applyErr["task1"] = connection.ErrTimeout

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, rc,
		WithClock(func() time.Time { return now }),
		WithRetryer(NewFixedDelayRetryer(time.Minute, 5)),
	)
	id := f.enqueue(t, task1, models.TitlePayload{Title: "one!"})
	f.enqueue(t, task2, models.TitlePayload{Title: "two!"})

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Applied)

	m, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, m.RetryCount)
	assert.Equal(t, connection.ErrTimeout.Error(), m.LastError)
	require.NotNil(t, m.NextAttemptAt)
	assert.Equal(t, now.Add(time.Minute), *m.NextAttemptAt)

	// Backoff not elapsed yet.
	report, err = f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, report.Attempted)

	status := f.mgr.Status()
	assert.Equal(t, models.StatusIdle, status.Status)
	assert.True(t, status.PendingWork)
}

func TestDrainFailureSetsErrorStatus(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	rc := newMemRemote(task1)
	rc.fetchErr["task1"] = connection.ErrClosed
	f := newFixture(t, rc)
	f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	_, err := f.mgr.Drain(context.Background())
	require.ErrorIs(t, err, ErrDrainFailed)
	require.ErrorIs(t, err, connection.ErrClosed)
	assert.False(t, f.mgr.InFlight())

	status := f.mgr.Status()
	assert.Equal(t, models.StatusError, status.Status)
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, 1, status.QueueLength)

	f.mgr.DismissError()
	assert.Equal(t, models.StatusIdle, f.mgr.Status().Status)
}

func TestDrainParksAfterRetryBudget(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	rc := newMemRemote(task1)
	rc.applyErr["task1"] = &connection.HTTPError{StatusCode: 503}
	f := newFixture(t, rc, WithRetryer(NewFixedDelayRetryer(0, 2)))
	id := f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	for range 2 {
		report, err := f.mgr.Drain(context.Background())
		require.ErrorIs(t, err, ErrDrainFailed)
		assert.Equal(t, 1, report.Failed)
	}

	report, err := f.mgr.Drain(context.Background())
	require.ErrorIs(t, err, ErrDrainFailed)
	assert.Equal(t, 1, report.Parked)

	m, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.True(t, m.NeedsAttention)
	assert.Equal(t, 1, f.mgr.Status().NeedsAttention)

	report, err = f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)

	rc.mu.Lock()
	delete(rc.applyErr, "task1")
	rc.mu.Unlock()
	_, err = f.queue.Retry(context.Background(), id)
	require.NoError(t, err)

	report, err = f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, f.queue.Len())
}

func TestDrainParksPermanentFailures(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	rc := newMemRemote(task1)
	rc.applyErr["task1"] = &connection.RPCError{Code: connection.CodeInvalidParams, Message: "bad"}
	f := newFixture(t, rc)
	f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	report, err := f.mgr.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.Parked)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, f.queue.NeedsAttention())
}

func TestDrainDeletedRecordIsConflict(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	f := newFixture(t, newMemRemote())
	f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	c := f.conflicts.Pending()[0]
	assert.Equal(t, models.ReasonDeleted, c.Reason)
	assert.Nil(t, c.ServerRecord)
	assert.Zero(t, f.remote.appliedCount())
}

func TestDrainAutoPolicy(t *testing.T) {
	local := &models.Task{ID: "task1", Status: "Todo"}
	server := local.Clone()
	server.Status = "Done"

	f := newFixture(t, newMemRemote(server), WithAutoPolicy(conflict.SameValuePolicy{}))
	ch, stop := f.mgr.Subscribe()
	defer stop()
	f.enqueue(t, local, models.StatusPayload{Status: "Done"})

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.AutoResolved)
	assert.Equal(t, 0, f.conflicts.Len())
	assert.Equal(t, 0, f.queue.Len())
	assert.Zero(t, f.remote.appliedCount())

	inv := waitFor(t, ch, ReasonResolved)
	assert.Equal(t, []models.TaskID{"task1"}, inv.Records)
}

func TestDrainAbortsOnPersistenceFailure(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	f := newFixture(t, newMemRemote(task1))

	failing := &failingStore{Store: f.store}
	q, err := queue.Load(context.Background(), failing)
	require.NoError(t, err)
	_, err = q.Add(context.Background(), "task1", models.TitlePayload{Title: "x"}, task1)
	require.NoError(t, err)
	mgr := New(q, f.conflicts, f.remote)

	failing.fail = true
	_, err = mgr.Drain(context.Background())
	require.ErrorIs(t, err, errDiskFull)
	assert.False(t, mgr.InFlight())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, models.StatusError, mgr.Status().Status)
}

func TestDrainFinishesAcceptedMutationAfterRemoveFailure(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	f := newFixture(t, newMemRemote(task1))

	failing := &failingStore{Store: f.store}
	q, err := queue.Load(context.Background(), failing)
	require.NoError(t, err)
	_, err = q.Add(context.Background(), "task1", models.TitlePayload{Title: "x"}, task1)
	require.NoError(t, err)
	mgr := New(q, f.conflicts, f.remote)

	failing.fail = true
	_, err = mgr.Drain(context.Background())
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, f.remote.appliedCount())
	assert.Equal(t, "x", f.remote.task("task1").Title)

	failing.fail = false
	report, err := mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Conflicts)
	assert.Zero(t, f.conflicts.Len())
	assert.Zero(t, q.Len())
	assert.Equal(t, 1, f.remote.appliedCount())
}

func TestDrainCanceledLeavesMutationUntouched(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	rc := newMemRemote(task1)
	rc.block = make(chan struct{})
	f := newFixture(t, rc, WithRetryer(NewFixedDelayRetryer(0, 0)))
	id := f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	report, err := f.mgr.Drain(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Parked)

	mut, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Zero(t, mut.RetryCount)
	assert.False(t, mut.NeedsAttention)
	assert.Nil(t, mut.NextAttemptAt)
	assert.Empty(t, mut.LastError)
}

func TestOnAppliedSeesAcceptedMutations(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	task2 := &models.Task{ID: "task2", Title: "two"}
	server2 := task2.Clone()
	server2.Title = "two, edited elsewhere"

	var (
		mu   sync.Mutex
		seen []models.TaskID
	)
	f := newFixture(t, newMemRemote(task1, server2), OnApplied(func(_ context.Context, m models.PendingMutation) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.RecordID)
	}))
	f.enqueue(t, task1, models.TitlePayload{Title: "x"})
	f.enqueue(t, task2, models.TitlePayload{Title: "y"})

	report, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Conflicts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.TaskID{"task1"}, seen)
}

var errDiskFull = errors.New("disk full")

type failingStore struct {
	kv.Store
	fail bool
}

func (s *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errDiskFull
	}
	return s.Store.Put(ctx, key, value)
}

func TestSyncNow(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}

	t.Run("offline", func(t *testing.T) {
		mon := netstate.NewManual(netstate.StateOffline)
		f := newFixture(t, newMemRemote(task1), WithMonitor(mon))
		f.enqueue(t, task1, models.TitlePayload{Title: "x"})

		_, err := f.mgr.SyncNow(context.Background())
		require.ErrorIs(t, err, ErrOffline)
		assert.Zero(t, f.remote.fetchedCount())
		assert.Equal(t, 1, f.queue.Len())
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newFixture(t, newMemRemote(task1), WithMonitor(netstate.NewManual(netstate.StateOnline)))
		report, err := f.mgr.SyncNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Report{}, report)
		assert.Zero(t, f.remote.fetchedCount())
	})

	t.Run("in progress", func(t *testing.T) {
		rc := newMemRemote(task1)
		rc.block = make(chan struct{})
		f := newFixture(t, rc)
		f.enqueue(t, task1, models.TitlePayload{Title: "x"})

		done := make(chan error, 1)
		go func() {
			_, err := f.mgr.Drain(context.Background())
			done <- err
		}()
		require.Eventually(t, f.mgr.InFlight, time.Second, time.Millisecond)
		assert.Equal(t, models.StatusSyncing, f.mgr.Status().Status)

		_, err := f.mgr.SyncNow(context.Background())
		require.ErrorIs(t, err, ErrSyncInProgress)

		close(rc.block)
		require.NoError(t, <-done)
		assert.False(t, f.mgr.InFlight())
		assert.Equal(t, 0, f.queue.Len())
	})
}

func TestRunDrainsOncePerTransition(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	mon := netstate.NewManual(netstate.StateOffline)
	log, handler := testenv.NewLogger(testenv.WithIgnoreDebug())
	f := newFixture(t, newMemRemote(task1), WithMonitor(mon), WithLogger(log))

	ch, stop := f.mgr.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.mgr.Run(ctx, mon)

	f.enqueue(t, task1, models.TitlePayload{Title: "x"})
	mon.SetOnline(true)

	inv := waitFor(t, ch, ReasonDrained)
	assert.Equal(t, []models.TaskID{"task1"}, inv.Records)
	waitFor(t, ch, ReasonReconnected)
	assert.Equal(t, 1, f.remote.appliedCount())
	assert.True(t, handler.Contains("remote reachable"))

	// Staying online does not trigger again.
	mon.SetOnline(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.remote.fetchedCount())

	// An empty queue still invalidates on reconnect, without remote calls.
	mon.SetOnline(false)
	mon.SetOnline(true)
	waitFor(t, ch, ReasonReconnected)
	assert.Equal(t, 1, f.remote.fetchedCount())
}

func TestRunRetriesDeferredWork(t *testing.T) {
	task1 := &models.Task{ID: "task1", Title: "one"}
	rc := newMemRemote(task1)
	rc.applyErr["task1"] = connection.ErrTimeout
	mon := netstate.NewManual(netstate.StateOnline)
	f := newFixture(t, rc,
		WithRetryer(NewFixedDelayRetryer(0, 0)),
		WithRetryInterval(10*time.Millisecond),
	)
	f.enqueue(t, task1, models.TitlePayload{Title: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.mgr.Run(ctx, mon)

	require.Eventually(t, func() bool { return f.remote.appliedCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	rc.mu.Lock()
	delete(rc.applyErr, "task1")
	rc.mu.Unlock()
	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestResolvePublishesInvalidation(t *testing.T) {
	local := &models.Task{ID: "task1", Status: "A"}
	server := local.Clone()
	server.Status = "C"
	f := newFixture(t, newMemRemote(server))
	f.enqueue(t, local, models.StatusPayload{Status: "B"})

	_, err := f.mgr.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StatusHasConflicts, f.mgr.Status().Status)

	ch, stop := f.mgr.Subscribe()
	defer stop()

	c := f.conflicts.Pending()[0]
	resolved, err := f.mgr.Resolve(context.Background(), c.ID, models.KeepLocal)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, resolved.Status)
	assert.Equal(t, "B", f.remote.task("task1").Status)

	waitFor(t, ch, ReasonResolved)
	assert.Equal(t, models.StatusIdle, f.mgr.Status().Status)
}

func TestSubscribeStopClosesChannel(t *testing.T) {
	f := newFixture(t, newMemRemote())
	ch, stop := f.mgr.Subscribe()
	stop()
	stop()
	_, ok := <-ch
	assert.False(t, ok)
}
