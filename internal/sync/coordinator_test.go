package sync

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crmsync/backend"
	backendsync "crmsync/backend/sync"
)

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) (*SyncCoordinator, *backend.Store, *backend.MockRemote) {
	t.Helper()
	store, err := backend.OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	remote := backend.NewMockRemote()
	manager := backendsync.NewSyncManager(store, remote)

	opts = append([]CoordinatorOption{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	sc, err := NewSyncCoordinator(store, manager, opts...)
	if err != nil {
		t.Fatalf("NewSyncCoordinator() error = %v", err)
	}
	t.Cleanup(func() {
		sc.Shutdown(2 * time.Second)
		store.Close()
	})
	return sc, store, remote
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countOp(remote *backend.MockRemote, op backend.Operation) int {
	n := 0
	for _, c := range remote.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func stageContact(t *testing.T, store *backend.Store, first string) {
	t.Helper()
	if _, err := store.StageCreate(context.Background(), &backend.Contact{FirstName: first, LastName: "Test"}); err != nil {
		t.Fatalf("StageCreate() error = %v", err)
	}
}

// TestNewSyncCoordinatorRequiresDeps tests constructor validation
func TestNewSyncCoordinatorRequiresDeps(t *testing.T) {
	if _, err := NewSyncCoordinator(nil, nil); err == nil {
		t.Fatal("expected error for nil store and manager")
	}
}

// TestGoingOnlineTriggersPass tests that the offline to online transition drains the queue
func TestGoingOnlineTriggersPass(t *testing.T) {
	sc, store, remote := newTestCoordinator(t)
	stageContact(t, store, "Jane")

	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := countOp(remote, backend.OpCreate); n != 0 {
		t.Fatalf("expected no remote calls while offline, got %d", n)
	}
	if st := sc.State(); st.Online || st.PendingCount != 1 {
		t.Fatalf("unexpected offline state: %+v", st)
	}

	sc.SetOnline(true)
	waitFor(t, "queue to drain", func() bool { return sc.State().PendingCount == 0 })
	if n := countOp(remote, backend.OpCreate); n != 1 {
		t.Errorf("expected 1 create, got %d", n)
	}
	if sc.GetSyncManager().LastSyncTime().IsZero() {
		t.Error("LastSyncTime should be set after a pass")
	}
}

// TestQueueGrowthTriggersPassWhileOnline tests that new mutations sync without an explicit trigger
func TestQueueGrowthTriggersPassWhileOnline(t *testing.T) {
	sc, store, remote := newTestCoordinator(t, WithInitialOnline(true))
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stageContact(t, store, "Jane")
	waitFor(t, "create to reach remote", func() bool { return countOp(remote, backend.OpCreate) == 1 })
	waitFor(t, "queue to drain", func() bool { return sc.State().PendingCount == 0 })

	stageContact(t, store, "Hank")
	waitFor(t, "second create", func() bool { return countOp(remote, backend.OpCreate) == 2 })
}

// TestStartOnlineDrainsExistingQueue tests that items queued before start are pushed
func TestStartOnlineDrainsExistingQueue(t *testing.T) {
	sc, store, remote := newTestCoordinator(t, WithInitialOnline(true))
	stageContact(t, store, "Jane")
	stageContact(t, store, "Hank")

	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "queue to drain", func() bool { return sc.State().PendingCount == 0 })
	if n := countOp(remote, backend.OpCreate); n != 2 {
		t.Errorf("expected 2 creates, got %d", n)
	}
}

// TestTriggerDuringPassRunsFollowup tests that items queued mid-pass are not stranded
func TestTriggerDuringPassRunsFollowup(t *testing.T) {
	sc, store, remote := newTestCoordinator(t, WithInitialOnline(true))
	remote.Started = make(chan backend.MockCall, 8)
	remote.Release = make(chan struct{})

	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stageContact(t, store, "Jane")

	select {
	case <-remote.Started:
	case <-time.After(3 * time.Second):
		t.Fatal("first pass never started")
	}
	stageContact(t, store, "Hank")
	sc.TriggerSync()
	time.Sleep(50 * time.Millisecond)
	close(remote.Release)

	waitFor(t, "queue to drain", func() bool { return sc.State().PendingCount == 0 })
	if n := countOp(remote, backend.OpCreate); n != 2 {
		t.Errorf("expected 2 creates, got %d", n)
	}
}

// TestSubscribeSnapshots tests the initial snapshot and connectivity updates
func TestSubscribeSnapshots(t *testing.T) {
	sc, store, _ := newTestCoordinator(t)
	stageContact(t, store, "Jane")

	ch, unsubscribe := sc.Subscribe()
	defer unsubscribe()

	first := <-ch
	if first.Online || first.PendingCount != 1 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	sc.SetOnline(true)
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("channel closed early")
			}
			if st.Online && st.PendingCount == 0 && !st.Syncing {
				return
			}
		case <-deadline:
			t.Fatal("never saw a synced online snapshot")
		}
	}
}

// TestUnsubscribeClosesChannel tests that ending a subscription closes its channel
func TestUnsubscribeClosesChannel(t *testing.T) {
	sc, _, _ := newTestCoordinator(t)
	ch, unsubscribe := sc.Subscribe()
	<-ch
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

// TestProbeUpdatesConnectivity tests that probe results drive SetOnline
func TestProbeUpdatesConnectivity(t *testing.T) {
	var reachable atomic.Bool
	probe := func(ctx context.Context) bool { return reachable.Load() }

	sc, store, remote := newTestCoordinator(t, WithProbe(probe, 10*time.Millisecond))
	stageContact(t, store, "Jane")
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if sc.IsOnline() {
		t.Fatal("should be offline while probe fails")
	}

	reachable.Store(true)
	waitFor(t, "probe to report online", sc.IsOnline)
	waitFor(t, "create after reconnect", func() bool { return countOp(remote, backend.OpCreate) == 1 })

	reachable.Store(false)
	waitFor(t, "probe to report offline", func() bool { return !sc.IsOnline() })
}

// TestStartTwice tests that a coordinator cannot be started twice
func TestStartTwice(t *testing.T) {
	sc, _, _ := newTestCoordinator(t)
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sc.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

// TestShutdown tests that shutdown closes subscribers and ignores later triggers
func TestShutdown(t *testing.T) {
	sc, store, remote := newTestCoordinator(t)
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ch, _ := sc.Subscribe()

	sc.Shutdown(time.Second)
	sc.Shutdown(time.Second)

	for range ch {
	}

	stageContact(t, store, "Jane")
	sc.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	if n := countOp(remote, backend.OpCreate); n != 0 {
		t.Errorf("expected no passes after shutdown, got %d creates", n)
	}

	late, _ := sc.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after shutdown should be closed")
	}
}

// TestStartStopsWithContext tests that cancelling the start context stops triggering
func TestStartStopsWithContext(t *testing.T) {
	sc, store, remote := newTestCoordinator(t, WithInitialOnline(true))
	ctx, cancel := context.WithCancel(context.Background())
	if err := sc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	waitFor(t, "coordinator context cancel", func() bool { return sc.ctx.Err() != nil })

	stageContact(t, store, "Jane")
	time.Sleep(50 * time.Millisecond)
	if n := countOp(remote, backend.OpCreate); n != 0 {
		t.Errorf("expected no creates after cancel, got %d", n)
	}
}

// TestEnqueueTriggersWhenCountHoldsSteady tests that a new ordinal triggers even if a removal kept the count flat
func TestEnqueueTriggersWhenCountHoldsSteady(t *testing.T) {
	sc, store, remote := newTestCoordinator(t, WithInitialOnline(true))
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// As if an enqueue and a removal landed in the same read.
	sc.lastPending.Store(5)
	stageContact(t, store, "Jane")
	waitFor(t, "create after enqueue", func() bool { return countOp(remote, backend.OpCreate) == 1 })
}

// TestLeaseHeldElsewhereRetriesOnNextCheck tests that a pass blocked by another process runs once the lease frees
func TestLeaseHeldElsewhereRetriesOnNextCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	store, err := backend.OpenStore(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	other, err := backend.OpenStore(path)
	if err != nil {
		t.Fatalf("Failed to open second store: %v", err)
	}
	defer other.Close()

	ctx := context.Background()
	if ok, err := other.Queue().AcquireLease(ctx, "other-process", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLease() = %v, %v", ok, err)
	}

	remote := backend.NewMockRemote()
	manager := backendsync.NewSyncManager(store, remote)
	sc, err := NewSyncCoordinator(store, manager,
		WithLogger(log.New(io.Discard, "", 0)),
		WithProbe(func(context.Context) bool { return true }, 10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewSyncCoordinator() error = %v", err)
	}
	t.Cleanup(func() {
		sc.Shutdown(2 * time.Second)
		store.Close()
	})

	stageContact(t, store, "Jane")
	if err := sc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "pass to find the lease held", sc.lockedOut.Load)
	if n := countOp(remote, backend.OpCreate); n != 0 {
		t.Fatalf("pushed %d creates while another process held the lease", n)
	}

	if err := other.Queue().ReleaseLease(ctx, "other-process"); err != nil {
		t.Fatalf("ReleaseLease() error = %v", err)
	}
	waitFor(t, "create after the lease freed", func() bool { return countOp(remote, backend.OpCreate) == 1 })
}
