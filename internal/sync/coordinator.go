package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"crmsync/backend"
	backendsync "crmsync/backend/sync"
	"crmsync/internal/metrics"
)

// ProbeTimeout bounds a single reachability check.
const ProbeTimeout = 3 * time.Second

// State is the read-only view of sync status shown to the user.
type State struct {
	Online       bool      `json:"online" yaml:"online"`
	Syncing      bool      `json:"syncing" yaml:"syncing"`
	PendingCount int       `json:"pendingCount" yaml:"pendingCount"`
	FailedCount  int       `json:"failedCount" yaml:"failedCount"`
	LastSyncTime time.Time `json:"lastSyncTime,omitempty" yaml:"lastSyncTime,omitempty"`
}

// SyncCoordinator triggers sync passes when the remote becomes reachable
// and whenever the pending queue grows while online.
type SyncCoordinator struct {
	store       *backend.Store
	syncManager *backendsync.SyncManager

	online atomic.Bool

	probe         func(ctx context.Context) bool
	probeInterval time.Duration

	// Goroutine management
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Queue growth tracking: eligible count and highest ordinal seen.
	lastPending atomic.Int64
	lastID      atomic.Int64
	// Set when a trigger arrived during a pass; one followup pass runs after it.
	rerun atomic.Bool
	// Set when another process held the pass lease; the next probe retries.
	lockedOut atomic.Bool

	mu          sync.Mutex
	subscribers map[int]chan State
	nextSub     int
	queueSub    *backend.Subscription

	// Logging (silent errors)
	logger *log.Logger

	started  atomic.Bool
	shutdown atomic.Bool
}

// CoordinatorOption configures a SyncCoordinator.
type CoordinatorOption func(*SyncCoordinator)

// WithInitialOnline sets the starting connectivity state (default offline).
func WithInitialOnline(online bool) CoordinatorOption {
	return func(sc *SyncCoordinator) { sc.online.Store(online) }
}

// WithProbe polls check every interval and feeds the result to SetOnline.
func WithProbe(check func(ctx context.Context) bool, interval time.Duration) CoordinatorOption {
	return func(sc *SyncCoordinator) {
		sc.probe = check
		sc.probeInterval = interval
	}
}

// WithLogger replaces the coordinator's logger.
func WithLogger(logger *log.Logger) CoordinatorOption {
	return func(sc *SyncCoordinator) {
		if logger != nil {
			sc.logger = logger
		}
	}
}

// NewSyncCoordinator creates a new sync coordinator. It becomes the
// manager's connectivity source and observes its passes.
func NewSyncCoordinator(store *backend.Store, manager *backendsync.SyncManager, opts ...CoordinatorOption) (*SyncCoordinator, error) {
	if store == nil || manager == nil {
		return nil, fmt.Errorf("store and sync manager are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SyncCoordinator{
		store:         store,
		syncManager:   manager,
		probeInterval: 30 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		subscribers:   make(map[int]chan State),
		logger:        log.New(os.Stderr, "[Sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.probeInterval <= 0 {
		sc.probeInterval = 30 * time.Second
	}

	manager.SetConnectivity(sc)
	manager.AddStateHook(sc.publish)
	metrics.SetOnline(sc.online.Load())
	return sc, nil
}

// IsOnline implements backendsync.Connectivity.
func (sc *SyncCoordinator) IsOnline() bool {
	return sc.online.Load()
}

// Start begins watching the queue (and probing, when configured). If the
// coordinator starts online with pending items, a pass is triggered.
func (sc *SyncCoordinator) Start(ctx context.Context) error {
	if !sc.started.CompareAndSwap(false, true) {
		return fmt.Errorf("sync coordinator already started")
	}
	if sc.shutdown.Load() {
		return fmt.Errorf("sync coordinator is shut down")
	}

	// Stop with either the caller's context or Shutdown.
	go func() {
		select {
		case <-ctx.Done():
			sc.cancel()
		case <-sc.ctx.Done():
		}
	}()

	counts, err := sc.store.Queue().Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue counts: %w", err)
	}
	sc.lastPending.Store(int64(counts.Eligible()))
	sc.lastID.Store(counts.LastID)

	sc.mu.Lock()
	sc.queueSub = sc.store.Bus().Subscribe(backend.CollectionQueue)
	sub := sc.queueSub
	sc.mu.Unlock()

	sc.wg.Add(1)
	go sc.watchQueue(sub)

	if sc.probe != nil {
		sc.wg.Add(1)
		go sc.runProbe()
	}

	if sc.IsOnline() && counts.Eligible() > 0 {
		sc.TriggerSync()
	}
	sc.publish()
	return nil
}

// watchQueue triggers a pass while online when an item with a new ordinal
// appears or the eligible count rises (e.g. a retry). Several events can
// fold into one read, so the ordinal catches an enqueue that a concurrent
// removal hid from the count.
func (sc *SyncCoordinator) watchQueue(sub *backend.Subscription) {
	defer sc.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Printf("Panic in queue watcher: %v", r)
		}
	}()

	for {
		select {
		case <-sc.ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			counts, err := sc.store.Queue().Counts(sc.ctx)
			if err != nil {
				if sc.ctx.Err() == nil {
					sc.logger.Printf("Failed to read queue counts: %v", err)
				}
				continue
			}
			current := int64(counts.Eligible())
			previous := sc.lastPending.Swap(current)
			enqueued := counts.LastID > sc.lastID.Load()
			if enqueued {
				sc.lastID.Store(counts.LastID)
			}
			metrics.SetQueueDepth(counts.Pending, counts.Processing, counts.Failed)

			if (enqueued || current > previous) && sc.IsOnline() {
				sc.TriggerSync()
			}
			sc.publish()
		}
	}
}

func (sc *SyncCoordinator) runProbe() {
	defer sc.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Printf("Panic in connectivity probe: %v", r)
		}
	}()

	ticker := time.NewTicker(sc.probeInterval)
	defer ticker.Stop()

	sc.checkOnline()
	for {
		select {
		case <-sc.ctx.Done():
			return
		case <-ticker.C:
			sc.checkOnline()
		}
	}
}

// checkOnline runs the probe with a short timeout so a hung network never
// blocks the coordinator.
func (sc *SyncCoordinator) checkOnline() {
	ctx, cancel := context.WithTimeout(sc.ctx, ProbeTimeout)
	defer cancel()

	online := sc.probe(ctx)
	if sc.ctx.Err() != nil {
		return
	}
	sc.SetOnline(online)
	if online && sc.lockedOut.Swap(false) {
		sc.TriggerSync()
	}
}

// SetOnline records a connectivity change. Going from offline to online
// triggers a pass.
func (sc *SyncCoordinator) SetOnline(online bool) {
	was := sc.online.Swap(online)
	if was == online {
		return
	}
	metrics.SetOnline(online)
	if online {
		sc.logger.Printf("Remote reachable, syncing")
		sc.TriggerSync()
	} else {
		sc.logger.Printf("Remote unreachable, queueing changes locally")
	}
	sc.publish()
}

// TriggerSync runs a pass in the background and returns immediately. If a
// pass is already running, a single followup pass runs once it finishes.
func (sc *SyncCoordinator) TriggerSync() {
	if sc.shutdown.Load() {
		return
	}

	sc.wg.Add(1)
	go sc.doSync()
}

// doSync performs one pass
func (sc *SyncCoordinator) doSync() {
	defer sc.wg.Done()

	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Printf("Panic in sync pass: %v", r)
		}
	}()

	result, err := sc.syncManager.RunPass(sc.ctx)
	if err != nil {
		sc.logger.Printf("Sync pass error: %v", err)
		return
	}
	if result.Skipped == backendsync.SkipInProgress {
		sc.rerun.Store(true)
		// The running pass may have finished before the flag was set.
		if !sc.syncManager.IsRunning() && sc.rerun.Swap(false) {
			sc.TriggerSync()
		}
		return
	}
	if result.Skipped == backendsync.SkipLocked {
		sc.lockedOut.Store(true)
		return
	}
	if result.Skipped != "" {
		return
	}
	if sc.rerun.Swap(false) && sc.IsOnline() && sc.ctx.Err() == nil {
		sc.TriggerSync()
	}
	if result.Failed > 0 {
		sc.logger.Printf("Sync pass completed: %d synced, %d failed", result.Succeeded, result.Failed)
	} else if result.Succeeded > 0 {
		sc.logger.Printf("Sync pass completed: %d synced", result.Succeeded)
	}
}

// State returns the current sync status.
func (sc *SyncCoordinator) State() State {
	st := State{
		Online:       sc.IsOnline(),
		Syncing:      sc.syncManager.IsRunning(),
		LastSyncTime: sc.syncManager.LastSyncTime(),
	}
	counts, err := sc.store.Queue().Counts(context.Background())
	if err == nil {
		st.PendingCount = counts.Eligible()
		st.FailedCount = counts.Failed
	}
	return st
}

// Subscribe returns a channel of state snapshots and a function that ends
// the subscription. Slow readers only see the latest snapshot.
func (sc *SyncCoordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	sc.mu.Lock()
	id := sc.nextSub
	sc.nextSub++
	if sc.shutdown.Load() {
		sc.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	sc.subscribers[id] = ch
	sc.mu.Unlock()

	select {
	case ch <- sc.State():
	default:
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sc.mu.Lock()
			defer sc.mu.Unlock()
			if _, ok := sc.subscribers[id]; ok {
				delete(sc.subscribers, id)
				close(ch)
			}
		})
	}
}

func (sc *SyncCoordinator) publish() {
	st := sc.State()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, ch := range sc.subscribers {
		// Replace a snapshot nobody has read yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// Shutdown stops watching and waits for a running pass, up to timeout.
func (sc *SyncCoordinator) Shutdown(timeout time.Duration) {
	if !sc.shutdown.CompareAndSwap(false, true) {
		return
	}
	sc.cancel()

	sc.mu.Lock()
	if sc.queueSub != nil {
		sc.queueSub.Close()
	}
	sc.mu.Unlock()

	// Wait for pending syncs with timeout
	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		sc.logger.Printf("Warning: Pending syncs did not complete within %v", timeout)
	}

	sc.mu.Lock()
	for id, ch := range sc.subscribers {
		delete(sc.subscribers, id)
		close(ch)
	}
	sc.mu.Unlock()
}

// GetSyncManager returns the underlying sync manager for direct access
func (sc *SyncCoordinator) GetSyncManager() *backendsync.SyncManager {
	return sc.syncManager
}
