package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"crmsync/backend"
	"crmsync/internal/metrics"
	"crmsync/internal/utils"
)

// Connectivity reports whether the remote is currently reachable.
type Connectivity interface {
	IsOnline() bool
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// SkipReason explains why a pass did no work.
type SkipReason string

const (
	SkipOffline    SkipReason = "offline"
	SkipInProgress SkipReason = "in_progress"
	SkipLocked     SkipReason = "locked" // another process holds the pass lease
	SkipEmpty      SkipReason = "empty"
)

// PassResult contains statistics about one sync pass
type PassResult struct {
	Attempted int           `json:"attempted" yaml:"attempted"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Errors    []*ItemError  `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Skipped   SkipReason    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// ItemError records a queue item that failed during a pass.
type ItemError struct {
	ItemID   int64             `json:"id" yaml:"id"`
	Op       backend.Operation `json:"type" yaml:"type"`
	Kind     backend.Kind      `json:"entityKind" yaml:"entityKind"`
	EntityID string            `json:"entityId" yaml:"entityId"`
	Err      error             `json:"-" yaml:"-"`
	Message  string            `json:"error" yaml:"error"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("queue item %d (%s %s %s): %s", e.ItemID, e.Op, e.Kind, e.EntityID, e.Message)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ReconcileResult summarizes the startup sweep.
type ReconcileResult struct {
	Reset    int                 `json:"reset" yaml:"reset"`
	Requeued []backend.QueueItem `json:"requeued" yaml:"requeued"`
}

type handlerKey struct {
	op   backend.Operation
	kind backend.Kind
}

type handlerFunc func(ctx context.Context, item backend.QueueItem) error

// SyncManager replays the mutation queue against the remote CRM, one item at
// a time in ordinal order, and reconciles the local store with the results.
type SyncManager struct {
	store    *backend.Store
	remote   backend.RemoteClient
	conn     Connectivity
	handlers map[handlerKey]handlerFunc
	hooks    []func()

	// owner identifies this manager's pass lease in the shared database.
	owner    string
	leaseTTL time.Duration

	running  atomic.Bool
	lastSync atomic.Int64 // unix nanos of the last completed pass
}

// Option configures a SyncManager.
type Option func(*SyncManager)

// WithConnectivity sets the source of the offline guard. Without it the
// manager assumes it is always online.
func WithConnectivity(c Connectivity) Option {
	return func(sm *SyncManager) {
		if c != nil {
			sm.conn = c
		}
	}
}

// WithStateHook registers a callback invoked when a pass starts and when it
// ends. Hooks run on the pass goroutine and must not block.
func WithStateHook(fn func()) Option {
	return func(sm *SyncManager) {
		if fn != nil {
			sm.hooks = append(sm.hooks, fn)
		}
	}
}

// WithLeaseTTL sets how long the cross-process pass lease lasts between
// renewals. It must exceed the longest single remote call.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(sm *SyncManager) {
		if ttl > 0 {
			sm.leaseTTL = ttl
		}
	}
}

// NewSyncManager creates a new sync manager
func NewSyncManager(store *backend.Store, remote backend.RemoteClient, opts ...Option) *SyncManager {
	sm := &SyncManager{
		store:  store,
		remote:   remote,
		conn:     alwaysOnline{},
		owner:    fmt.Sprintf("%d/%s", os.Getpid(), uuid.NewString()),
		leaseTTL: backend.DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.handlers = sm.buildHandlers()
	return sm
}

// buildHandlers maps every (operation, kind) pair to its handler.
func (sm *SyncManager) buildHandlers() map[handlerKey]handlerFunc {
	byOp := map[backend.Operation]handlerFunc{
		backend.OpCreate: sm.pushCreate,
		backend.OpUpdate: sm.pushUpdate,
		backend.OpDelete: sm.pushDelete,
	}
	handlers := make(map[handlerKey]handlerFunc, len(byOp)*len(backend.AllKinds()))
	for _, op := range backend.AllOperations() {
		for _, kind := range backend.AllKinds() {
			if h, ok := byOp[op]; ok {
				handlers[handlerKey{op: op, kind: kind}] = h
			}
		}
	}
	return handlers
}

// SetConnectivity replaces the offline guard. Call it before the first pass.
func (sm *SyncManager) SetConnectivity(c Connectivity) {
	if c != nil {
		sm.conn = c
	}
}

// AddStateHook registers a pass start/end callback. Call it before the
// first pass.
func (sm *SyncManager) AddStateHook(fn func()) {
	if fn != nil {
		sm.hooks = append(sm.hooks, fn)
	}
}

// IsRunning reports whether a pass is in progress.
func (sm *SyncManager) IsRunning() bool {
	return sm.running.Load()
}

// LastSyncTime returns when the last pass completed (zero if never).
func (sm *SyncManager) LastSyncTime() time.Time {
	ns := sm.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// GetRemote returns the remote client the manager pushes to.
func (sm *SyncManager) GetRemote() backend.RemoteClient {
	return sm.remote
}

func (sm *SyncManager) notify() {
	for _, fn := range sm.hooks {
		fn()
	}
}

// RunPass performs one pass over the pending queue. It does nothing while
// offline, while another pass is running in this or any other process
// sharing the database, or when nothing is pending. A failed item is
// recorded on the queue and the pass moves on to the next.
//
// Items enqueued after the pass has read the pending list wait for the next
// pass. If ctx is cancelled the pass stops before the next item; the item in
// flight is always finished and recorded.
func (sm *SyncManager) RunPass(ctx context.Context) (*PassResult, error) {
	if !sm.conn.IsOnline() {
		return sm.skip(SkipOffline), nil
	}
	if !sm.running.CompareAndSwap(false, true) {
		return sm.skip(SkipInProgress), nil
	}

	queue := sm.store.Queue()
	held, err := queue.AcquireLease(ctx, sm.owner, sm.leaseTTL)
	if err != nil {
		sm.running.Store(false)
		return nil, fmt.Errorf("failed to acquire sync pass lease: %w", err)
	}
	if !held {
		sm.running.Store(false)
		return sm.skip(SkipLocked), nil
	}

	// Bookkeeping writes outlive the caller's context so no item is left
	// stuck in processing.
	bookkeeping := context.WithoutCancel(ctx)
	release := func() {
		if err := queue.ReleaseLease(bookkeeping, sm.owner); err != nil {
			utils.Warnf("Failed to release sync pass lease: %v", err)
		}
		sm.running.Store(false)
	}

	// No other pass is in flight while the lease is held, so items still
	// processing were abandoned by a crashed one.
	reset, err := queue.ResetProcessing(ctx)
	if err != nil {
		release()
		return nil, err
	}
	if reset > 0 {
		utils.Debugf("Recovered %d items left processing", reset)
	}

	items, err := queue.ListPending(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	if len(items) == 0 {
		release()
		return sm.skip(SkipEmpty), nil
	}

	startTime := time.Now()
	result := &PassResult{}
	sm.notify()
	defer func() {
		result.Duration = time.Since(startTime)
		sm.lastSync.Store(time.Now().UnixNano())
		release()

		metrics.SyncPassesTotal.WithLabelValues("completed").Inc()
		metrics.SyncPassDuration.Observe(result.Duration.Seconds())
		sm.publishQueueDepth()
		sm.notify()
	}()

	utils.Debugf("Sync pass started with %d pending items", len(items))

	for _, snapshot := range items {
		if ctx.Err() != nil {
			utils.Debugf("Sync pass cancelled with items remaining")
			break
		}
		if err := queue.RenewLease(bookkeeping, sm.owner, sm.leaseTTL); err != nil {
			return result, fmt.Errorf("stopping sync pass: %w", err)
		}

		// Re-read the item: an earlier create in this pass may have
		// rewritten its entity id, or it may have been discarded.
		item, err := queue.Get(bookkeeping, snapshot.ID)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to read queue item %d: %w", snapshot.ID, err)
		}
		if item.Status != backend.QueuePending {
			continue
		}

		// The claim only succeeds while the item is still pending.
		if err := queue.MarkProcessing(bookkeeping, item.ID); err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			return result, err
		}
		result.Attempted++

		if err := sm.dispatch(ctx, *item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, &ItemError{
				ItemID:   item.ID,
				Op:       item.Op,
				Kind:     item.Kind,
				EntityID: item.EntityID,
				Err:      err,
				Message:  err.Error(),
			})
			metrics.SyncItemsTotal.WithLabelValues(string(item.Op), string(item.Kind), "failed").Inc()
			utils.Warnf("Failed to %s %s %s: %v", item.Op, item.Kind, item.EntityID, err)

			if markErr := queue.MarkFailed(bookkeeping, item.ID, err.Error()); markErr != nil {
				return result, markErr
			}
			continue
		}

		result.Succeeded++
		metrics.SyncItemsTotal.WithLabelValues(string(item.Op), string(item.Kind), "succeeded").Inc()
	}

	if result.Failed > 0 {
		utils.Infof("Sync pass finished: %d succeeded, %d failed", result.Succeeded, result.Failed)
	} else {
		utils.Debugf("Sync pass finished: %d succeeded", result.Succeeded)
	}
	return result, nil
}

func (sm *SyncManager) skip(reason SkipReason) *PassResult {
	metrics.SyncPassesTotal.WithLabelValues(string(reason)).Inc()
	return &PassResult{Skipped: reason}
}

func (sm *SyncManager) publishQueueDepth() {
	counts, err := sm.store.Queue().Counts(context.Background())
	if err != nil {
		return
	}
	metrics.SetQueueDepth(counts.Pending, counts.Processing, counts.Failed)
}

func (sm *SyncManager) dispatch(ctx context.Context, item backend.QueueItem) error {
	h, ok := sm.handlers[handlerKey{op: item.Op, kind: item.Kind}]
	if !ok {
		return fmt.Errorf("no handler for %s of %s", item.Op, item.Kind)
	}
	return h(ctx, item)
}

// pushCreate sends the full entity and rewrites the local id to the server's.
func (sm *SyncManager) pushCreate(ctx context.Context, item backend.QueueItem) error {
	e, err := backend.DecodeEntity(item.Kind, item.Payload)
	if err != nil {
		return fmt.Errorf("invalid create payload: %w", err)
	}
	e.Meta().ID = item.EntityID

	rec, err := sm.remote.Create(ctx, e)
	if err != nil {
		return err
	}
	return sm.store.CompleteCreate(context.WithoutCancel(ctx), item, *rec)
}

// pushUpdate sends only the changed fields.
func (sm *SyncManager) pushUpdate(ctx context.Context, item backend.QueueItem) error {
	fields, err := updateFields(item.Payload)
	if err != nil {
		return fmt.Errorf("invalid update payload: %w", err)
	}

	rec, err := sm.remote.Update(ctx, item.Kind, item.EntityID, fields)
	if err != nil {
		return err
	}
	return sm.store.CompleteUpdate(context.WithoutCancel(ctx), item, rec.UpdatedAt)
}

func (sm *SyncManager) pushDelete(ctx context.Context, item backend.QueueItem) error {
	e, err := backend.DecodeEntity(item.Kind, item.Payload)
	if err != nil {
		return fmt.Errorf("invalid delete payload: %w", err)
	}
	e.Meta().ID = item.EntityID

	if err := sm.remote.Delete(ctx, e); err != nil {
		return err
	}
	return sm.store.CompleteDelete(context.WithoutCancel(ctx), item)
}

// updateFields decodes an update payload, dropping the fields the sync engine
// owns. Numbers stay json.Number so large ids and amounts survive.
func updateFields(payload json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	delete(fields, "syncStatus")
	delete(fields, "updatedAt")
	return fields, nil
}

// Refresh pulls every record of the given kinds (all kinds when none are
// given) and mirrors them locally. Rows with pending local changes are kept.
// A failing kind does not stop the others; their errors are joined.
func (sm *SyncManager) Refresh(ctx context.Context, kinds ...backend.Kind) ([]backend.RefreshStats, error) {
	if len(kinds) == 0 {
		kinds = backend.AllKinds()
	}

	var stats []backend.RefreshStats
	var errs []error
	for _, kind := range kinds {
		entities, err := sm.remote.FetchAll(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to fetch %s: %w", kind, err))
			continue
		}
		s, err := sm.store.ReplaceFromRemote(ctx, kind, entities)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to store %s: %w", kind, err))
			continue
		}
		metrics.RefreshRecordsTotal.WithLabelValues(string(kind), "written").Add(float64(s.Written))
		metrics.RefreshRecordsTotal.WithLabelValues(string(kind), "skipped").Add(float64(s.Skipped))
		metrics.RefreshRecordsTotal.WithLabelValues(string(kind), "pruned").Add(float64(s.Pruned))
		utils.Debugf("Refreshed %s: %d fetched, %d written, %d kept, %d pruned",
			kind, s.Fetched, s.Written, s.Skipped, s.Pruned)
		stats = append(stats, s)
	}
	return stats, errors.Join(errs...)
}

// Reconcile repairs the queue after a crash: items left processing go back
// to pending, and pending entities without a queue item are queued again.
// It takes the same guard and lease as a pass.
func (sm *SyncManager) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if !sm.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("cannot reconcile while a sync pass is running")
	}
	defer sm.running.Store(false)

	held, err := sm.store.Queue().AcquireLease(ctx, sm.owner, sm.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync pass lease: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("cannot reconcile while another process is syncing")
	}
	defer func() {
		if err := sm.store.Queue().ReleaseLease(context.WithoutCancel(ctx), sm.owner); err != nil {
			utils.Warnf("Failed to release sync pass lease: %v", err)
		}
	}()

	reset, err := sm.store.Queue().ResetProcessing(ctx)
	if err != nil {
		return nil, err
	}
	requeued, err := sm.store.EnqueueOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if reset > 0 || len(requeued) > 0 {
		utils.Infof("Reconciled queue: %d items reset, %d orphaned entities requeued", reset, len(requeued))
	}
	return &ReconcileResult{Reset: reset, Requeued: requeued}, nil
}
