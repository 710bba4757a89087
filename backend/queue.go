package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Operation is the kind of change a queue item replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// AllOperations returns every queue operation.
func AllOperations() []Operation {
	return []Operation{OpCreate, OpUpdate, OpDelete}
}

// QueueStatus is the processing state of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is one durable record of an intended remote change.
type QueueItem struct {
	ID        int64           `json:"id" yaml:"id"`
	Op        Operation       `json:"type" yaml:"type"`
	Kind      Kind            `json:"entityKind" yaml:"entityKind"`
	EntityID  string          `json:"entityId" yaml:"entityId"`
	Payload   json.RawMessage `json:"payload" yaml:"-"`
	Timestamp int64           `json:"timestamp" yaml:"timestamp"` // epoch millis
	Status    QueueStatus     `json:"status" yaml:"status"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// QueueCounts summarizes the queue by status.
type QueueCounts struct {
	Pending    int `json:"pending" yaml:"pending"`
	Processing int `json:"processing" yaml:"processing"`
	Failed     int `json:"failed" yaml:"failed"`
	// LastID is the highest ordinal still in the queue.
	LastID int64 `json:"-" yaml:"-"`
}

// Eligible is the number of items the next pass would pick up.
func (c QueueCounts) Eligible() int {
	return c.Pending + c.Processing
}

// Queue is the ordered log of pending local intents. Rows are owned by the
// store; the sync engine is the only writer of status and error.
type Queue struct {
	db  *Database
	bus *ChangeBus
}

func newQueue(db *Database, bus *ChangeBus) *Queue {
	return &Queue{db: db, bus: bus}
}

// Enqueue appends an item and returns its ordinal. The entity id is taken
// from the payload when the item does not carry one.
func (q *Queue) Enqueue(ctx context.Context, item QueueItem) (int64, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &SQLiteError{Op: "Enqueue", Kind: item.Kind, Err: err}
	}
	defer tx.Rollback()

	id, err := insertQueueItem(ctx, tx, item)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &SQLiteError{Op: "Enqueue", Kind: item.Kind, Err: err}
	}

	q.bus.Publish(CollectionQueue)
	return id, nil
}

// ListPending returns items whose status is not failed, in ordinal order.
func (q *Queue) ListPending(ctx context.Context) ([]QueueItem, error) {
	return q.list(ctx, "ListPending", "WHERE status != 'failed'")
}

// List returns every queue item in ordinal order.
func (q *Queue) List(ctx context.Context) ([]QueueItem, error) {
	return q.list(ctx, "List", "")
}

// ListFailed returns failed items in ordinal order.
func (q *Queue) ListFailed(ctx context.Context) ([]QueueItem, error) {
	return q.list(ctx, "ListFailed", "WHERE status = 'failed'")
}

func (q *Queue) list(ctx context.Context, op, where string) ([]QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, queueSelect+where+" ORDER BY id ASC")
	if err != nil {
		return nil, &SQLiteError{Op: op, Err: err}
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, &SQLiteError{Op: op, Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &SQLiteError{Op: op, Err: err}
	}
	return items, nil
}

// Get returns a single item.
func (q *Queue) Get(ctx context.Context, id int64) (*QueueItem, error) {
	row := q.db.QueryRowContext(ctx, queueSelect+"WHERE id = ?", id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, &SQLiteError{Op: "Get", EntityID: strconv.FormatInt(id, 10), Err: err}
	}
	return &item, nil
}

// MarkProcessing claims a pending item for the running pass. It fails with
// ErrNotFound when the item is gone or no longer pending, so only one pass
// can take it.
func (q *Queue) MarkProcessing(ctx context.Context, id int64) error {
	return q.setStatus(ctx, "MarkProcessing", id, QueueProcessing, "", QueuePending)
}

// MarkFailed records a failure message. The item stays in the queue.
func (q *Queue) MarkFailed(ctx context.Context, id int64, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return q.setStatus(ctx, "MarkFailed", id, QueueFailed, message, "")
}

// Requeue moves a failed item back to pending and clears its error. The
// ordinal is unchanged so the item keeps its place in line.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	return q.setStatus(ctx, "Requeue", id, QueuePending, "", QueueFailed)
}

// RequeueAllFailed requeues every failed item and returns how many moved.
func (q *Queue) RequeueAllFailed(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET status = 'pending', last_error = NULL WHERE status = 'failed'`)
	if err != nil {
		return 0, &SQLiteError{Op: "RequeueAllFailed", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.bus.Publish(CollectionQueue)
	}
	return int(n), nil
}

// ResetProcessing returns items left in processing (e.g. after a crash
// mid-pass) to pending.
func (q *Queue) ResetProcessing(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, &SQLiteError{Op: "ResetProcessing", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.bus.Publish(CollectionQueue)
	}
	return int(n), nil
}

// setStatus updates status and error. When from is set the item must be in
// that status.
func (q *Queue) setStatus(ctx context.Context, op string, id int64, status QueueStatus, message string, from QueueStatus) error {
	query := `UPDATE sync_queue SET status = ?, last_error = ? WHERE id = ?`
	args := []any{string(status), nullString(message), id}
	if from != "" {
		query += ` AND status = ?`
		args = append(args, string(from))
	}

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &SQLiteError{Op: op, EntityID: strconv.FormatInt(id, 10), Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if from != "" {
			return fmt.Errorf("queue item %d is not %s: %w", id, from, ErrNotFound)
		}
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}

	q.bus.Publish(CollectionQueue)
	return nil
}

// Remove deletes an item after its remote operation succeeded.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return &SQLiteError{Op: "Remove", EntityID: strconv.FormatInt(id, 10), Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	q.bus.Publish(CollectionQueue)
	return nil
}

// Discard permanently drops an item the user abandoned and settles the
// entity it pointed at: if nothing else is queued for it, a discarded create
// removes the local record and a discarded update or delete returns it to
// synced; otherwise the entity takes the status of its next queued item.
// Items a pass is pushing cannot be discarded (ErrItemInFlight).
func (q *Queue) Discard(ctx context.Context, id int64) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "Discard", Err: err}
	}
	defer tx.Rollback()

	item, err := scanQueueItem(tx.QueryRowContext(ctx, queueSelect+"WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return &SQLiteError{Op: "Discard", EntityID: strconv.FormatInt(id, 10), Err: err}
	}

	if item.Status == QueueProcessing {
		return fmt.Errorf("queue item %d: %w", id, ErrItemInFlight)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ? AND status != 'processing'`, id)
	if err != nil {
		return &SQLiteError{Op: "Discard", EntityID: strconv.FormatInt(id, 10), Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrItemInFlight)
	}

	c, err := collectionFor(item.Kind)
	if err != nil {
		return err
	}

	next, err := nextQueuedOp(ctx, tx, item.Kind, item.EntityID)
	if err != nil {
		return err
	}
	switch {
	case next != "":
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET sync_status = ? WHERE id = ?`, c.table),
			string(PendingStatusFor(next)), item.EntityID)
	case item.Op == OpCreate:
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, c.table), item.EntityID)
	default:
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET sync_status = 'synced' WHERE id = ?`, c.table), item.EntityID)
	}
	if err != nil {
		return &SQLiteError{Op: "Discard", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "Discard", Err: err}
	}
	q.bus.Publish(CollectionQueue, CollectionOf(item.Kind))
	return nil
}

// Counts returns the number of items per status.
func (q *Queue) Counts(ctx context.Context) (QueueCounts, error) {
	var counts QueueCounts
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'processing'), 0),
			COALESCE(SUM(status = 'failed'), 0),
			COALESCE(MAX(id), 0)
		FROM sync_queue
	`).Scan(&counts.Pending, &counts.Processing, &counts.Failed, &counts.LastID)
	if err != nil {
		return counts, &SQLiteError{Op: "Counts", Err: err}
	}
	return counts, nil
}

const queueSelect = `SELECT id, operation, entity_kind, entity_id, payload, timestamp, status, last_error FROM sync_queue `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (QueueItem, error) {
	var (
		item      QueueItem
		op, kind  string
		status    string
		payload   string
		lastError sql.NullString
	)
	if err := row.Scan(&item.ID, &op, &kind, &item.EntityID, &payload, &item.Timestamp, &status, &lastError); err != nil {
		return item, err
	}
	item.Op = Operation(op)
	item.Kind = Kind(kind)
	item.Status = QueueStatus(status)
	item.Payload = json.RawMessage(payload)
	item.Error = lastError.String
	return item, nil
}

// insertQueueItem writes an item inside an existing transaction.
func insertQueueItem(ctx context.Context, tx *sql.Tx, item QueueItem) (int64, error) {
	if _, err := collectionFor(item.Kind); err != nil {
		return 0, err
	}
	if item.EntityID == "" {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item.Payload, &ref); err != nil || ref.ID == "" {
			return 0, fmt.Errorf("queue payload for %s %s has no id", item.Op, item.Kind)
		}
		item.EntityID = ref.ID
	}
	if item.Timestamp == 0 {
		item.Timestamp = time.Now().UnixMilli()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (operation, entity_kind, entity_id, payload, timestamp, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
	`, string(item.Op), string(item.Kind), item.EntityID, string(item.Payload), item.Timestamp)
	if err != nil {
		return 0, &SQLiteError{Op: "Enqueue", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	return res.LastInsertId()
}

// nextQueuedOp returns the operation of the oldest remaining item for an
// entity, or "" when none is left.
func nextQueuedOp(ctx context.Context, tx *sql.Tx, kind Kind, entityID string) (Operation, error) {
	var op string
	err := tx.QueryRowContext(ctx,
		`SELECT operation FROM sync_queue WHERE entity_kind = ? AND entity_id = ? ORDER BY id ASC LIMIT 1`,
		string(kind), entityID,
	).Scan(&op)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &SQLiteError{Op: "nextQueuedOp", Kind: kind, EntityID: entityID, Err: err}
	}
	return Operation(op), nil
}
