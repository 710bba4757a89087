package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the durable local mirror of CRM entities plus the mutation queue.
// Every committed write is published on the change bus.
type Store struct {
	db    *Database
	bus   *ChangeBus
	queue *Queue
	now   func() time.Time
}

// OpenStore opens (or creates) the database at path and wraps it in a Store.
// An empty path selects the XDG data location.
func OpenStore(path string) (*Store, error) {
	db, err := InitDatabase(path)
	if err != nil {
		return nil, &SQLiteError{Op: "open", Err: err}
	}
	return NewStore(db), nil
}

// NewStore wraps an initialized database.
func NewStore(db *Database) *Store {
	bus := NewChangeBus()
	return &Store{
		db:    db,
		bus:   bus,
		queue: newQueue(db, bus),
		now:   time.Now,
	}
}

// Queue returns the mutation queue backed by this store.
func (s *Store) Queue() *Queue { return s.queue }

// Bus returns the change bus readers subscribe to.
func (s *Store) Bus() *ChangeBus { return s.bus }

// DB exposes the underlying database.
func (s *Store) DB() *Database { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats returns row counts and the database size.
func (s *Store) Stats() (DatabaseStats, error) {
	return s.db.GetStats()
}

// EntityFilter narrows ListEntities. Where keys are JSON field names of
// indexed columns (e.g. "companyId", "stage").
type EntityFilter struct {
	Statuses       []SyncStatus
	Where          map[string]string
	IncludeDeleted bool
	Limit          int
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetEntity returns one entity by id.
func (s *Store) GetEntity(ctx context.Context, kind Kind, id string) (Entity, error) {
	c, err := collectionFor(kind)
	if err != nil {
		return nil, err
	}
	e, err := loadEntity(ctx, s.db, c, id)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntities returns entities of a kind, most recently updated first.
// Entities waiting to be deleted are hidden unless the filter asks for them.
func (s *Store) ListEntities(ctx context.Context, kind Kind, filter *EntityFilter) ([]Entity, error) {
	c, err := collectionFor(kind)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &EntityFilter{}
	}

	var (
		conds []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "sync_status IN ("+strings.Join(marks, ", ")+")")
	} else if !filter.IncludeDeleted {
		conds = append(conds, "sync_status != 'pending_delete'")
	}
	for field, value := range filter.Where {
		col, ok := c.column(field)
		if !ok {
			return nil, fmt.Errorf("%s has no indexed field %q", kind, field)
		}
		conds = append(conds, col+" = ?")
		args = append(args, value)
	}

	query := fmt.Sprintf("SELECT id, sync_status, updated_at, data FROM %s", c.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &SQLiteError{Op: "ListEntities", Kind: kind, Err: err}
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var (
			id, status, data string
			updatedAt        int64
		)
		if err := rows.Scan(&id, &status, &updatedAt, &data); err != nil {
			return nil, &SQLiteError{Op: "ListEntities", Kind: kind, Err: err}
		}
		e, err := c.decodeRow(id, status, updatedAt, data)
		if err != nil {
			return nil, &SQLiteError{Op: "ListEntities", Kind: kind, EntityID: id, Err: err}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &SQLiteError{Op: "ListEntities", Kind: kind, Err: err}
	}
	return entities, nil
}

// PutEntity writes an entity as-is, without queueing anything.
func (s *Store) PutEntity(ctx context.Context, e Entity) error {
	c, err := collectionFor(e.EntityKind())
	if err != nil {
		return err
	}
	if e.Meta().ID == "" {
		return fmt.Errorf("cannot store %s without id", c.kind)
	}
	if e.Meta().SyncStatus == "" {
		e.Meta().SyncStatus = StatusSynced
	}

	args, _, err := c.upsertArgs(e)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, c.upsertSQL(), args...); err != nil {
		return &SQLiteError{Op: "PutEntity", Kind: c.kind, EntityID: e.Meta().ID, Err: err}
	}
	s.bus.Publish(CollectionOf(c.kind))
	return nil
}

// DeleteEntity removes a local row without queueing anything.
func (s *Store) DeleteEntity(ctx context.Context, kind Kind, id string) error {
	c, err := collectionFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table), id)
	if err != nil {
		return &SQLiteError{Op: "DeleteEntity", Kind: kind, EntityID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	s.bus.Publish(CollectionOf(kind))
	return nil
}

// StageCreate writes a new entity as pending_create together with its create
// queue item in one transaction. A missing id is filled with a UUID; the id
// and timestamps are written back into e. Returns the queue ordinal.
func (s *Store) StageCreate(ctx context.Context, e Entity) (int64, error) {
	c, err := collectionFor(e.EntityKind())
	if err != nil {
		return 0, err
	}

	now := s.now().UnixMilli()
	meta := e.Meta()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.SyncStatus = StatusPendingCreate
	meta.UpdatedAt = now
	if a, ok := e.(*Activity); ok && a.Timestamp == 0 {
		a.Timestamp = now
	}

	args, data, err := c.upsertArgs(e)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &SQLiteError{Op: "StageCreate", Kind: c.kind, EntityID: meta.ID, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, c.upsertSQL(), args...); err != nil {
		return 0, &SQLiteError{Op: "StageCreate", Kind: c.kind, EntityID: meta.ID, Err: err}
	}
	queueID, err := insertQueueItem(ctx, tx, QueueItem{
		Op:        OpCreate,
		Kind:      c.kind,
		EntityID:  meta.ID,
		Payload:   data,
		Timestamp: now,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, &SQLiteError{Op: "StageCreate", Kind: c.kind, EntityID: meta.ID, Err: err}
	}
	s.bus.Publish(CollectionOf(c.kind), CollectionQueue)
	return queueID, nil
}

// StageUpdate applies changed fields to a stored entity and queues an update
// carrying only those fields. An entity that was never synced stays
// pending_create.
func (s *Store) StageUpdate(ctx context.Context, kind Kind, id string, fields map[string]any) (int64, error) {
	c, err := collectionFor(kind)
	if err != nil {
		return 0, err
	}
	changes := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "id", "syncStatus", "updatedAt":
			continue
		}
		changes[k] = v
	}
	if len(changes) == 0 {
		return 0, fmt.Errorf("update of %s %s has no fields", kind, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &SQLiteError{Op: "StageUpdate", Kind: kind, EntityID: id, Err: err}
	}
	defer tx.Rollback()

	current, err := loadEntity(ctx, tx, c, id)
	if err != nil {
		return 0, err
	}
	status := current.Meta().SyncStatus
	if status == StatusPendingDelete {
		return 0, fmt.Errorf("%s %s: %w", kind, id, ErrEntityDeleted)
	}

	merged, err := mergeFields(current, changes)
	if err != nil {
		return 0, err
	}
	now := s.now().UnixMilli()
	meta := merged.Meta()
	meta.ID = id
	meta.UpdatedAt = now
	meta.SyncStatus = StatusPendingUpdate
	if status == StatusPendingCreate {
		meta.SyncStatus = StatusPendingCreate
	}

	args, _, err := c.upsertArgs(merged)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, c.upsertSQL(), args...); err != nil {
		return 0, &SQLiteError{Op: "StageUpdate", Kind: kind, EntityID: id, Err: err}
	}

	changes["id"] = id
	if a, ok := merged.(*Activity); ok {
		changes["type"] = a.Type
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode update payload: %w", err)
	}
	queueID, err := insertQueueItem(ctx, tx, QueueItem{
		Op:        OpUpdate,
		Kind:      kind,
		EntityID:  id,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, &SQLiteError{Op: "StageUpdate", Kind: kind, EntityID: id, Err: err}
	}
	s.bus.Publish(CollectionOf(kind), CollectionQueue)
	return queueID, nil
}

// StageDelete marks an entity pending_delete and queues its deletion. The row
// is removed once the remote confirms.
func (s *Store) StageDelete(ctx context.Context, kind Kind, id string) (int64, error) {
	c, err := collectionFor(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &SQLiteError{Op: "StageDelete", Kind: kind, EntityID: id, Err: err}
	}
	defer tx.Rollback()

	current, err := loadEntity(ctx, tx, c, id)
	if err != nil {
		return 0, err
	}
	if current.Meta().SyncStatus == StatusPendingDelete {
		return 0, fmt.Errorf("%s %s: %w", kind, id, ErrEntityDeleted)
	}

	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET sync_status = 'pending_delete', updated_at = ? WHERE id = ?", c.table),
		now, id)
	if err != nil {
		return 0, &SQLiteError{Op: "StageDelete", Kind: kind, EntityID: id, Err: err}
	}

	payload, err := deletePayload(current)
	if err != nil {
		return 0, err
	}
	queueID, err := insertQueueItem(ctx, tx, QueueItem{
		Op:        OpDelete,
		Kind:      kind,
		EntityID:  id,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, &SQLiteError{Op: "StageDelete", Kind: kind, EntityID: id, Err: err}
	}
	s.bus.Publish(CollectionOf(kind), CollectionQueue)
	return queueID, nil
}

func loadEntity(ctx context.Context, q querier, c *collection, id string) (Entity, error) {
	var (
		status, data string
		updatedAt    int64
	)
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT sync_status, updated_at, data FROM %s WHERE id = ?", c.table), id,
	).Scan(&status, &updatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, &SQLiteError{Op: "GetEntity", Kind: c.kind, EntityID: id, Err: err}
	}
	e, err := c.decodeRow(id, status, updatedAt, data)
	if err != nil {
		return nil, &SQLiteError{Op: "GetEntity", Kind: c.kind, EntityID: id, Err: err}
	}
	return e, nil
}

// mergeFields overlays changes onto an entity through its JSON form, so
// values are checked against the entity's field types.
func mergeFields(e Entity, changes map[string]any) (Entity, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	current, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	return DecodeEntity(e.EntityKind(), merged)
}

// deletePayload carries the id, plus the engagement type for activities.
func deletePayload(e Entity) (json.RawMessage, error) {
	ref := map[string]any{"id": e.Meta().ID}
	if a, ok := e.(*Activity); ok {
		ref["type"] = a.Type
	}
	return json.Marshal(ref)
}

// nullString converts empty strings to NULL for optional columns
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
