package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RemoteRecord is what the remote reports back after a write.
type RemoteRecord struct {
	ID        string
	UpdatedAt int64 // epoch millis
}

// RefreshStats summarizes one bulk replace from the remote.
type RefreshStats struct {
	Kind    Kind `json:"kind" yaml:"kind"`
	Fetched int  `json:"fetched" yaml:"fetched"`
	Written int  `json:"written" yaml:"written"`
	Skipped int  `json:"skipped" yaml:"skipped"` // kept because a local change is pending
	Pruned  int  `json:"pruned" yaml:"pruned"`   // synced rows gone from the remote
}

// CompleteCreate reconciles a successful create. The local id is replaced by
// the server id everywhere it appears (the row itself, foreign keys in other
// rows and ids inside later queue payloads), updatedAt takes the server value
// and the queue item is removed, all in one transaction.
func (s *Store) CompleteCreate(ctx context.Context, item QueueItem, rec RemoteRecord) error {
	c, err := collectionFor(item.Kind)
	if err != nil {
		return err
	}
	newID := rec.ID
	if newID == "" {
		newID = item.EntityID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "CompleteCreate", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	defer tx.Rollback()

	changed := []Collection{CollectionOf(item.Kind), CollectionQueue}
	if newID != item.EntityID {
		refs, err := remapID(ctx, tx, item, newID)
		if err != nil {
			return &SQLiteError{Op: "CompleteCreate", Kind: item.Kind, EntityID: item.EntityID, Err: err}
		}
		changed = append(changed, refs...)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return &SQLiteError{Op: "CompleteCreate", Kind: item.Kind, EntityID: newID, Err: err}
	}
	if err := settleEntity(ctx, tx, c, newID, rec.UpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "CompleteCreate", Kind: item.Kind, EntityID: newID, Err: err}
	}
	s.bus.Publish(changed...)
	return nil
}

// CompleteUpdate reconciles a successful update.
func (s *Store) CompleteUpdate(ctx context.Context, item QueueItem, updatedAt int64) error {
	c, err := collectionFor(item.Kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "CompleteUpdate", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return &SQLiteError{Op: "CompleteUpdate", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	if err := settleEntity(ctx, tx, c, item.EntityID, updatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "CompleteUpdate", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	s.bus.Publish(CollectionOf(item.Kind), CollectionQueue)
	return nil
}

// CompleteDelete removes the confirmed-deleted row and its queue item.
func (s *Store) CompleteDelete(ctx context.Context, item QueueItem) error {
	c, err := collectionFor(item.Kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "CompleteDelete", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return &SQLiteError{Op: "CompleteDelete", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	next, err := nextQueuedOp(ctx, tx, item.Kind, item.EntityID)
	if err != nil {
		return err
	}
	if next == "" {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table), item.EntityID)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ?", c.table),
			string(PendingStatusFor(next)), item.EntityID)
	}
	if err != nil {
		return &SQLiteError{Op: "CompleteDelete", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "CompleteDelete", Kind: item.Kind, EntityID: item.EntityID, Err: err}
	}
	s.bus.Publish(CollectionOf(item.Kind), CollectionQueue)
	return nil
}

// settleEntity sets the entity synced, or to the pending status of the next
// item still queued for it. A zero updatedAt keeps the local timestamp.
func settleEntity(ctx context.Context, tx *sql.Tx, c *collection, id string, updatedAt int64) error {
	next, err := nextQueuedOp(ctx, tx, c.kind, id)
	if err != nil {
		return err
	}
	status := StatusSynced
	if next != "" {
		status = PendingStatusFor(next)
	}

	query := fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ?", c.table)
	args := []any{string(status), id}
	if updatedAt > 0 {
		query = fmt.Sprintf("UPDATE %s SET sync_status = ?, updated_at = ? WHERE id = ?", c.table)
		args = []any{string(status), updatedAt, id}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return &SQLiteError{Op: "settle", Kind: c.kind, EntityID: id, Err: err}
	}
	return nil
}

// remapID rewrites a temporary id to the server id and returns the
// collections it touched.
func remapID(ctx context.Context, tx *sql.Tx, item QueueItem, newID string) ([]Collection, error) {
	oldID := item.EntityID
	c := collections[item.Kind]

	// A refresh may already have pulled the server copy; the local row wins.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table), newID); err != nil {
		return nil, err
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET id = ?, data = json_set(data, '$.id', ?) WHERE id = ?", c.table),
		newID, newID, oldID)
	if err != nil {
		return nil, err
	}

	// Later queue items for the same entity
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_queue SET entity_id = ?, payload = json_set(payload, '$.id', ?)
		WHERE entity_kind = ? AND entity_id = ? AND id != ?
	`, newID, newID, string(item.Kind), oldID, item.ID)
	if err != nil {
		return nil, err
	}

	var touched []Collection
	for _, kind := range AllKinds() {
		other := collections[kind]
		for _, f := range other.fields {
			if f.Ref != item.Kind {
				continue
			}
			path := "$." + f.Field
			res, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET %s = ?, data = json_set(data, '%s', ?) WHERE %s = ?", other.table, f.Column, path, f.Column),
				newID, newID, oldID)
			if err != nil {
				return nil, err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				touched = append(touched, CollectionOf(kind))
			}
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE sync_queue SET payload = json_set(payload, '%s', ?) WHERE entity_kind = ? AND json_extract(payload, '%s') = ?", path, path),
				newID, string(kind), oldID)
			if err != nil {
				return nil, err
			}
		}
	}
	return touched, nil
}

// ReplaceFromRemote mirrors a full remote listing of one kind. Rows with a
// pending local change are left alone; synced rows missing from the listing
// are pruned.
func (s *Store) ReplaceFromRemote(ctx context.Context, kind Kind, remote []Entity) (RefreshStats, error) {
	stats := RefreshStats{Kind: kind, Fetched: len(remote)}
	c, err := collectionFor(kind)
	if err != nil {
		return stats, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, Err: err}
	}
	defer tx.Rollback()

	local := make(map[string]SyncStatus)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT id, sync_status FROM %s", c.table))
	if err != nil {
		return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, Err: err}
	}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, Err: err}
		}
		local[id] = SyncStatus(status)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, Err: err}
	}

	seen := make(map[string]bool, len(remote))
	upsert := c.upsertSQL()
	for _, e := range remote {
		meta := e.Meta()
		seen[meta.ID] = true
		if status, ok := local[meta.ID]; ok && status.IsPending() {
			stats.Skipped++
			continue
		}
		meta.SyncStatus = StatusSynced
		args, _, err := c.upsertArgs(e)
		if err != nil {
			return stats, err
		}
		if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
			return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, EntityID: meta.ID, Err: err}
		}
		stats.Written++
	}

	for id, status := range local {
		if seen[id] || status != StatusSynced {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table), id); err != nil {
			return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, EntityID: id, Err: err}
		}
		stats.Pruned++
	}

	if err := tx.Commit(); err != nil {
		return stats, &SQLiteError{Op: "ReplaceFromRemote", Kind: kind, Err: err}
	}
	s.bus.Publish(CollectionOf(kind))
	return stats, nil
}

// EnqueueOrphans finds entities in a pending state that no queue item refers
// to (a crash between the local write and the enqueue) and queues them again.
// Creates and updates carry the full entity, deletes only the id.
func (s *Store) EnqueueOrphans(ctx context.Context) ([]QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &SQLiteError{Op: "EnqueueOrphans", Err: err}
	}
	defer tx.Rollback()

	var queued []QueueItem
	for _, kind := range AllKinds() {
		c := collections[kind]
		orphans, err := findOrphans(ctx, tx, c)
		if err != nil {
			return nil, err
		}

		for _, e := range orphans {
			meta := e.Meta()
			op := OpUpdate
			switch meta.SyncStatus {
			case StatusPendingCreate:
				op = OpCreate
			case StatusPendingDelete:
				op = OpDelete
			}

			var payload json.RawMessage
			if op == OpDelete {
				payload, err = deletePayload(e)
			} else {
				payload, err = json.Marshal(e)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s %s: %w", kind, meta.ID, err)
			}

			item := QueueItem{
				Op:        op,
				Kind:      kind,
				EntityID:  meta.ID,
				Payload:   payload,
				Timestamp: meta.UpdatedAt,
				Status:    QueuePending,
			}
			id, err := insertQueueItem(ctx, tx, item)
			if err != nil {
				return nil, err
			}
			item.ID = id
			queued = append(queued, item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &SQLiteError{Op: "EnqueueOrphans", Err: err}
	}
	if len(queued) > 0 {
		s.bus.Publish(CollectionQueue)
	}
	return queued, nil
}

func findOrphans(ctx context.Context, tx *sql.Tx, c *collection) ([]Entity, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, sync_status, updated_at, data FROM %s
		WHERE sync_status != 'synced'
		  AND id NOT IN (SELECT entity_id FROM sync_queue WHERE entity_kind = ?)
		ORDER BY updated_at ASC, id ASC
	`, c.table), string(c.kind))
	if err != nil {
		return nil, &SQLiteError{Op: "EnqueueOrphans", Kind: c.kind, Err: err}
	}
	defer rows.Close()

	var orphans []Entity
	for rows.Next() {
		var (
			id, status, data string
			updatedAt        int64
		)
		if err := rows.Scan(&id, &status, &updatedAt, &data); err != nil {
			return nil, &SQLiteError{Op: "EnqueueOrphans", Kind: c.kind, Err: err}
		}
		e, err := c.decodeRow(id, status, updatedAt, data)
		if err != nil {
			return nil, &SQLiteError{Op: "EnqueueOrphans", Kind: c.kind, EntityID: id, Err: err}
		}
		orphans = append(orphans, e)
	}
	return orphans, rows.Err()
}
