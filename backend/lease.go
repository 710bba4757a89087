package backend

import (
	"context"
	"errors"
	"time"
)

// passLease names the lock row that serializes sync passes across every
// process sharing the database file.
const passLease = "sync_pass"

// DefaultLeaseTTL is how long a pass lease lasts without renewal.
const DefaultLeaseTTL = 2 * time.Minute

// ErrLeaseLost is returned when a holder renews a lease that expired and was
// taken by another process.
var ErrLeaseLost = errors.New("sync pass lease lost")

// AcquireLease takes the pass lease for owner until ttl from now. It
// succeeds when the lease is free, expired, or already held by owner.
func (q *Queue) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_lock (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE sync_lock.owner = excluded.owner OR sync_lock.expires_at <= ?
	`, passLease, owner, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, &SQLiteError{Op: "AcquireLease", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RenewLease extends a held lease. It fails with ErrLeaseLost when owner no
// longer holds it.
func (q *Queue) RenewLease(ctx context.Context, owner string, ttl time.Duration) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_lock SET expires_at = ? WHERE name = ? AND owner = ?`,
		time.Now().Add(ttl).UnixMilli(), passLease, owner)
	if err != nil {
		return &SQLiteError{Op: "RenewLease", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLease drops the lease if owner holds it.
func (q *Queue) ReleaseLease(ctx context.Context, owner string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_lock WHERE name = ? AND owner = ?`, passLease, owner)
	if err != nil {
		return &SQLiteError{Op: "ReleaseLease", Err: err}
	}
	return nil
}
