package backend

import "context"

// RemoteClient is the narrow view of the remote CRM the sync engine needs.
// Implementations surface failures as errors with a readable message and
// leave retry policy to the caller.
type RemoteClient interface {
	// FetchAll returns every record of a kind, following pagination.
	FetchAll(ctx context.Context, kind Kind) ([]Entity, error)
	// Create stores a new record and returns the server id and timestamp.
	Create(ctx context.Context, e Entity) (*RemoteRecord, error)
	// Update applies changed fields (JSON field names) to a record.
	Update(ctx context.Context, kind Kind, id string, fields map[string]any) (*RemoteRecord, error)
	// Delete removes a record. Only the id (and, for activities, the
	// engagement type) of e is required.
	Delete(ctx context.Context, e Entity) error
	// Ping checks that the remote is reachable with the configured credential.
	Ping(ctx context.Context) error
}
