package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"crmsync/backend"
)

// Fixed latencies simulated by the demo client.
const (
	DemoWriteLatency = 500 * time.Millisecond
	DemoFetchLatency = time.Second
)

// WithDemoLatency overrides the simulated latencies (tests pass zero).
func WithDemoLatency(write, fetch time.Duration) Option {
	return func(o *options) {
		o.writeDelay = write
		o.fetchDelay = fetch
	}
}

// WithoutFixtures starts the demo client with no records.
func WithoutFixtures() Option {
	return func(o *options) { o.withFixture = false }
}

// DemoClient simulates the remote CRM in memory. It is used when no token
// is configured.
type DemoClient struct {
	mu         sync.Mutex
	records    map[backend.Kind]map[string]backend.Entity
	nextID     int
	writeDelay time.Duration
	fetchDelay time.Duration
}

var _ backend.RemoteClient = (*DemoClient)(nil)

// NewDemoClient creates a demo client seeded with fixture records.
func NewDemoClient(opts ...Option) *DemoClient {
	o := buildOptions(opts)
	d := &DemoClient{
		records:    make(map[backend.Kind]map[string]backend.Entity),
		nextID:     1000,
		writeDelay: o.writeDelay,
		fetchDelay: o.fetchDelay,
	}
	for _, kind := range backend.AllKinds() {
		d.records[kind] = make(map[string]backend.Entity)
	}
	if o.withFixture {
		for _, e := range demoFixtures(time.Now()) {
			d.records[e.EntityKind()][e.Meta().ID] = e
		}
	}
	return d
}

func (d *DemoClient) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DemoClient) FetchAll(ctx context.Context, kind backend.Kind) ([]backend.Entity, error) {
	if err := d.wait(ctx, d.fetchDelay); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	records, ok := d.records[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	// Callers own the returned entities, so hand out copies.
	out := make([]backend.Entity, 0, len(records))
	for _, e := range records {
		fields, err := entityFields(e)
		if err != nil {
			return nil, err
		}
		copied, err := decodeInto(kind, fields)
		if err != nil {
			return nil, err
		}
		*copied.Meta() = *e.Meta()
		out = append(out, copied)
	}
	return out, nil
}

func (d *DemoClient) Create(ctx context.Context, e backend.Entity) (*backend.RemoteRecord, error) {
	if err := d.wait(ctx, d.writeDelay); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	rec := &backend.RemoteRecord{
		ID:        fmt.Sprintf("demo-%d", d.nextID),
		UpdatedAt: time.Now().UnixMilli(),
	}

	fields, err := entityFields(e)
	if err != nil {
		return nil, err
	}
	stored, err := decodeInto(e.EntityKind(), fields)
	if err != nil {
		return nil, err
	}
	meta := stored.Meta()
	meta.ID = rec.ID
	meta.SyncStatus = backend.StatusSynced
	meta.UpdatedAt = rec.UpdatedAt
	d.records[e.EntityKind()][rec.ID] = stored
	return rec, nil
}

func (d *DemoClient) Update(ctx context.Context, kind backend.Kind, id string, fields map[string]any) (*backend.RemoteRecord, error) {
	if err := d.wait(ctx, d.writeDelay); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.records[kind][id]
	if !ok {
		return nil, backend.NewBackendError("update "+string(kind), 404, "Not Found").WithEntity(kind, id)
	}
	merged, err := entityFields(current)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	updated, err := decodeInto(kind, merged)
	if err != nil {
		return nil, backend.NewBackendError("update "+string(kind), 400, "Bad Request").WithError(err)
	}
	meta := updated.Meta()
	meta.ID = id
	meta.SyncStatus = backend.StatusSynced
	meta.UpdatedAt = time.Now().UnixMilli()
	d.records[kind][id] = updated
	return &backend.RemoteRecord{ID: id, UpdatedAt: meta.UpdatedAt}, nil
}

func (d *DemoClient) Delete(ctx context.Context, e backend.Entity) error {
	if err := d.wait(ctx, d.writeDelay); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	kind, id := e.EntityKind(), e.Meta().ID
	if _, ok := d.records[kind][id]; !ok {
		return backend.NewBackendError("delete "+string(kind), 404, "Not Found").WithEntity(kind, id)
	}
	delete(d.records[kind], id)
	return nil
}

func (d *DemoClient) Ping(ctx context.Context) error {
	return ctx.Err()
}

func decodeInto(kind backend.Kind, fields map[string]any) (backend.Entity, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return backend.DecodeEntity(kind, data)
}

func demoFixtures(now time.Time) []backend.Entity {
	ts := now.UnixMilli()
	meta := func(id string) backend.SyncMeta {
		return backend.SyncMeta{ID: id, SyncStatus: backend.StatusSynced, UpdatedAt: ts}
	}
	return []backend.Entity{
		&backend.Company{SyncMeta: meta("demo-1"), Name: "Acme Corporation", Domain: "acme.example", Industry: "Manufacturing", City: "Portland"},
		&backend.Company{SyncMeta: meta("demo-2"), Name: "Globex", Domain: "globex.example", Industry: "Energy", City: "Springfield"},
		&backend.Contact{SyncMeta: meta("demo-3"), FirstName: "Jane", LastName: "Cooper", Email: "jane@acme.example", JobTitle: "Buyer", CompanyID: "demo-1"},
		&backend.Contact{SyncMeta: meta("demo-4"), FirstName: "Hank", LastName: "Scorpio", Email: "hank@globex.example", CompanyID: "demo-2"},
		&backend.Deal{SyncMeta: meta("demo-5"), Name: "Acme annual renewal", Amount: 12000, Stage: "appointmentscheduled", StageLabel: "Appointment Scheduled", Pipeline: "default", PipelineLabel: "Sales Pipeline", CompanyID: "demo-1"},
		&backend.Ticket{SyncMeta: meta("demo-6"), Subject: "Invoice missing", Content: "Customer did not receive the March invoice", Status: "1", StatusLabel: "New", Priority: "HIGH", ContactID: "demo-3", CompanyID: "demo-1"},
		&backend.Activity{SyncMeta: meta("demo-7"), Type: backend.ActivityNote, Body: "Discussed renewal terms", Timestamp: ts, ContactID: "demo-3", DealID: "demo-5"},
		&backend.Activity{SyncMeta: meta("demo-8"), Type: backend.ActivityCall, Body: "Follow-up call", Timestamp: ts - 3600000, ContactID: "demo-4"},
	}
}
