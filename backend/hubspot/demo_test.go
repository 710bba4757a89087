package hubspot

import (
	"context"
	"strings"
	"testing"

	"crmsync/backend"
)

func newTestDemo(opts ...Option) *DemoClient {
	return NewDemoClient(append([]Option{WithDemoLatency(0, 0)}, opts...)...)
}

// TestDemoFixtures tests that the demo client starts with records of every kind
func TestDemoFixtures(t *testing.T) {
	d := newTestDemo()
	for _, kind := range backend.AllKinds() {
		entities, err := d.FetchAll(context.Background(), kind)
		if err != nil {
			t.Fatalf("FetchAll(%s) error = %v", kind, err)
		}
		if len(entities) == 0 {
			t.Errorf("no %s fixtures", kind)
		}
	}
}

// TestDemoCRUD tests create, update and delete against the demo client
func TestDemoCRUD(t *testing.T) {
	d := newTestDemo(WithoutFixtures())
	ctx := context.Background()

	rec, err := d.Create(ctx, &backend.Company{SyncMeta: backend.SyncMeta{ID: "temp"}, Name: "Initech"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(rec.ID, "demo-") {
		t.Errorf("ID = %q, want demo- prefix", rec.ID)
	}

	if _, err := d.Update(ctx, backend.KindCompany, rec.ID, map[string]any{"city": "Austin"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	companies, _ := d.FetchAll(ctx, backend.KindCompany)
	if len(companies) != 1 {
		t.Fatalf("got %d companies, want 1", len(companies))
	}
	c := companies[0].(*backend.Company)
	if c.Name != "Initech" || c.City != "Austin" || c.ID != rec.ID {
		t.Errorf("unexpected company %+v", c)
	}

	// Mutating a fetched record must not leak into the demo store.
	c.Name = "changed"
	companies, _ = d.FetchAll(ctx, backend.KindCompany)
	if companies[0].(*backend.Company).Name != "Initech" {
		t.Error("fetched entity aliases demo state")
	}

	if err := d.Delete(ctx, c); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := d.Delete(ctx, c); err == nil {
		t.Error("deleting twice should fail")
	}
	if _, err := d.Update(ctx, backend.KindCompany, rec.ID, map[string]any{"city": "x"}); err == nil {
		t.Error("updating a deleted record should fail")
	}
}

// TestDemoHonoursContext tests that a cancelled context aborts the simulated latency
func TestDemoHonoursContext(t *testing.T) {
	d := NewDemoClient(WithoutFixtures())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.FetchAll(ctx, backend.KindContact); err == nil {
		t.Error("expected context error")
	}
}
