package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// TestCompleteCreateReconciles tests that server id and timestamp replace the local ones
func TestCompleteCreateReconciles(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	contact := &Contact{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com"}
	queueID, err := store.StageCreate(ctx, contact)
	if err != nil {
		t.Fatalf("StageCreate failed: %v", err)
	}
	item, _ := store.Queue().Get(ctx, queueID)

	if err := store.CompleteCreate(ctx, *item, RemoteRecord{ID: "42", UpdatedAt: 1700000000000}); err != nil {
		t.Fatalf("CompleteCreate failed: %v", err)
	}

	if _, err := store.GetEntity(ctx, KindContact, contact.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Local id should be gone, got %v", err)
	}
	got, err := store.GetEntity(ctx, KindContact, "42")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	meta := got.Meta()
	if meta.ID != "42" || meta.UpdatedAt != 1700000000000 || meta.SyncStatus != StatusSynced {
		t.Errorf("Unexpected reconciled meta: %+v", meta)
	}
	if got.(*Contact).Email != "ann@x.com" {
		t.Errorf("Fields should survive reconciliation, got %+v", got)
	}
	if _, err := store.Queue().Get(ctx, queueID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Queue item should be removed, got %v", err)
	}
}

// TestCompleteCreateRemapsReferences tests that dependent rows and queued payloads follow the new id
func TestCompleteCreateRemapsReferences(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	company := &Company{Name: "Acme"}
	createID, _ := store.StageCreate(ctx, company)
	tempID := company.ID

	contact := &Contact{FirstName: "Bo", CompanyID: tempID}
	store.StageCreate(ctx, contact)
	updateID, _ := store.StageUpdate(ctx, KindCompany, tempID, map[string]any{"city": "Oslo"})

	item, _ := store.Queue().Get(ctx, createID)
	if err := store.CompleteCreate(ctx, *item, RemoteRecord{ID: "900", UpdatedAt: 5}); err != nil {
		t.Fatalf("CompleteCreate failed: %v", err)
	}

	// The company has another queued update so it stays pending
	got, err := store.GetEntity(ctx, KindCompany, "900")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Meta().SyncStatus != StatusPendingUpdate {
		t.Errorf("Expected pending_update while an update is queued, got %s", got.Meta().SyncStatus)
	}

	storedContact, _ := store.GetEntity(ctx, KindContact, contact.ID)
	if storedContact.(*Contact).CompanyID != "900" {
		t.Errorf("Contact companyId not remapped: %q", storedContact.(*Contact).CompanyID)
	}
	byCompany, _ := store.ListEntities(ctx, KindContact, &EntityFilter{Where: map[string]string{"companyId": "900"}})
	if len(byCompany) != 1 {
		t.Errorf("Indexed company_id not remapped, got %d rows", len(byCompany))
	}

	update, _ := store.Queue().Get(ctx, updateID)
	if update.EntityID != "900" {
		t.Errorf("Queued update entity id not remapped: %q", update.EntityID)
	}
	var payload map[string]any
	json.Unmarshal(update.Payload, &payload)
	if payload["id"] != "900" {
		t.Errorf("Queued update payload id not remapped: %v", payload)
	}

	items, _ := store.Queue().List(ctx)
	for _, it := range items {
		if it.Kind != KindContact {
			continue
		}
		var c Contact
		json.Unmarshal(it.Payload, &c)
		if c.CompanyID != "900" {
			t.Errorf("Queued contact create still references %q", c.CompanyID)
		}
	}
}

// TestCompleteUpdateAndDelete tests reconciliation of updates and deletes
func TestCompleteUpdateAndDelete(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.PutEntity(ctx, &Deal{SyncMeta: SyncMeta{ID: "7", UpdatedAt: 1}, Name: "Big"})
	updateID, _ := store.StageUpdate(ctx, KindDeal, "7", map[string]any{"amount": 5000})
	item, _ := store.Queue().Get(ctx, updateID)

	if err := store.CompleteUpdate(ctx, *item, 777); err != nil {
		t.Fatalf("CompleteUpdate failed: %v", err)
	}
	deal, _ := store.GetEntity(ctx, KindDeal, "7")
	if deal.Meta().SyncStatus != StatusSynced || deal.Meta().UpdatedAt != 777 {
		t.Errorf("Unexpected deal after update: %+v", deal.Meta())
	}

	deleteID, _ := store.StageDelete(ctx, KindDeal, "7")
	item, _ = store.Queue().Get(ctx, deleteID)
	if err := store.CompleteDelete(ctx, *item); err != nil {
		t.Fatalf("CompleteDelete failed: %v", err)
	}
	if _, err := store.GetEntity(ctx, KindDeal, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleted deal should be gone, got %v", err)
	}
	counts, _ := store.Queue().Counts(ctx)
	if counts.Pending+counts.Failed+counts.Processing != 0 {
		t.Errorf("Queue should be empty, got %+v", counts)
	}
}

// TestReplaceFromRemote tests that refresh keeps pending rows and prunes vanished synced rows
func TestReplaceFromRemote(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.PutEntity(ctx, &Contact{SyncMeta: SyncMeta{ID: "1"}, FirstName: "Old"})
	store.PutEntity(ctx, &Contact{SyncMeta: SyncMeta{ID: "2"}, FirstName: "Local"})
	store.PutEntity(ctx, &Contact{SyncMeta: SyncMeta{ID: "gone"}, FirstName: "Gone"})
	store.StageUpdate(ctx, KindContact, "2", map[string]any{"firstName": "Edited"})
	pendingNew := &Contact{FirstName: "Offline"}
	store.StageCreate(ctx, pendingNew)

	remote := []Entity{
		&Contact{SyncMeta: SyncMeta{ID: "1", UpdatedAt: 10}, FirstName: "New"},
		&Contact{SyncMeta: SyncMeta{ID: "2", UpdatedAt: 10}, FirstName: "Server"},
		&Contact{SyncMeta: SyncMeta{ID: "3", UpdatedAt: 10}, FirstName: "Fresh"},
	}
	stats, err := store.ReplaceFromRemote(ctx, KindContact, remote)
	if err != nil {
		t.Fatalf("ReplaceFromRemote failed: %v", err)
	}
	if stats.Fetched != 3 || stats.Written != 2 || stats.Skipped != 1 || stats.Pruned != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	one, _ := store.GetEntity(ctx, KindContact, "1")
	if one.(*Contact).FirstName != "New" {
		t.Errorf("Synced row should be overwritten, got %q", one.(*Contact).FirstName)
	}
	two, _ := store.GetEntity(ctx, KindContact, "2")
	if two.(*Contact).FirstName != "Edited" || two.Meta().SyncStatus != StatusPendingUpdate {
		t.Errorf("Pending row should be kept, got %+v", two)
	}
	if _, err := store.GetEntity(ctx, KindContact, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Vanished synced row should be pruned, got %v", err)
	}
	if _, err := store.GetEntity(ctx, KindContact, pendingNew.ID); err != nil {
		t.Errorf("Offline-created row must survive refresh: %v", err)
	}
}

// TestEnqueueOrphans tests the startup sweep for pending rows without queue items
func TestEnqueueOrphans(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Simulate a crash: pending rows written without queue items
	store.PutEntity(ctx, &Ticket{SyncMeta: SyncMeta{ID: "t-new", SyncStatus: StatusPendingCreate, UpdatedAt: 1}, Subject: "New"})
	store.PutEntity(ctx, &Ticket{SyncMeta: SyncMeta{ID: "t-edit", SyncStatus: StatusPendingUpdate, UpdatedAt: 2}, Subject: "Edit"})
	store.PutEntity(ctx, &Activity{SyncMeta: SyncMeta{ID: "a-del", SyncStatus: StatusPendingDelete, UpdatedAt: 3}, Type: ActivityCall})
	// A pending row that already has its item is not an orphan
	healthy := &Ticket{Subject: "Queued"}
	store.StageCreate(ctx, healthy)

	queued, err := store.EnqueueOrphans(ctx)
	if err != nil {
		t.Fatalf("EnqueueOrphans failed: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("Expected 3 orphans, got %d: %+v", len(queued), queued)
	}

	byEntity := map[string]QueueItem{}
	for _, item := range queued {
		byEntity[item.EntityID] = item
	}
	if byEntity["t-new"].Op != OpCreate || byEntity["t-edit"].Op != OpUpdate || byEntity["a-del"].Op != OpDelete {
		t.Errorf("Unexpected operations: %+v", byEntity)
	}
	var del map[string]any
	json.Unmarshal(byEntity["a-del"].Payload, &del)
	if del["id"] != "a-del" || del["type"] != "call" {
		t.Errorf("Unexpected delete payload: %v", del)
	}

	// A second sweep finds nothing
	again, err := store.EnqueueOrphans(ctx)
	if err != nil {
		t.Fatalf("EnqueueOrphans failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no orphans on second sweep, got %d", len(again))
	}
}
