package backend

// This file contains shared test helpers and mocks used across packages.

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MockCall records one call made to MockRemote.
type MockCall struct {
	Op     Operation
	Kind   Kind
	ID     string
	Fields map[string]any
}

// MockRemote implements RemoteClient in memory for tests.
type MockRemote struct {
	mu     sync.Mutex
	calls  []MockCall
	known  map[Kind]map[string]bool
	nextID int

	Records map[Kind][]Entity

	// ErrorFor, when set, can fail any write before it is applied.
	ErrorFor func(call MockCall) error
	// RejectUnknown makes update and delete of ids never created or seeded
	// fail with a 404.
	RejectUnknown bool
	// UpdatedAt is returned from writes; zero means time.Now.
	UpdatedAt int64
	// Started, when set, receives every call as it begins.
	Started chan MockCall
	// Release, when set, must deliver a value before a write completes.
	Release chan struct{}
	// PingErr is returned from Ping.
	PingErr error
}

// NewMockRemote creates an empty mock remote. Server ids are assigned as
// increasing integers starting at 1.
func NewMockRemote() *MockRemote {
	return &MockRemote{
		Records: make(map[Kind][]Entity),
		known:   make(map[Kind]map[string]bool),
	}
}

// Seed adds records that FetchAll returns and that count as known ids.
func (m *MockRemote) Seed(kind Kind, entities ...Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[kind] = append(m.Records[kind], entities...)
	for _, e := range entities {
		m.markKnown(kind, e.Meta().ID)
	}
}

// SetNextID sets the server id handed to the next create.
func (m *MockRemote) SetNextID(n int) {
	m.mu.Lock()
	m.nextID = n - 1
	m.mu.Unlock()
}

// Calls returns a copy of the recorded calls in order.
func (m *MockRemote) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockRemote) markKnown(kind Kind, id string) {
	if m.known[kind] == nil {
		m.known[kind] = make(map[string]bool)
	}
	m.known[kind][id] = true
}

func (m *MockRemote) begin(ctx context.Context, call MockCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.Started != nil {
		m.Started <- call
	}
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ErrorFor != nil {
		if err := m.ErrorFor(call); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockRemote) timestamp() int64 {
	if m.UpdatedAt != 0 {
		return m.UpdatedAt
	}
	return time.Now().UnixMilli()
}

func (m *MockRemote) FetchAll(ctx context.Context, kind Kind) ([]Entity, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Op: "fetch", Kind: kind})
	defer m.mu.Unlock()
	return append([]Entity(nil), m.Records[kind]...), nil
}

func (m *MockRemote) Create(ctx context.Context, e Entity) (*RemoteRecord, error) {
	call := MockCall{Op: OpCreate, Kind: e.EntityKind(), ID: e.Meta().ID}
	if err := m.begin(ctx, call); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.markKnown(call.Kind, id)
	return &RemoteRecord{ID: id, UpdatedAt: m.timestamp()}, nil
}

func (m *MockRemote) Update(ctx context.Context, kind Kind, id string, fields map[string]any) (*RemoteRecord, error) {
	call := MockCall{Op: OpUpdate, Kind: kind, ID: id, Fields: fields}
	if err := m.begin(ctx, call); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectUnknown && !m.known[kind][id] {
		return nil, NewBackendError(fmt.Sprintf("update %s", kind), 404, "Not Found").WithEntity(kind, id)
	}
	return &RemoteRecord{ID: id, UpdatedAt: m.timestamp()}, nil
}

func (m *MockRemote) Delete(ctx context.Context, e Entity) error {
	kind, id := e.EntityKind(), e.Meta().ID
	call := MockCall{Op: OpDelete, Kind: kind, ID: id}
	if err := m.begin(ctx, call); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectUnknown && !m.known[kind][id] {
		return NewBackendError(fmt.Sprintf("delete %s", kind), 404, "Not Found").WithEntity(kind, id)
	}
	delete(m.known[kind], id)
	return nil
}

func (m *MockRemote) Ping(ctx context.Context) error {
	return m.PingErr
}
