package hubspot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crmsync/backend"
)

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	sets  map[string][]Pipeline
}

func (l *countingLoader) LoadPipelines(ctx context.Context, objectType string) ([]Pipeline, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.sets[objectType], nil
}

func salesPipelines() map[string][]Pipeline {
	return map[string][]Pipeline{
		"deals": {{
			ID:     "default",
			Label:  "Sales Pipeline",
			Stages: map[string]string{"appointmentscheduled": "Appointment Scheduled", "closedwon": "Closed Won"},
		}},
		"tickets": {{
			ID:     "0",
			Label:  "Support Pipeline",
			Stages: map[string]string{"1": "New", "4": "Closed"},
		}},
	}
}

// TestPipelineCacheResolve tests label lookup
func TestPipelineCacheResolve(t *testing.T) {
	loader := &countingLoader{sets: salesPipelines()}
	pc := NewPipelineCache()
	ctx := context.Background()

	tests := []struct {
		name       string
		objectType string
		pipeline   string
		stage      string
		wantPipe   string
		wantStage  string
	}{
		{"known stage", "deals", "default", "closedwon", "Sales Pipeline", "Closed Won"},
		{"unknown stage", "deals", "default", "mystery", "Sales Pipeline", "mystery"},
		{"unknown pipeline", "deals", "other", "closedwon", "other", "closedwon"},
		{"stage without pipeline", "tickets", "", "4", "", "Closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe, stage := pc.Resolve(ctx, loader, tt.objectType, tt.pipeline, tt.stage)
			if pipe != tt.wantPipe || stage != tt.wantStage {
				t.Errorf("Resolve() = (%q, %q), want (%q, %q)", pipe, stage, tt.wantPipe, tt.wantStage)
			}
		})
	}

	if got := loader.calls.Load(); got != 2 {
		t.Errorf("loader called %d times, want once per object type (2)", got)
	}
}

// TestPipelineCacheConcurrentLoad tests that parallel first lookups share one fetch
func TestPipelineCacheConcurrentLoad(t *testing.T) {
	loader := &countingLoader{sets: salesPipelines(), delay: 50 * time.Millisecond}
	pc := NewPipelineCache()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stage := pc.Resolve(context.Background(), loader, "deals", "default", "closedwon")
			if stage != "Closed Won" {
				t.Errorf("stage = %q, want Closed Won", stage)
			}
		}()
	}
	wg.Wait()

	if got := loader.calls.Load(); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}
	if !pc.Loaded("deals") {
		t.Error("deals should be loaded")
	}
}

// TestPipelineCacheFailureNotCached tests raw-id fallback and retry after a failed load
func TestPipelineCacheFailureNotCached(t *testing.T) {
	loader := &countingLoader{sets: salesPipelines(), err: errors.New("boom")}
	pc := NewPipelineCache()
	ctx := context.Background()

	pipe, stage := pc.Resolve(ctx, loader, "deals", "default", "closedwon")
	if pipe != "default" || stage != "closedwon" {
		t.Errorf("Resolve() = (%q, %q), want raw ids", pipe, stage)
	}
	if pc.Loaded("deals") {
		t.Error("failed load should not be cached")
	}

	loader.err = nil
	_, stage = pc.Resolve(ctx, loader, "deals", "default", "closedwon")
	if stage != "Closed Won" {
		t.Errorf("stage after retry = %q, want Closed Won", stage)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Errorf("loader called %d times, want 2", got)
	}
}

// TestFetchDealsAppliesLabels tests that deal fetches resolve pipeline labels once
func TestFetchDealsAppliesLabels(t *testing.T) {
	var pipelineRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/crm/v3/pipelines/deals":
			pipelineRequests.Add(1)
			_, _ = w.Write([]byte(`{"results":[{"id":"default","label":"Sales Pipeline","stages":[{"id":"closedwon","label":"Closed Won"}]}]}`))
		case "/crm/v3/objects/deals":
			_, _ = w.Write([]byte(`{"results":[
				{"id":"1","properties":{"dealname":"A","amount":"100.5","dealstage":"closedwon","pipeline":"default"}},
				{"id":"2","properties":{"dealname":"B","dealstage":"closedwon","pipeline":"default"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	entities, err := client.FetchAll(context.Background(), backend.KindDeal)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d deals, want 2", len(entities))
	}
	d := entities[0].(*backend.Deal)
	if d.Stage != "closedwon" || d.StageLabel != "Closed Won" || d.PipelineLabel != "Sales Pipeline" {
		t.Errorf("unexpected deal labels %+v", d)
	}
	if d.Amount != 100.5 {
		t.Errorf("Amount = %v, want 100.5", d.Amount)
	}
	if got := pipelineRequests.Load(); got != 1 {
		t.Errorf("pipelines requested %d times, want 1", got)
	}
}
