package hubspot

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"crmsync/internal/utils"
)

// Pipeline is one pipeline definition with its stage labels.
type Pipeline struct {
	ID     string
	Label  string
	Stages map[string]string // stageID -> label
}

// PipelineLoader fetches every pipeline of an object type ("deals", "tickets").
type PipelineLoader interface {
	LoadPipelines(ctx context.Context, objectType string) ([]Pipeline, error)
}

// PipelineCache resolves pipeline and stage ids to labels. Each object type
// is fetched once, on first use, and never changes afterwards. Concurrent
// first lookups share a single fetch. A failed fetch is not cached: lookups
// return the raw ids and the next lookup tries again.
type PipelineCache struct {
	group singleflight.Group
	mu    sync.RWMutex
	sets  map[string]map[string]Pipeline
}

func NewPipelineCache() *PipelineCache {
	return &PipelineCache{sets: make(map[string]map[string]Pipeline)}
}

// Loaded reports whether the object type's pipelines are in memory.
func (pc *PipelineCache) Loaded(objectType string) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	_, ok := pc.sets[objectType]
	return ok
}

// Resolve returns display labels for a pipeline and stage. It never fails;
// unknown or unloadable ids come back unchanged.
func (pc *PipelineCache) Resolve(ctx context.Context, loader PipelineLoader, objectType, pipelineID, stageID string) (pipelineLabel, stageLabel string) {
	pipelineLabel, stageLabel = pipelineID, stageID

	set := pc.load(ctx, loader, objectType)
	if set == nil {
		return
	}

	if p, ok := set[pipelineID]; ok {
		pipelineLabel = p.Label
		if label, ok := p.Stages[stageID]; ok {
			stageLabel = label
		}
		return
	}

	// Stage ids are unique across pipelines, so a missing pipeline id can
	// still resolve its stage.
	if pipelineID == "" {
		for _, p := range set {
			if label, ok := p.Stages[stageID]; ok {
				stageLabel = label
				return
			}
		}
	}
	return
}

func (pc *PipelineCache) load(ctx context.Context, loader PipelineLoader, objectType string) map[string]Pipeline {
	pc.mu.RLock()
	set, ok := pc.sets[objectType]
	pc.mu.RUnlock()
	if ok {
		return set
	}

	v, err, _ := pc.group.Do(objectType, func() (interface{}, error) {
		pc.mu.RLock()
		set, ok := pc.sets[objectType]
		pc.mu.RUnlock()
		if ok {
			return set, nil
		}

		pipelines, err := loader.LoadPipelines(ctx, objectType)
		if err != nil {
			return nil, err
		}
		set = make(map[string]Pipeline, len(pipelines))
		for _, p := range pipelines {
			set[p.ID] = p
		}

		pc.mu.Lock()
		pc.sets[objectType] = set
		pc.mu.Unlock()
		return set, nil
	})
	if err != nil {
		utils.Warnf("Failed to load %s pipelines, showing raw ids: %v", objectType, err)
		return nil
	}
	return v.(map[string]Pipeline)
}

type pipelinesResponse struct {
	Results []struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Stages []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"stages"`
	} `json:"results"`
}

// LoadPipelines implements PipelineLoader against /crm/v3/pipelines.
func (c *Client) LoadPipelines(ctx context.Context, objectType string) ([]Pipeline, error) {
	var resp pipelinesResponse
	if err := c.do(ctx, "list "+objectType+" pipelines", http.MethodGet, "/crm/v3/pipelines/"+objectType, nil, &resp); err != nil {
		return nil, err
	}

	pipelines := make([]Pipeline, 0, len(resp.Results))
	for _, r := range resp.Results {
		p := Pipeline{ID: r.ID, Label: r.Label, Stages: make(map[string]string, len(r.Stages))}
		for _, s := range r.Stages {
			p.Stages[s.ID] = s.Label
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
