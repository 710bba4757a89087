package hubspot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"crmsync/backend"
	"crmsync/internal/utils"
)

var _ backend.RemoteClient = (*Client)(nil)

// FetchAll returns every record of a kind. Deals and tickets get pipeline
// labels; activities merge all four engagement types, newest first.
func (c *Client) FetchAll(ctx context.Context, kind backend.Kind) ([]backend.Entity, error) {
	if kind == backend.KindActivity {
		return c.fetchActivities(ctx)
	}

	ot, err := objectTypeFor(kind, "")
	if err != nil {
		return nil, err
	}
	objects, err := c.listObjects(ctx, ot.path, ot.propertyList(), ot.associationList())
	if err != nil {
		return nil, err
	}

	entities := make([]backend.Entity, 0, len(objects))
	for _, obj := range objects {
		e, err := ot.toEntity(kind, obj)
		if err != nil {
			return nil, fmt.Errorf("failed to map %s %s: %w", ot.path, obj.ID, err)
		}
		c.applyLabels(ctx, e)
		entities = append(entities, e)
	}
	utils.Debugf("Fetched %d %s", len(entities), ot.path)
	return entities, nil
}

func (c *Client) applyLabels(ctx context.Context, e backend.Entity) {
	switch v := e.(type) {
	case *backend.Deal:
		v.PipelineLabel, v.StageLabel = c.pipelines.Resolve(ctx, c, "deals", v.Pipeline, v.Stage)
	case *backend.Ticket:
		_, v.StatusLabel = c.pipelines.Resolve(ctx, c, "tickets", "", v.Status)
	}
}

func (c *Client) fetchActivities(ctx context.Context) ([]backend.Entity, error) {
	types := backend.AllActivityTypes()
	results := make([][]backend.Entity, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			ot := activityTypes[t]
			objects, err := c.listObjects(gctx, ot.path, ot.propertyList(), ot.associationList())
			if err != nil {
				return err
			}
			for _, obj := range objects {
				e, err := ot.toEntity(backend.KindActivity, obj)
				if err != nil {
					return fmt.Errorf("failed to map %s %s: %w", ot.path, obj.ID, err)
				}
				e.(*backend.Activity).Type = t
				results[i] = append(results[i], e)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []backend.Entity
	for _, r := range results {
		all = append(all, r...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].(*backend.Activity).Timestamp > all[j].(*backend.Activity).Timestamp
	})
	return all, nil
}

// Create stores a new record. Activity attachments are uploaded first and
// referenced from the engagement; related records are linked afterwards.
func (c *Client) Create(ctx context.Context, e backend.Entity) (*backend.RemoteRecord, error) {
	var activityType backend.ActivityType
	activity, isActivity := e.(*backend.Activity)
	if isActivity {
		activityType = activity.Type
	}
	ot, err := objectTypeFor(e.EntityKind(), activityType)
	if err != nil {
		return nil, err
	}

	fields, err := entityFields(e)
	if err != nil {
		return nil, err
	}
	props := ot.toProperties(fields)

	if isActivity {
		if _, ok := props["hs_timestamp"]; !ok || activity.Timestamp == 0 {
			props["hs_timestamp"] = formatMillis(time.Now().UnixMilli())
		}
		if ids := c.uploadAttachments(ctx, activity.Attachments); len(ids) > 0 {
			props["hs_attachment_ids"] = strings.Join(ids, ";")
		}
	}

	obj, err := c.createObject(ctx, ot.path, props)
	if err != nil {
		var be *backend.BackendError
		if errors.As(err, &be) {
			be.WithEntity(e.EntityKind(), e.Meta().ID)
		}
		return nil, err
	}

	if isActivity {
		c.associateActivity(ctx, activity, ot, obj.ID)
	} else {
		c.associateDefault(ctx, ot, obj.ID, fields)
	}
	return recordFrom(obj, ""), nil
}

// Update applies changed fields. Fields with no HubSpot property (labels,
// associations) are not sent; if nothing is left the call is skipped.
func (c *Client) Update(ctx context.Context, kind backend.Kind, id string, fields map[string]any) (*backend.RemoteRecord, error) {
	activityType := backend.ActivityType("")
	if t, ok := fields["type"].(string); ok {
		activityType = backend.ActivityType(t)
	} else if t, ok := fields["type"].(backend.ActivityType); ok {
		activityType = t
	}
	ot, err := objectTypeFor(kind, activityType)
	if err != nil {
		return nil, err
	}

	props := ot.toProperties(fields)
	if len(props) == 0 {
		utils.Debugf("No remote properties changed for %s %s", ot.path, id)
		return &backend.RemoteRecord{ID: id, UpdatedAt: time.Now().UnixMilli()}, nil
	}

	obj, err := c.updateObject(ctx, ot.path, id, props)
	if err != nil {
		var be *backend.BackendError
		if errors.As(err, &be) {
			be.WithEntity(kind, id)
		}
		return nil, err
	}
	return recordFrom(obj, id), nil
}

// Delete archives a record. Activities resolve their engagement object from
// the entity's type.
func (c *Client) Delete(ctx context.Context, e backend.Entity) error {
	var activityType backend.ActivityType
	if a, ok := e.(*backend.Activity); ok {
		activityType = a.Type
	}
	kind, id := e.EntityKind(), e.Meta().ID
	ot, err := objectTypeFor(kind, activityType)
	if err != nil {
		return err
	}
	if err := c.deleteObject(ctx, ot.path, id); err != nil {
		var be *backend.BackendError
		if errors.As(err, &be) {
			be.WithEntity(kind, id)
		}
		return err
	}
	return nil
}

// Ping lists a single contact to prove the token and network work.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, objectsPath+"/contacts?limit=1", nil, nil)
}
