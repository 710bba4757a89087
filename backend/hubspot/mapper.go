package hubspot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"crmsync/backend"
)

// objectType describes how one HubSpot object maps onto a local entity.
type objectType struct {
	path string
	// local JSON field -> HubSpot property
	fields map[string]string
	// HubSpot association target path -> local foreign key field
	associations map[string]string
}

var contactType = objectType{
	path: "contacts",
	fields: map[string]string{
		"firstName": "firstname",
		"lastName":  "lastname",
		"email":     "email",
		"phone":     "phone",
		"jobTitle":  "jobtitle",
	},
	associations: map[string]string{"companies": "companyId"},
}

var companyType = objectType{
	path: "companies",
	fields: map[string]string{
		"name":        "name",
		"domain":      "domain",
		"industry":    "industry",
		"phone":       "phone",
		"city":        "city",
		"website":     "website",
		"description": "description",
	},
}

var dealType = objectType{
	path: "deals",
	fields: map[string]string{
		"name":      "dealname",
		"amount":    "amount",
		"stage":     "dealstage",
		"pipeline":  "pipeline",
		"closeDate": "closedate",
	},
	associations: map[string]string{"companies": "companyId"},
}

var ticketType = objectType{
	path: "tickets",
	fields: map[string]string{
		"subject":  "subject",
		"content":  "content",
		"status":   "hs_pipeline_stage",
		"priority": "hs_ticket_priority",
	},
	associations: map[string]string{"contacts": "contactId", "companies": "companyId"},
}

var activityAssociations = map[string]string{
	"contacts":  "contactId",
	"companies": "companyId",
	"deals":     "dealId",
	"tickets":   "ticketId",
}

var activityTypes = map[backend.ActivityType]objectType{
	backend.ActivityNote: {
		path:         "notes",
		fields:       map[string]string{"body": "hs_note_body", "timestamp": "hs_timestamp"},
		associations: activityAssociations,
	},
	backend.ActivityCall: {
		path:         "calls",
		fields:       map[string]string{"body": "hs_call_body", "timestamp": "hs_timestamp"},
		associations: activityAssociations,
	},
	backend.ActivityEmail: {
		path:         "emails",
		fields:       map[string]string{"body": "hs_email_text", "timestamp": "hs_timestamp"},
		associations: activityAssociations,
	},
	backend.ActivityMeeting: {
		path:         "meetings",
		fields:       map[string]string{"body": "hs_meeting_body", "timestamp": "hs_timestamp"},
		associations: activityAssociations,
	},
}

// associationCodes are HubSpot-defined association type ids for
// engagement -> record links.
var associationCodes = map[backend.ActivityType]map[string]int{
	backend.ActivityNote:    {"contacts": 202, "companies": 190, "deals": 214, "tickets": 228},
	backend.ActivityCall:    {"contacts": 194, "companies": 182, "deals": 206, "tickets": 220},
	backend.ActivityEmail:   {"contacts": 198, "companies": 186, "deals": 210, "tickets": 224},
	backend.ActivityMeeting: {"contacts": 200, "companies": 188, "deals": 212, "tickets": 226},
}

// AssociationCode returns the association type id linking an activity type
// to a target object path ("contacts", "deals", ...).
func AssociationCode(t backend.ActivityType, target string) (int, bool) {
	code, ok := associationCodes[t][target]
	return code, ok
}

func objectTypeFor(kind backend.Kind, activity backend.ActivityType) (objectType, error) {
	switch kind {
	case backend.KindContact:
		return contactType, nil
	case backend.KindCompany:
		return companyType, nil
	case backend.KindDeal:
		return dealType, nil
	case backend.KindTicket:
		return ticketType, nil
	case backend.KindActivity:
		if ot, ok := activityTypes[activity]; ok {
			return ot, nil
		}
		return objectType{}, fmt.Errorf("unknown activity type %q", activity)
	}
	return objectType{}, fmt.Errorf("unknown entity kind %q", kind)
}

// propertyList returns the HubSpot properties to request on list calls.
func (ot objectType) propertyList() []string {
	props := make([]string, 0, len(ot.fields))
	for _, p := range ot.fields {
		props = append(props, p)
	}
	return props
}

func (ot objectType) associationList() []string {
	targets := make([]string, 0, len(ot.associations))
	for target := range ot.associations {
		targets = append(targets, target)
	}
	return targets
}

// toProperties converts local fields (JSON names) into HubSpot properties.
// Fields without a mapping are dropped.
func (ot objectType) toProperties(fields map[string]any) map[string]string {
	props := make(map[string]string)
	for field, value := range fields {
		prop, ok := ot.fields[field]
		if !ok {
			continue
		}
		props[prop] = propertyValue(field, value)
	}
	return props
}

func propertyValue(field string, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		if field == "timestamp" {
			if ms, err := v.Int64(); err == nil {
				return formatMillis(ms)
			}
		}
		return v.String()
	case float64:
		if field == "timestamp" {
			return formatMillis(int64(v))
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		if field == "timestamp" {
			return formatMillis(v)
		}
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// entityFields converts an entity to its local JSON fields.
func entityFields(e backend.Entity) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// toEntity builds a local entity from a HubSpot object.
func (ot objectType) toEntity(kind backend.Kind, obj Object) (backend.Entity, error) {
	fields := map[string]any{}
	for field, prop := range ot.fields {
		raw, ok := obj.Properties[prop]
		if !ok || raw == "" {
			continue
		}
		switch field {
		case "amount":
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				fields[field] = f
			}
		case "timestamp":
			if ts, err := parseTimestamp(raw); err == nil {
				fields[field] = ts
			}
		default:
			fields[field] = raw
		}
	}
	for target, field := range ot.associations {
		if assoc, ok := obj.Associations[target]; ok && len(assoc.Results) > 0 {
			fields[field] = assoc.Results[0].ID
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	e, err := backend.DecodeEntity(kind, data)
	if err != nil {
		return nil, err
	}

	meta := e.Meta()
	meta.ID = obj.ID
	meta.SyncStatus = backend.StatusSynced
	switch {
	case !obj.UpdatedAt.IsZero():
		meta.UpdatedAt = obj.UpdatedAt.UnixMilli()
	case !obj.CreatedAt.IsZero():
		meta.UpdatedAt = obj.CreatedAt.UnixMilli()
	}
	return e, nil
}

// parseTimestamp accepts HubSpot's ISO timestamps and epoch millis.
func parseTimestamp(raw string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// recordFrom turns a write response into the reconciled fields.
func recordFrom(obj *Object, fallbackID string) *backend.RemoteRecord {
	rec := &backend.RemoteRecord{ID: obj.ID, UpdatedAt: obj.UpdatedAt.UnixMilli()}
	if rec.ID == "" {
		rec.ID = fallbackID
	}
	if obj.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UnixMilli()
	}
	return rec
}
