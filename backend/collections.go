package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// indexedField copies a JSON field of the entity into a table column.
// Ref is set for foreign keys and names the kind the column points at.
type indexedField struct {
	Column string
	Field  string
	Ref    Kind
}

type collection struct {
	kind   Kind
	table  string
	fields []indexedField
}

var collections = map[Kind]*collection{
	KindContact: {
		kind:  KindContact,
		table: "contacts",
		fields: []indexedField{
			{Column: "first_name", Field: "firstName"},
			{Column: "last_name", Field: "lastName"},
			{Column: "email", Field: "email"},
			{Column: "company_id", Field: "companyId", Ref: KindCompany},
		},
	},
	KindCompany: {
		kind:  KindCompany,
		table: "companies",
		fields: []indexedField{
			{Column: "name", Field: "name"},
			{Column: "domain", Field: "domain"},
		},
	},
	KindDeal: {
		kind:  KindDeal,
		table: "deals",
		fields: []indexedField{
			{Column: "name", Field: "name"},
			{Column: "stage", Field: "stage"},
			{Column: "pipeline", Field: "pipeline"},
			{Column: "company_id", Field: "companyId", Ref: KindCompany},
		},
	},
	KindTicket: {
		kind:  KindTicket,
		table: "tickets",
		fields: []indexedField{
			{Column: "subject", Field: "subject"},
			{Column: "status", Field: "status"},
			{Column: "priority", Field: "priority"},
			{Column: "contact_id", Field: "contactId", Ref: KindContact},
			{Column: "company_id", Field: "companyId", Ref: KindCompany},
		},
	},
	KindActivity: {
		kind:  KindActivity,
		table: "activities",
		fields: []indexedField{
			{Column: "type", Field: "type"},
			{Column: "timestamp", Field: "timestamp"},
			{Column: "contact_id", Field: "contactId", Ref: KindContact},
			{Column: "company_id", Field: "companyId", Ref: KindCompany},
			{Column: "deal_id", Field: "dealId", Ref: KindDeal},
			{Column: "ticket_id", Field: "ticketId", Ref: KindTicket},
		},
	},
}

func collectionFor(kind Kind) (*collection, error) {
	c, ok := collections[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return c, nil
}

// column returns the column backing a JSON field name.
func (c *collection) column(field string) (string, bool) {
	for _, f := range c.fields {
		if f.Field == field {
			return f.Column, true
		}
	}
	return "", false
}

// upsertSQL builds the INSERT OR REPLACE statement for the collection.
// Argument order: id, indexed fields..., sync_status, updated_at, data.
func (c *collection) upsertSQL() string {
	cols := []string{"id"}
	for _, f := range c.fields {
		cols = append(cols, f.Column)
	}
	cols = append(cols, "sync_status", "updated_at", "data")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", c.table, strings.Join(cols, ", "), marks)
}

// upsertArgs encodes the entity and extracts its indexed column values.
func (c *collection) upsertArgs(e Entity) ([]any, []byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %s: %w", c.kind, err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return nil, nil, err
	}

	meta := e.Meta()
	args := []any{meta.ID}
	for _, f := range c.fields {
		args = append(args, columnValue(fields[f.Field]))
	}
	args = append(args, string(meta.SyncStatus), meta.UpdatedAt, string(data))
	return args, data, nil
}

// decodeRow rebuilds an entity from its stored JSON. The sync columns are
// authoritative over whatever the JSON copy says.
func (c *collection) decodeRow(id, status string, updatedAt int64, data string) (Entity, error) {
	e, err := DecodeEntity(c.kind, []byte(data))
	if err != nil {
		return nil, err
	}
	meta := e.Meta()
	meta.ID = id
	meta.SyncStatus = SyncStatus(status)
	meta.UpdatedAt = updatedAt
	return e, nil
}

// decodeFields unmarshals a JSON object keeping numbers exact.
func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func columnValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return nullString(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case bool:
		return val
	default:
		return fmt.Sprint(val)
	}
}
