package backend

import (
	"encoding/json"
	"fmt"
)

// Kind names an entity collection mirrored from the CRM.
type Kind string

const (
	KindContact  Kind = "contact"
	KindCompany  Kind = "company"
	KindDeal     Kind = "deal"
	KindTicket   Kind = "ticket"
	KindActivity Kind = "activity"
)

// AllKinds returns every entity kind in a fixed order.
func AllKinds() []Kind {
	return []Kind{KindContact, KindCompany, KindDeal, KindTicket, KindActivity}
}

// ParseKind converts a user supplied name ("contact", "contacts") into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if s == string(k) || s == collections[k].table {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// SyncStatus tracks whether the latest local change reached the remote.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
)

// IsPending reports whether the status waits on a queue item.
func (s SyncStatus) IsPending() bool {
	return s == StatusPendingCreate || s == StatusPendingUpdate || s == StatusPendingDelete
}

// PendingStatusFor returns the entity status that a queued operation implies.
func PendingStatusFor(op Operation) SyncStatus {
	switch op {
	case OpCreate:
		return StatusPendingCreate
	case OpDelete:
		return StatusPendingDelete
	default:
		return StatusPendingUpdate
	}
}

// SyncMeta holds the fields the sync engine owns on every entity.
type SyncMeta struct {
	ID         string     `json:"id"`
	SyncStatus SyncStatus `json:"syncStatus"`
	UpdatedAt  int64      `json:"updatedAt"` // epoch millis
}

// Meta gives access to the embedded sync fields.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Entity is any record mirrored from the remote CRM.
type Entity interface {
	EntityKind() Kind
	Meta() *SyncMeta
}

type Contact struct {
	SyncMeta
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	JobTitle  string `json:"jobTitle,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
}

func (*Contact) EntityKind() Kind { return KindContact }

// DisplayName returns "First Last", falling back to the email.
func (c *Contact) DisplayName() string {
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	if name == "" {
		return c.Email
	}
	return name
}

type Company struct {
	SyncMeta
	Name        string `json:"name"`
	Domain      string `json:"domain,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Phone       string `json:"phone,omitempty"`
	City        string `json:"city,omitempty"`
	Website     string `json:"website,omitempty"`
	Description string `json:"description,omitempty"`
}

func (*Company) EntityKind() Kind { return KindCompany }

// Deal stage and pipeline hold HubSpot ids; the label fields are display only
// and are filled from the pipeline cache when deals are fetched.
type Deal struct {
	SyncMeta
	Name          string  `json:"name"`
	Amount        float64 `json:"amount,omitempty"`
	Stage         string  `json:"stage,omitempty"`
	Pipeline      string  `json:"pipeline,omitempty"`
	StageLabel    string  `json:"stageLabel,omitempty"`
	PipelineLabel string  `json:"pipelineLabel,omitempty"`
	CloseDate     string  `json:"closeDate,omitempty"`
	CompanyID     string  `json:"companyId,omitempty"`
}

func (*Deal) EntityKind() Kind { return KindDeal }

type Ticket struct {
	SyncMeta
	Subject     string `json:"subject"`
	Content     string `json:"content,omitempty"`
	Status      string `json:"status,omitempty"`
	StatusLabel string `json:"statusLabel,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ContactID   string `json:"contactId,omitempty"`
	CompanyID   string `json:"companyId,omitempty"`
}

func (*Ticket) EntityKind() Kind { return KindTicket }

// ActivityType is the HubSpot engagement object behind an activity.
type ActivityType string

const (
	ActivityNote    ActivityType = "note"
	ActivityCall    ActivityType = "call"
	ActivityEmail   ActivityType = "email"
	ActivityMeeting ActivityType = "meeting"
)

// AllActivityTypes returns the engagement types in a fixed order.
func AllActivityTypes() []ActivityType {
	return []ActivityType{ActivityNote, ActivityCall, ActivityEmail, ActivityMeeting}
}

// Attachment is a file captured offline. Data is base64, optionally as a
// data URL ("data:image/png;base64,....").
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type Activity struct {
	SyncMeta
	Type        ActivityType `json:"type"`
	Body        string       `json:"body"`
	Timestamp   int64        `json:"timestamp"`
	ContactID   string       `json:"contactId,omitempty"`
	CompanyID   string       `json:"companyId,omitempty"`
	DealID      string       `json:"dealId,omitempty"`
	TicketID    string       `json:"ticketId,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (*Activity) EntityKind() Kind { return KindActivity }

// NewEntity returns an empty entity of the given kind.
func NewEntity(kind Kind) (Entity, error) {
	switch kind {
	case KindContact:
		return &Contact{}, nil
	case KindCompany:
		return &Company{}, nil
	case KindDeal:
		return &Deal{}, nil
	case KindTicket:
		return &Ticket{}, nil
	case KindActivity:
		return &Activity{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// DecodeEntity unmarshals JSON data into a new entity of the given kind.
func DecodeEntity(kind Kind, data []byte) (Entity, error) {
	e, err := NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return e, nil
}
