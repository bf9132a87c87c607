package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ===========================================
// EVENT TYPES
// ===========================================

// EventType is the canonical lifecycle stage of an outbound email.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// EventTypes lists every canonical type in lifecycle order.
var EventTypes = []EventType{
	EventSent,
	EventDelivered,
	EventOpened,
	EventClicked,
	EventBounced,
	EventComplained,
	EventUnsubscribed,
}

// Valid reports whether t is one of the canonical types.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventBounced, EventComplained, EventUnsubscribed:
		return true
	}
	return false
}

// ParseEventType returns the canonical type for s.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	return t, t.Valid()
}

// ===========================================
// EVENT
// ===========================================

// Event is an immutable email lifecycle fact. DedupKey is unique across all
// time; once stored an Event is never mutated or deleted.
type Event struct {
	DedupKey   string          `json:"dedup_key"`
	EmailID    string          `json:"email_id"`
	CampaignID string          `json:"campaign_id,omitempty"`
	EventType  EventType       `json:"event_type"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// Audit metadata, not part of the dedup key.
	Provider   string    `json:"provider,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`

	// IngestID identifies the Record call that wrote the event. A retried
	// insert that finds its own IngestID stored was the first writer.
	IngestID uuid.UUID `json:"-"`
}

// Date returns the UTC calendar day the event is bucketed into.
func (e *Event) Date() string {
	return FormatDate(e.CreatedAt)
}

// MetricKeys returns the rollup counters an event contributes to: the global
// (date, type) key and, when the event belongs to a campaign, the
// campaign-scoped key.
func (e *Event) MetricKeys() []MetricKey {
	global := MetricKey{Date: e.Date(), EventType: e.EventType}
	if e.CampaignID == "" {
		return []MetricKey{global}
	}
	scoped := global
	scoped.CampaignID = e.CampaignID
	return []MetricKey{global, scoped}
}

// ===========================================
// RECORD OUTCOME
// ===========================================

// Outcome is the result of recording an event.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
