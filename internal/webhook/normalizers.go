package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/models"
)

// Item is one provider event after normalization. Err is set when the item
// cannot become a canonical event; such items are dropped from the batch.
type Item struct {
	// ProviderEventID is the provider's own event id, if it sends one.
	ProviderEventID string
	Event           *models.Event
	Err             error
}

// Normalizer turns a provider payload into items. It returns an error only
// when the payload as a whole cannot be parsed.
type Normalizer interface {
	Normalize(body []byte) ([]Item, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(body []byte) ([]Item, error)

func (f NormalizerFunc) Normalize(body []byte) ([]Item, error) { return f(body) }

// splitBatch accepts a single JSON object or an array of objects.
func splitBatch(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperr.Validation("body", "empty payload")
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, apperr.Validation("body", "malformed JSON array: %v", err)
		}
		return items, nil
	case '{':
		if !json.Valid(body) {
			return nil, apperr.Validation("body", "malformed JSON object")
		}
		return []json.RawMessage{json.RawMessage(body)}, nil
	default:
		return nil, apperr.Validation("body", "payload must be a JSON object or array")
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, apperr.Validation("created_at", "is required")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, apperr.Validation("created_at", "must be RFC 3339")
	}
	return t.UTC(), nil
}

func itemError(err error) Item {
	return Item{Err: err}
}

// =============================================
// GENERIC
// =============================================

type genericEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EmailID    string          `json:"email_id"`
	CampaignID string          `json:"campaign_id"`
	CreatedAt  string          `json:"created_at"`
	Data       json.RawMessage `json:"data"`
}

// normalizeGeneric parses canonical events:
//
//	{"id", "type", "email_id", "campaign_id", "created_at", "data"}
func normalizeGeneric(body []byte) ([]Item, error) {
	raws, err := splitBatch(body)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var ge genericEvent
		if err := json.Unmarshal(raw, &ge); err != nil {
			items = append(items, itemError(apperr.Validation("", "malformed event: %v", err)))
			continue
		}

		eventType, ok := models.ParseEventType(strings.ToLower(strings.TrimSpace(ge.Type)))
		if !ok {
			items = append(items, itemError(apperr.Validation("type", "unknown event type %q", ge.Type)))
			continue
		}
		if ge.EmailID == "" {
			items = append(items, itemError(apperr.Validation("email_id", "is required")))
			continue
		}
		createdAt, err := parseTimestamp(ge.CreatedAt)
		if err != nil {
			items = append(items, itemError(err))
			continue
		}

		items = append(items, Item{
			ProviderEventID: ge.ID,
			Event: &models.Event{
				EmailID:    ge.EmailID,
				CampaignID: ge.CampaignID,
				EventType:  eventType,
				CreatedAt:  createdAt,
				Payload:    raw,
			},
		})
	}
	return items, nil
}

// =============================================
// SENDGRID
// =============================================

type sendGridEvent struct {
	EventID    string `json:"sg_event_id"`
	Event      string `json:"event"`
	MessageID  string `json:"sg_message_id"`
	Timestamp  int64  `json:"timestamp"`
	CampaignID string `json:"campaign_id"`
}

func mapSendGridEvent(event string) (models.EventType, bool) {
	mappings := map[string]models.EventType{
		"processed":         models.EventSent,
		"delivered":         models.EventDelivered,
		"open":              models.EventOpened,
		"click":             models.EventClicked,
		"bounce":            models.EventBounced,
		"spamreport":        models.EventComplained,
		"unsubscribe":       models.EventUnsubscribed,
		"group_unsubscribe": models.EventUnsubscribed,
	}
	t, ok := mappings[event]
	return t, ok
}

func normalizeSendGrid(body []byte) ([]Item, error) {
	raws, err := splitBatch(body)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var se sendGridEvent
		if err := json.Unmarshal(raw, &se); err != nil {
			items = append(items, itemError(apperr.Validation("", "malformed event: %v", err)))
			continue
		}

		eventType, ok := mapSendGridEvent(se.Event)
		if !ok {
			items = append(items, itemError(apperr.Validation("event", "unknown event type %q", se.Event)))
			continue
		}
		if se.MessageID == "" {
			items = append(items, itemError(apperr.Validation("sg_message_id", "is required")))
			continue
		}
		if se.Timestamp <= 0 {
			items = append(items, itemError(apperr.Validation("timestamp", "is required")))
			continue
		}

		items = append(items, Item{
			ProviderEventID: se.EventID,
			Event: &models.Event{
				EmailID:    se.MessageID,
				CampaignID: se.CampaignID,
				EventType:  eventType,
				CreatedAt:  time.Unix(se.Timestamp, 0).UTC(),
				Payload:    raw,
			},
		})
	}
	return items, nil
}

// =============================================
// POSTMARK
// =============================================

// flexibleID accepts a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type postmarkEvent struct {
	RecordType      string                     `json:"RecordType"`
	MessageID       string                     `json:"MessageID"`
	ID              flexibleID                 `json:"ID"`
	DeliveredAt     string                     `json:"DeliveredAt"`
	BouncedAt       string                     `json:"BouncedAt"`
	ReceivedAt      string                     `json:"ReceivedAt"`
	ChangedAt       string                     `json:"ChangedAt"`
	Metadata        map[string]json.RawMessage `json:"Metadata"`
	SuppressSending bool                       `json:"SuppressSending"`
}

func (pe *postmarkEvent) timestamp() string {
	for _, ts := range []string{pe.DeliveredAt, pe.BouncedAt, pe.ReceivedAt, pe.ChangedAt} {
		if ts != "" {
			return ts
		}
	}
	return ""
}

// metadataString renders one metadata value as text. Strings are unquoted,
// null and absent values are empty, and numbers or other JSON keep their
// literal form.
func metadataString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mapPostmarkEvent(pe *postmarkEvent) (models.EventType, bool) {
	mappings := map[string]models.EventType{
		"Delivery":      models.EventDelivered,
		"Bounce":        models.EventBounced,
		"Open":          models.EventOpened,
		"Click":         models.EventClicked,
		"SpamComplaint": models.EventComplained,
	}
	if pe.RecordType == "SubscriptionChange" {
		// Reactivations are not lifecycle events.
		return models.EventUnsubscribed, pe.SuppressSending
	}
	t, ok := mappings[pe.RecordType]
	return t, ok
}

func normalizePostmark(body []byte) ([]Item, error) {
	raws, err := splitBatch(body)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var pe postmarkEvent
		if err := json.Unmarshal(raw, &pe); err != nil {
			items = append(items, itemError(apperr.Validation("", "malformed event: %v", err)))
			continue
		}

		eventType, ok := mapPostmarkEvent(&pe)
		if !ok {
			items = append(items, itemError(apperr.Validation("RecordType", "unsupported record type %q", pe.RecordType)))
			continue
		}
		if pe.MessageID == "" {
			items = append(items, itemError(apperr.Validation("MessageID", "is required")))
			continue
		}
		createdAt, err := parseTimestamp(pe.timestamp())
		if err != nil {
			items = append(items, itemError(err))
			continue
		}

		id := string(pe.ID)
		if id != "" {
			// Bounce ids are only unique per record type.
			id = strings.ToLower(pe.RecordType) + "-" + id
		}

		items = append(items, Item{
			ProviderEventID: id,
			Event: &models.Event{
				EmailID:    pe.MessageID,
				CampaignID: metadataString(pe.Metadata["campaign_id"]),
				EventType:  eventType,
				CreatedAt:  createdAt,
				Payload:    raw,
			},
		})
	}
	return items, nil
}
