package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProbeType is the reserved payload data type for a connectivity probe.
// Probe payloads are a diagnostic round-trip and must never surface as a
// user-visible notification.
const ProbeType = "connectivity_probe"

// NotificationRecord is the durable form of a notification, shared by the
// server-side create path and the client-side history store.
type NotificationRecord struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Category  string                 `json:"category,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Read      bool                   `json:"read"`
	// ReadRank mirrors Read as 0 (unread) or 1 (read) so the store can
	// keep an indexed range query over read state.
	ReadRank int                    `json:"read_rank"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Metadata carries optional notification attributes supplied by producers.
type Metadata struct {
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Priority string `json:"priority,omitempty"`
	Category string `json:"category,omitempty"`
}

// CreateRequest is the producer-facing request body for creating a notification.
type CreateRequest struct {
	Title    string    `json:"title" validate:"required"`
	Body     string    `json:"body" validate:"required"`
	Type     string    `json:"type,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// NewRecord builds a NotificationRecord from a producer request.
func NewRecord(req CreateRequest) NotificationRecord {
	rec := NotificationRecord{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Body:      req.Body,
		CreatedAt: time.Now(),
		Payload:   map[string]interface{}{},
	}
	if req.Type != "" {
		rec.Payload["type"] = req.Type
	}
	if req.Metadata != nil {
		rec.Category = req.Metadata.Category
		if req.Metadata.URL != "" {
			rec.Payload["url"] = req.Metadata.URL
		}
		if req.Metadata.ImageURL != "" {
			rec.Payload["image_url"] = req.Metadata.ImageURL
		}
		if req.Metadata.Priority != "" {
			rec.Payload["priority"] = req.Metadata.Priority
		}
	}
	return rec
}

// PushPayload is the structured document carried over the push transport.
type PushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon,omitempty"`
	Badge string                 `json:"badge,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// NewPushPayload builds the transport document for a notification record.
func NewPushPayload(rec NotificationRecord) PushPayload {
	data := map[string]interface{}{
		"id":        rec.ID,
		"timestamp": rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Category != "" {
		data["category"] = rec.Category
	}
	for k, v := range rec.Payload {
		data[k] = v
	}
	return PushPayload{
		Title: rec.Title,
		Body:  rec.Body,
		Data:  data,
	}
}

// IsProbe reports whether the payload is a connectivity probe.
func (p PushPayload) IsProbe() bool {
	t, _ := p.Data["type"].(string)
	return t == ProbeType
}

// ProbeID returns the probe identifier carried by a probe payload.
func (p PushPayload) ProbeID() string {
	id, _ := p.Data["probe_id"].(string)
	return id
}

// DecodePayload parses raw push bytes into a PushPayload. If the bytes are
// not the expected structured document, the raw text becomes the body of a
// fallback payload so the notification is still shown rather than dropped.
// The second return value reports whether the payload was structured.
func DecodePayload(raw []byte) (PushPayload, bool) {
	var payload PushPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Title == "" {
		return PushPayload{
			Title: "New notification",
			Body:  string(raw),
		}, false
	}
	return payload, true
}

// Record converts a received push payload into a NotificationRecord. The
// payload's embedded id is reused for idempotent delivery; when absent one
// is synthesized.
func (p PushPayload) Record(now time.Time) NotificationRecord {
	rec := NotificationRecord{
		Title:     p.Title,
		Body:      p.Body,
		CreatedAt: now,
		Payload:   p.Data,
	}
	if id, ok := p.Data["id"].(string); ok && id != "" {
		rec.ID = id
	} else {
		rec.ID = uuid.New().String()
	}
	if cat, ok := p.Data["category"].(string); ok {
		rec.Category = cat
	}
	if ts, ok := p.Data["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec
}
