// Package events defines the synchronization events the application reacts
// to and a bounded worker pool that processes them.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// Type discriminates events.
type Type string

const (
	TypePageCreated Type = "page_created"
	TypePageUpdated Type = "page_updated"
	TypePageRemoved Type = "page_removed"
	TypeCorrection  Type = "correction"
	TypeManualSync  Type = "manual_sync"
)

// Event is one unit of work for the pool. Fields beyond Type are populated
// per event kind: PageID for page events, Question/Answer for corrections,
// Force for manual syncs.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	PageID     string    `json:"page_id,omitempty"`
	Question   string    `json:"question,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Force      bool      `json:"force,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(t Type) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ReceivedAt: time.Now().UTC(),
	}
}

// webhookPayload is the wire format of incoming webhook notifications.
type webhookPayload struct {
	Event    string `json:"event"`
	PageID   string `json:"page_id,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

var webhookSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"event"},
		Properties: map[string]*jsonschema.Schema{
			"event": {
				Type: "string",
				Enum: []any{
					string(TypePageCreated), string(TypePageUpdated),
					string(TypePageRemoved), string(TypeCorrection),
					string(TypeManualSync),
				},
			},
			"page_id":  {Type: "string"},
			"question": {Type: "string"},
			"answer":   {Type: "string"},
			"force":    {Type: "boolean"},
		},
	}
	return schema.Resolve(nil)
})

// ParseWebhookPayload validates and converts a webhook notification into an
// Event. Validation failures and kind-specific missing fields are errors;
// malformed input never reaches the pool.
func ParseWebhookPayload(data []byte) (*Event, error) {
	resolved, err := webhookSchema()
	if err != nil {
		return nil, fmt.Errorf("resolving webhook schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	var payload webhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}

	event := NewEvent(Type(payload.Event))
	switch event.Type {
	case TypePageCreated, TypePageUpdated, TypePageRemoved:
		if payload.PageID == "" {
			return nil, fmt.Errorf("invalid webhook payload: %s requires page_id", payload.Event)
		}
		event.PageID = payload.PageID
	case TypeCorrection:
		if payload.Question == "" || payload.Answer == "" {
			return nil, fmt.Errorf("invalid webhook payload: correction requires question and answer")
		}
		event.Question = payload.Question
		event.Answer = payload.Answer
	case TypeManualSync:
		event.Force = payload.Force
	}
	return &event, nil
}
