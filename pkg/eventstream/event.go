package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeFactStored is emitted after a fact is written to the graph.
	EventTypeFactStored = "recall.fact.stored"
)

// FactStoredEvent is a transport-neutral event payload for a stored fact.
type FactStoredEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Fact          FactPayload `json:"fact"`
}

// EventSource identifies where the fact originated.
type EventSource struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// FactPayload is the stored relation with its resolved endpoints.
type FactPayload struct {
	RelationID int64   `json:"relation_id"`
	SubjectID  int64   `json:"subject_id"`
	ObjectID   int64   `json:"object_id"`
	Subject    string  `json:"subject"`
	Relation   string  `json:"relation"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// NewFactStoredEvent stamps a payload with a fresh event id and time.
func NewFactStoredEvent(source EventSource, fact FactPayload) *FactStoredEvent {
	return &FactStoredEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeFactStored,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Fact:          fact,
	}
}
