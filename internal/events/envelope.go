// ABOUTME: Envelope is the immutable unit of streamed event data
// ABOUTME: Defines event kinds and constructors that default timestamps at emission

package events

import "time"

// Kind tags the type of an event envelope.
type Kind string

const (
	KindConnected  Kind = "connected"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindMessage    Kind = "message"
)

// Wildcard is the reserved conversation id that receives events for every
// conversation.
const Wildcard = "*"

// Envelope is one unit of streamed event data. Envelopes are immutable once
// constructed and safe to hand to multiple sinks concurrently; sinks must
// never mutate a shared envelope or its metadata map.
type Envelope struct {
	ConversationID string         `json:"conversation_id"`
	Kind           Kind           `json:"event_type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// New constructs an envelope for the given conversation, stamping the
// current time and echoing the kind into metadata for clients that only
// inspect the metadata map.
func New(conversationID string, kind Kind, content string, metadata map[string]any) *Envelope {
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["event_type"] = string(kind)
	return &Envelope{
		ConversationID: conversationID,
		Kind:           kind,
		Content:        content,
		Metadata:       md,
		Timestamp:      time.Now().UTC(),
	}
}
