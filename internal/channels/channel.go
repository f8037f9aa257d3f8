// ABOUTME: Channel abstraction shared by every user-facing surface
// ABOUTME: Defines inbound/outbound message types and the Submitter boundary

package channels

import (
	"context"
	"time"
)

// SystemChannel marks work that originates outside any live conversation,
// such as scheduled jobs. Messages on this channel carry a composite chat id
// ("channel:chat_id") naming the conversation the output belongs to.
const SystemChannel = "system"

// DefaultChannel is the surface assumed when a composite chat id carries no
// channel prefix.
const DefaultChannel = "web"

// InboundMessage is a user or system message entering the agent loop.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Metadata  map[string]string
	Timestamp time.Time
}

// SessionKey returns the conversation identity for this message,
// "channel:chat_id".
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a response leaving the agent loop toward a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]string
}

// Channel is one user-facing surface. Send delivers an outbound message to
// the surface's transport; Start and Stop bracket any background work the
// surface needs.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
}

// Submitter accepts inbound messages for asynchronous processing. Submit
// returns once the message is queued; results arrive later through the
// originating channel.
type Submitter interface {
	Submit(ctx context.Context, msg InboundMessage) error
}
