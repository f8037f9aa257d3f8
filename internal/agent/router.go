// ABOUTME: Resolves inbound messages to a session key and an outbound target
// ABOUTME: System-origin messages carry a composite "channel:chat_id" chat id

package agent

import (
	"strings"

	"github.com/lanternlabs/lantern/internal/channels"
)

// Route is the resolved identity of one inbound message: the session it
// belongs to and the channel/chat pair its response goes back to.
type Route struct {
	SessionKey string
	Channel    string
	ChatID     string
}

// ResolveRoute maps an inbound message to its route. Messages on the
// system channel name their target conversation through a composite chat id
// of the form "channel:chat_id", split on the first colon so chat ids may
// themselves contain colons. A composite with no colon falls back to the
// default channel with the chat id unchanged.
func ResolveRoute(msg channels.InboundMessage) Route {
	channel, chatID := msg.Channel, msg.ChatID

	if channel == channels.SystemChannel {
		if idx := strings.Index(chatID, ":"); idx >= 0 {
			channel, chatID = chatID[:idx], chatID[idx+1:]
		} else {
			channel = channels.DefaultChannel
		}
	}

	return Route{
		SessionKey: channel + ":" + chatID,
		Channel:    channel,
		ChatID:     chatID,
	}
}
