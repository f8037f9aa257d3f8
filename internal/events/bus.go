// ABOUTME: In-memory fan-out event bus keyed by conversation id
// ABOUTME: Publishes envelopes to per-conversation subscribers plus wildcard subscribers

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Bus provides in-memory pub/sub for event envelopes. Subscribers register
// for a conversation id (or the Wildcard key) and receive envelopes in
// publish order as the agent loop emits them. Delivery is best-effort: there
// is no replay for subscribers that connect mid-turn, and a subscriber whose
// inbox is full has the newest envelope dropped rather than blocking the
// publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Envelope // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]chan *Envelope),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for envelopes on the given conversation
// id. Use Wildcard to receive envelopes for every conversation. Returns a
// receive channel and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, conversationID string) (<-chan *Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan *Envelope, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *Envelope)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an envelope to all subscribers of env.ConversationID and to
// all wildcard subscribers. Publishing with no subscribers registered is a
// no-op. Non-blocking: the envelope is dropped for subscribers whose
// channels are full, so a slow consumer never stalls the agent loop.
func (b *Bus) Publish(env *Envelope) {
	b.mu.RLock()
	// Copy subscriber channels under read lock to avoid holding the lock
	// during sends.
	var targets []chan *Envelope
	for _, ch := range b.subscribers[env.ConversationID] {
		targets = append(targets, ch)
	}
	if env.ConversationID != Wildcard {
		for _, ch := range b.subscribers[Wildcard] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
			// Sent
		default:
			// Subscriber channel full — drop envelope for this subscriber
			b.logger.Debug("dropped envelope for slow subscriber",
				"conversation_id", env.ConversationID,
				"kind", env.Kind)
		}
	}
}

// Unsubscribe removes a subscription. Idempotent and safe to call
// concurrently with in-flight publishes. The subscriber channel is not
// closed: Publish releases the registry lock before sending, so a close
// here could panic a concurrent send. Consumers stop reading when their
// own context is cancelled.
func (b *Bus) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	if _, exists := subs[subID]; !exists {
		return
	}

	delete(subs, subID)

	// Clean up empty conversation entries
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// SubscriberCount returns the number of active subscribers for a
// conversation id, not counting wildcard subscribers.
func (b *Bus) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// Close shuts down the bus, dropping all subscriptions. Subsequent
// publishes become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID := range b.subscribers {
		delete(b.subscribers, convID)
	}

	b.logger.Debug("bus closed")
}
