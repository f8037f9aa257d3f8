// ABOUTME: The agent loop: one worker draining inbound messages through the engine
// ABOUTME: Handles control commands, session persistence and terminal responses

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/events"
	"github.com/lanternlabs/lantern/internal/session"
)

const (
	defaultQueueSize = 128
	archiveTimeout   = 30 * time.Second

	failureResponse   = "Something went wrong while processing your message. Please try again."
	exhaustedResponse = "I could not finish within the allowed number of steps. Please try a narrower request."
	emptyResponse     = "I've completed processing but have no response to give."
	newSessionAck     = "Started a new conversation. Your previous history has been archived."
	helpText          = "Available commands:\n" +
		"  /new  - start a new conversation (history is archived)\n" +
		"  /help - show this message\n" +
		"Anything else is sent to the agent."
)

// Loop drains inbound messages and drives one engine turn per message. It
// is the single writer of session state; channels only ever enqueue work
// through Submit.
type Loop struct {
	engine   *Engine
	sessions *session.Manager
	delivery *channels.Manager
	bus      *events.Bus

	systemPrompt string
	memoryWindow int
	queue        chan channels.InboundMessage
	logger       *slog.Logger
}

// LoopConfig carries the loop's tuning.
type LoopConfig struct {
	SystemPrompt string
	MemoryWindow int
	QueueSize    int
}

// NewLoop creates the agent loop. Run must be called to start draining.
func NewLoop(engine *Engine, sessions *session.Manager, delivery *channels.Manager, bus *events.Bus, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		engine:       engine,
		sessions:     sessions,
		delivery:     delivery,
		bus:          bus,
		systemPrompt: cfg.SystemPrompt,
		memoryWindow: cfg.MemoryWindow,
		queue:        make(chan channels.InboundMessage, cfg.QueueSize),
		logger:       logger.With("component", "loop"),
	}
}

// Submit enqueues an inbound message for processing. It blocks until the
// message is queued or ctx is cancelled; the turn itself runs later on the
// loop's worker.
func (l *Loop) Submit(ctx context.Context, msg channels.InboundMessage) error {
	select {
	case l.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Messages are processed one
// at a time so each session has a single writer.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("agent loop started", "queue_size", cap(l.queue))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopped")
			return ctx.Err()
		case msg := <-l.queue:
			l.process(ctx, msg)
		}
	}
}

func (l *Loop) process(ctx context.Context, msg channels.InboundMessage) {
	route := ResolveRoute(msg)
	l.logger.Info("processing message",
		"session_key", route.SessionKey,
		"origin_channel", msg.Channel,
		"sender_id", msg.SenderID)

	switch normalizeCommand(msg.Content) {
	case "/new":
		l.handleNew(ctx, route)
		return
	case "/help":
		l.respond(ctx, route, helpText)
		return
	}

	sess, err := l.sessions.GetOrCreate(ctx, route.SessionKey)
	if err != nil {
		l.logger.Error("session load failed", "session_key", route.SessionKey, "error", err)
		l.respond(ctx, route, failureResponse)
		return
	}

	// System-originated work is labeled in history so scheduled messages
	// are distinguishable from the human's.
	userContent := msg.Content
	if msg.Channel == channels.SystemChannel {
		userContent = fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content)
	}
	sess.AddMessage(session.RoleUser, userContent)

	result, err := l.engine.Run(ctx, route.ChatID, l.buildContext(sess))

	var content string
	var toolsUsed []string
	switch {
	case err != nil:
		l.logger.Error("turn failed", "session_key", route.SessionKey, "error", err)
		content = failureResponse
	case result.State == StateExhausted:
		content = exhaustedResponse
		toolsUsed = result.ToolsUsed
	default:
		content = result.FinalContent
		toolsUsed = result.ToolsUsed
		if content == "" {
			content = emptyResponse
		}
	}

	sess.AddMessage(session.RoleAssistant, content, toolsUsed...)
	if err := l.sessions.Save(ctx, sess); err != nil {
		l.logger.Error("session save failed", "session_key", route.SessionKey, "error", err)
	}
	l.maybeConsolidate(route.SessionKey, sess)

	// Exactly one terminal message per turn, even on failure, so no stream
	// subscriber waits forever.
	l.respond(ctx, route, content)
}

// maybeConsolidate copies history that has fallen outside the memory
// window into the archive. Runs detached; the turn's response never waits
// on it, and archival is idempotent per message id.
func (l *Loop) maybeConsolidate(key string, sess *session.Session) {
	if l.memoryWindow <= 0 || len(sess.Messages) <= l.memoryWindow {
		return
	}
	older := append([]session.Message(nil), sess.Messages[:len(sess.Messages)-l.memoryWindow]...)
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := l.sessions.Archive(actx, key, older); err != nil {
			l.logger.Warn("memory consolidation failed", "session_key", key, "error", err)
		}
	}()
}

// handleNew archives the current history in the background, resets the
// session and acknowledges. The engine is never involved, and the session
// is empty immediately regardless of how the archive goes.
func (l *Loop) handleNew(ctx context.Context, route Route) {
	sess, err := l.sessions.Get(ctx, route.SessionKey)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		l.logger.Error("session load failed", "session_key", route.SessionKey, "error", err)
	}
	if sess != nil && len(sess.Messages) > 0 {
		msgs := append([]session.Message(nil), sess.Messages...)
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if err := l.sessions.Archive(actx, route.SessionKey, msgs); err != nil {
				l.logger.Warn("history archive failed", "session_key", route.SessionKey, "error", err)
			}
		}()
	}

	if err := l.sessions.Reset(ctx, route.SessionKey); err != nil {
		l.logger.Error("session reset failed", "session_key", route.SessionKey, "error", err)
		l.respond(ctx, route, failureResponse)
		return
	}

	l.respond(ctx, route, newSessionAck)
}

// buildContext assembles the model context for a turn: system prompt first,
// then the most recent window of history in chronological order.
func (l *Loop) buildContext(sess *session.Session) []ChatMessage {
	history := sess.GetHistory(l.memoryWindow)
	msgs := make([]ChatMessage, 0, len(history)+1)
	if l.systemPrompt != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: l.systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// respond delivers the terminal message through the origin channel. If
// delivery fails for any reason the envelope still goes onto the bus so
// stream observers of the conversation see the outcome.
func (l *Loop) respond(ctx context.Context, route Route, content string) {
	err := l.delivery.Deliver(ctx, channels.OutboundMessage{
		Channel: route.Channel,
		ChatID:  route.ChatID,
		Content: content,
	})
	if err == nil {
		return
	}

	// Any delivery failure, not just an unknown channel: stream observers
	// must still get their one terminal message for the turn.
	l.bus.Publish(events.New(route.ChatID, events.KindMessage, content, nil))
	l.logger.Error("outbound delivery failed",
		"channel", route.Channel,
		"chat_id", route.ChatID,
		"error", err)
}

// normalizeCommand canonicalizes potential control commands. Matching is
// exact after trimming and lowercasing; "/new now" is a normal message.
func normalizeCommand(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}
