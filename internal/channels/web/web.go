// ABOUTME: The web channel: HTTP API for submitting messages and streaming events via SSE
// ABOUTME: Terminal responses are published onto the event bus for stream subscribers

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lanternlabs/lantern/internal/auth"
	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/events"
	"github.com/lanternlabs/lantern/internal/session"
)

// Channel is the browser-facing surface. It has no transport of its own:
// Send publishes onto the event bus, and connected SSE streams deliver from
// there. The HTTP server lifecycle belongs to the gateway; RegisterRoutes
// mounts the handlers.
type Channel struct {
	bus       *events.Bus
	submitter channels.Submitter
	sessions  *session.Manager // optional; nil disables history reads
	verifier  auth.TokenVerifier
	cors      []string
	logger    *slog.Logger
}

// Config carries the web channel's wiring.
type Config struct {
	Bus         *events.Bus
	Submitter   channels.Submitter
	Sessions    *session.Manager
	Verifier    auth.TokenVerifier
	CORSOrigins []string
	Logger      *slog.Logger
}

// New creates the web channel.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		bus:       cfg.Bus,
		submitter: cfg.Submitter,
		sessions:  cfg.Sessions,
		verifier:  cfg.Verifier,
		cors:      cfg.CORSOrigins,
		logger:    logger.With("component", "web-channel"),
	}
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return channels.DefaultChannel }

// Start implements channels.Channel. The HTTP server is owned by the
// gateway, so there is nothing to start here.
func (c *Channel) Start(context.Context) error { return nil }

// Stop implements channels.Channel.
func (c *Channel) Stop(context.Context) error { return nil }

// Send publishes the outbound message onto the bus so every stream
// subscribed to the conversation (or the wildcard) receives it.
func (c *Channel) Send(_ context.Context, msg channels.OutboundMessage) error {
	metadata := make(map[string]any, len(msg.Metadata))
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	c.bus.Publish(events.New(msg.ChatID, events.KindMessage, msg.Content, metadata))
	return nil
}

// RegisterRoutes mounts the channel's handlers on mux. Auth applies to the
// API routes; /api/health stays open for probes.
func (c *Channel) RegisterRoutes(mux *http.ServeMux) {
	authed := auth.Middleware(c.verifier)
	mux.Handle("/api/messages", c.corsMiddleware(authed(http.HandlerFunc(c.handleSendMessage))))
	mux.Handle("/api/events/", c.corsMiddleware(authed(http.HandlerFunc(c.handleEvents))))
	mux.Handle("/api/conversations/", c.corsMiddleware(authed(http.HandlerFunc(c.handleConversation))))
	mux.Handle("/api/health", c.corsMiddleware(http.HandlerFunc(c.handleHealth)))
}

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	Content  string            `json:"content"`
	ChatID   string            `json:"chat_id"`
	SenderID string            `json:"sender_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleSendMessage handles POST /api/messages. The message is queued for
// the agent loop and the request returns immediately; results arrive on
// the conversation's event stream.
func (c *Channel) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ChatID == "" {
		c.sendJSONError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	if req.ChatID == events.Wildcard {
		c.sendJSONError(w, http.StatusBadRequest, "chat_id is reserved")
		return
	}

	senderID := req.SenderID
	if senderID == "" {
		if subject, ok := auth.SubjectFromContext(r.Context()); ok {
			senderID = subject
		} else {
			senderID = "anonymous"
		}
	}

	err := c.submitter.Submit(r.Context(), channels.InboundMessage{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    req.ChatID,
		Content:   req.Content,
		Metadata:  req.Metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("message submit failed", "chat_id", req.ChatID, "error", err)
		c.sendJSONError(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "accepted",
		"chat_id": req.ChatID,
	})
}

// handleEvents handles GET /api/events/{chat_id}. It subscribes to the
// conversation ("*" subscribes to everything), emits a synthetic connected
// record first, then forwards envelopes until the client goes away.
func (c *Channel) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chatID := strings.TrimPrefix(r.URL.Path, "/api/events/")
	if chatID == "" || strings.Contains(chatID, "/") {
		c.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.logger.Error("streaming not supported")
		c.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	ch, subID := c.bus.Subscribe(ctx, chatID)
	defer c.bus.Unsubscribe(chatID, subID)

	c.logger.Debug("stream opened", "chat_id", chatID, "subscription_id", subID)

	if err := writeSSE(w, events.New(chatID, events.KindConnected, "", nil)); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("stream closed", "chat_id", chatID, "subscription_id", subID)
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, env); err != nil {
				c.logger.Debug("stream write failed", "chat_id", chatID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// ConversationResponse is the JSON response for GET /api/conversations/{chat_id}.
type ConversationResponse struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []ConversationRecord `json:"messages"`
}

// ConversationRecord is one history entry in a conversation response.
type ConversationRecord struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// handleConversation handles GET /api/conversations/{chat_id} and returns
// the persisted history for the conversation on this channel.
func (c *Channel) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if c.sessions == nil {
		c.sendJSONError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	chatID := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if chatID == "" || strings.Contains(chatID, "/") {
		c.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	// Read persisted history from the store, never the live session: the
	// loop worker appends to that concurrently with this handler.
	msgs, err := c.sessions.History(r.Context(), c.Name()+":"+chatID, 0)
	if err != nil {
		c.logger.Error("history read failed", "chat_id", chatID, "error", err)
		c.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationResponse{
		ConversationID: chatID,
		Messages:       []ConversationRecord{},
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, ConversationRecord{
			Role:      m.Role,
			Content:   m.Content,
			ToolsUsed: m.ToolsUsed,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleHealth handles GET /api/health.
func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeSSE writes one envelope as a data-only SSE record.
func writeSSE(w http.ResponseWriter, env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// corsMiddleware applies the configured allowed origins and short-circuits
// preflight requests.
func (c *Channel) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.originAllowed(origin) {
			allowed := origin
			for _, o := range c.cors {
				if o == "*" {
					allowed = "*"
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Channel) originAllowed(origin string) bool {
	for _, o := range c.cors {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// sendJSONError writes a JSON error response with the given status code.
func (c *Channel) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
