// ABOUTME: Tests for the web channel HTTP API and SSE streaming
// ABOUTME: Uses a live httptest server so streams exercise real flushing

package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternlabs/lantern/internal/auth"
	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/events"
	"github.com/lanternlabs/lantern/internal/session"
)

type captureSubmitter struct {
	mu   sync.Mutex
	msgs []channels.InboundMessage
	err  error
}

func (s *captureSubmitter) Submit(_ context.Context, msg channels.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSubmitter) all() []channels.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channels.InboundMessage(nil), s.msgs...)
}

type fixture struct {
	channel   *Channel
	bus       *events.Bus
	submitter *captureSubmitter
	server    *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	submitter := &captureSubmitter{}
	cfg.Bus = bus
	cfg.Submitter = submitter
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{"*"}
	}

	ch := New(cfg)
	mux := http.NewServeMux()
	ch.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{channel: ch, bus: bus, submitter: submitter, server: server}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestSendMessage_Accepted(t *testing.T) {
	f := newFixture(t, Config{})

	resp := postJSON(t, f.server.URL+"/api/messages", SendMessageRequest{
		Content:  "hello",
		ChatID:   "alice",
		SenderID: "alice",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "alice", body["chat_id"])

	msgs := f.submitter.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "web", msgs[0].Channel)
	assert.Equal(t, "alice", msgs[0].ChatID)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name string
		req  SendMessageRequest
	}{
		{"missing content", SendMessageRequest{ChatID: "alice"}},
		{"blank content", SendMessageRequest{Content: "   ", ChatID: "alice"}},
		{"missing chat_id", SendMessageRequest{Content: "hi"}},
		{"wildcard chat_id", SendMessageRequest{Content: "hi", ChatID: "*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, f.server.URL+"/api/messages", tt.req)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	assert.Empty(t, f.submitter.all())
}

func TestSendMessage_SubmitterDown(t *testing.T) {
	f := newFixture(t, Config{})
	f.submitter.err = assert.AnError

	resp := postJSON(t, f.server.URL+"/api/messages", SendMessageRequest{Content: "hi", ChatID: "a"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// readSSE reads SSE data records from the stream until count records have
// arrived or the timeout hits.
func readSSE(t *testing.T, body *bufio.Reader, count int) []*events.Envelope {
	t.Helper()

	var envs []*events.Envelope
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(envs) < count {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var env events.Envelope
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
				t.Errorf("bad SSE payload: %v", err)
				return
			}
			envs = append(envs, &env)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %d SSE records, got %d", count, len(envs))
	}
	return envs
}

func TestEvents_ConnectedFirstThenForwards(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/api/events/alice")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader, 1)
	require.Len(t, first, 1)
	assert.Equal(t, events.KindConnected, first[0].Kind)
	assert.Equal(t, "alice", first[0].ConversationID)

	// The subscription is live; publish and expect delivery
	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount("alice") == 1
	}, time.Second, 10*time.Millisecond)

	f.bus.Publish(events.New("alice", events.KindThinking, "", map[string]any{"iteration": 1}))
	f.bus.Publish(events.New("alice", events.KindMessage, "done", nil))

	rest := readSSE(t, reader, 2)
	require.Len(t, rest, 2)
	assert.Equal(t, events.KindThinking, rest[0].Kind)
	assert.Equal(t, events.KindMessage, rest[1].Kind)
	assert.Equal(t, "done", rest[1].Content)
}

func TestEvents_WildcardSeesAllConversations(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/api/events/*")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readSSE(t, reader, 1) // connected

	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount(events.Wildcard) == 1
	}, time.Second, 10*time.Millisecond)

	f.bus.Publish(events.New("alice", events.KindMessage, "a", nil))
	f.bus.Publish(events.New("bob", events.KindMessage, "b", nil))

	envs := readSSE(t, reader, 2)
	require.Len(t, envs, 2)
	assert.Equal(t, "alice", envs[0].ConversationID)
	assert.Equal(t, "bob", envs[1].ConversationID)
}

func TestEvents_UnsubscribesOnDisconnect(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/api/events/alice")
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	readSSE(t, reader, 1)
	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount("alice") == 1
	}, time.Second, 10*time.Millisecond)

	resp.Body.Close()

	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConversation_History(t *testing.T) {
	store, err := session.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	sessions := session.NewManager(store, nil)

	f := newFixture(t, Config{Sessions: sessions})

	sess, err := sessions.GetOrCreate(context.Background(), "web:alice")
	require.NoError(t, err)
	sess.AddMessage(session.RoleUser, "hi")
	sess.AddMessage(session.RoleAssistant, "hello", "clock")
	require.NoError(t, sessions.Save(context.Background(), sess))

	resp, err := http.Get(f.server.URL + "/api/conversations/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice", body.ConversationID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hi", body.Messages[0].Content)
	assert.Equal(t, []string{"clock"}, body.Messages[1].ToolsUsed)
}

func TestConversation_SnapshotDoesNotTouchLiveSession(t *testing.T) {
	store, err := session.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	sessions := session.NewManager(store, nil)

	f := newFixture(t, Config{Sessions: sessions})

	sess, err := sessions.GetOrCreate(context.Background(), "web:alice")
	require.NoError(t, err)
	sess.AddMessage(session.RoleUser, "hi")
	require.NoError(t, sessions.Save(context.Background(), sess))

	// A turn in flight keeps appending to the cached session. The snapshot
	// handler must read only persisted history, so concurrent requests see
	// a stable view and the race detector stays quiet.
	appendDone := make(chan struct{})
	go func() {
		defer close(appendDone)
		for i := 0; i < 1000; i++ {
			sess.AddMessage(session.RoleAssistant, "partial")
		}
	}()

	for i := 0; i < 20; i++ {
		resp, err := http.Get(f.server.URL + "/api/conversations/alice")
		require.NoError(t, err)
		var body ConversationResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Len(t, body.Messages, 1)
	}

	<-appendDone
}

func TestConversation_UnknownChatIsEmpty(t *testing.T) {
	store, err := session.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t, Config{Sessions: session.NewManager(store, nil)})

	resp, err := http.Get(f.server.URL + "/api/conversations/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Messages)
}

func TestConversation_NoStore(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/api/conversations/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_Enforced(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	f := newFixture(t, Config{Verifier: verifier})

	// Without a token
	resp := postJSON(t, f.server.URL+"/api/messages", SendMessageRequest{Content: "hi", ChatID: "a"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With a valid token
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	data, _ := json.Marshal(SendMessageRequest{Content: "hi", ChatID: "a"})
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/messages", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusAccepted, authed.StatusCode)

	// The verified subject becomes the sender when none is given
	msgs := f.submitter.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].SenderID)

	// Health stays open
	health, err := http.Get(f.server.URL + "/api/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://app.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	// Disallowed origins get no CORS headers
	req2, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/messages", nil)
	require.NoError(t, err)
	req2.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestSend_PublishesToBus(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ch, _ := f.bus.Subscribe(ctx, "alice")

	require.NoError(t, f.channel.Send(ctx, channels.OutboundMessage{
		Channel: "web",
		ChatID:  "alice",
		Content: "final answer",
	}))

	select {
	case env := <-ch:
		assert.Equal(t, events.KindMessage, env.Kind)
		assert.Equal(t, "final answer", env.Content)
	case <-time.After(time.Second):
		t.Fatal("envelope never arrived")
	}
}
