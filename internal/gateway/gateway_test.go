// ABOUTME: Tests for gateway construction and lifecycle
// ABOUTME: Boots a real server on an ephemeral port and shuts it down cleanly

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternlabs/lantern/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Provider.APIKey = "sk-test"
	cfg.Provider.Model = "gpt-4o-mini"
	cfg.Agent.MaxIterations = 3
	cfg.Channels.Web.Enabled = true
	cfg.Channels.Web.CORSOrigins = []string{"*"}
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	gw, err := New(testConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	assert.NotNil(t, gw.loop)
	assert.Contains(t, gw.channelMgr.Names(), "web")
	assert.Nil(t, gw.cronSvc)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.APIKey = ""
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestNew_CronEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Cron.Enabled = true
	cfg.Cron.Jobs = []config.CronJobConfig{
		{Name: "j", Schedule: "@hourly", Message: "tick", Channel: "web", ChatID: "ops"},
	}

	gw, err := New(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	assert.NotNil(t, gw.cronSvc)
}

func TestHealthEndpoints(t *testing.T) {
	gw, err := New(testConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	for _, path := range []string{"/health", "/health/ready", "/api/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		gw.httpServer.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	gw, err := New(testConfig(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the server a moment to come up, then stop it
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
