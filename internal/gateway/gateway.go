// ABOUTME: Gateway orchestrator wiring bus, loop, channels, cron and the HTTP server
// ABOUTME: Manages startup order and graceful shutdown of all components

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lanternlabs/lantern/internal/agent"
	"github.com/lanternlabs/lantern/internal/agent/providers"
	"github.com/lanternlabs/lantern/internal/auth"
	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/channels/web"
	"github.com/lanternlabs/lantern/internal/config"
	"github.com/lanternlabs/lantern/internal/cron"
	"github.com/lanternlabs/lantern/internal/events"
	"github.com/lanternlabs/lantern/internal/session"
)

// Gateway owns every long-lived component and the order they start and
// stop in: store and bus first, then the loop, then channels and cron,
// then the HTTP server.
type Gateway struct {
	config     *config.Config
	bus        *events.Bus
	store      *session.SQLiteStore
	sessions   *session.Manager
	loop       *agent.Loop
	channelMgr *channels.Manager
	cronSvc    *cron.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the session store from config and environment.
func initStore(cfg *config.Config) (*session.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LANTERN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	store, err := session.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return store, nil
}

// buildProvider creates the model provider from config. The API key can
// come from config (usually via ${VAR} expansion) or the environment.
func buildProvider(cfg *config.Config) (agent.Provider, error) {
	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("provider.api_key is required (or set OPENAI_API_KEY)")
	}
	return providers.NewOpenAIProvider(apiKey, cfg.Provider.APIBase)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	store, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := events.NewBus(logger)
	sessions := session.NewManager(store, logger)

	registry := agent.NewToolRegistry()
	registry.Register(agent.ClockTool{})
	registry.Register(agent.EchoTool{})

	engine := agent.NewEngine(provider, registry, agent.EventSinkFunc(bus.Publish), agent.EngineConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		DecideTimeout: cfg.Agent.DecideTimeout,
		ToolTimeout:   cfg.Agent.ToolTimeout,
		Params: agent.DecideParams{
			Model:       cfg.Provider.Model,
			Temperature: cfg.Agent.Temperature,
			MaxTokens:   cfg.Agent.MaxTokens,
		},
	}, logger)

	channelMgr := channels.NewManager(logger)
	loop := agent.NewLoop(engine, sessions, channelMgr, bus, agent.LoopConfig{
		SystemPrompt: cfg.Agent.SystemPrompt,
		MemoryWindow: cfg.Agent.MemoryWindow,
	}, logger)

	gw := &Gateway{
		config:     cfg,
		bus:        bus,
		store:      store,
		sessions:   sessions,
		loop:       loop,
		channelMgr: channelMgr,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("HTTP auth middleware enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	if cfg.Channels.Web.Enabled {
		webChannel := web.New(web.Config{
			Bus:         bus,
			Submitter:   loop,
			Sessions:    sessions,
			Verifier:    verifier,
			CORSOrigins: cfg.Channels.Web.CORSOrigins,
			Logger:      logger,
		})
		channelMgr.Register(webChannel)
		webChannel.RegisterRoutes(mux)
	}

	if cfg.Cron.Enabled && len(cfg.Cron.Jobs) > 0 {
		gw.cronSvc = cron.New(loop, cfg.Cron.Jobs, logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go func() {
		if err := g.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("agent loop exited", "error", err)
		}
	}()

	if err := g.channelMgr.StartAll(ctx); err != nil {
		_ = httpLn.Close()
		return err
	}

	if g.cronSvc != nil {
		if err := g.cronSvc.Start(); err != nil {
			_ = httpLn.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops components in reverse start order: cron first so no new
// work arrives, then the HTTP server, channels, bus and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down")

	if g.cronSvc != nil {
		g.cronSvc.Stop()
	}

	var firstErr error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error("HTTP shutdown failed", "error", err)
		firstErr = err
	}

	g.channelMgr.StopAll(ctx)
	g.bus.Close()

	if err := g.store.Close(); err != nil {
		g.logger.Error("store close failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	g.logger.Info("shutdown complete")
	return firstErr
}

// handleHealth handles GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReady handles GET /health/ready.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ready",
		"channels": g.channelMgr.Names(),
	})
}
