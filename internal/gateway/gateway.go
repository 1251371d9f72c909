// ABOUTME: Gateway orchestrator wiring config into the full component graph
// ABOUTME: Owns the HTTP server lifecycle and graceful shutdown ordering

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/voxleaf/concierge-gateway/internal/auth"
	"github.com/voxleaf/concierge-gateway/internal/config"
	"github.com/voxleaf/concierge-gateway/internal/credential"
	"github.com/voxleaf/concierge-gateway/internal/crm"
	"github.com/voxleaf/concierge-gateway/internal/dedupe"
	"github.com/voxleaf/concierge-gateway/internal/engine"
	"github.com/voxleaf/concierge-gateway/internal/events"
	"github.com/voxleaf/concierge-gateway/internal/generate"
	"github.com/voxleaf/concierge-gateway/internal/retrieval"
	"github.com/voxleaf/concierge-gateway/internal/session"
	"github.com/voxleaf/concierge-gateway/internal/store"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
	"github.com/voxleaf/concierge-gateway/internal/webhook"
)

// Gateway orchestrates the concierge-gateway server components. It owns the
// webhook intake, the conversation engine, and the operator API, and tears
// everything down in dependency order on shutdown.
type Gateway struct {
	config     *config.Config
	store      store.Store
	tenants    *tenant.Registry
	creds      *credential.Manager
	sessions   session.Store
	retrieval  *retrieval.Manager
	events     events.Publisher
	replays    *dedupe.Cache
	engine     *engine.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the SQLite store, honoring the CONCIERGE_DB_PATH
// override used by the init subcommand and tests.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CONCIERGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildBackends constructs every configured generation backend. Gemini is
// skipped without an API key so a local-only deployment still starts.
func buildBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*generate.Registry, error) {
	backends := []generate.Generator{
		generate.NewOllama(cfg.Generation.Ollama.Endpoint, cfg.Generation.Ollama.Model, cfg.Generation.RequestTimeout, logger),
	}

	if cfg.Generation.Gemini.APIKey != "" {
		gemini, err := generate.NewGemini(ctx, cfg.Generation.Gemini.APIKey, cfg.Generation.Gemini.Model, cfg.Generation.RequestTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("creating gemini backend: %w", err)
		}
		backends = append(backends, gemini)
	} else {
		logger.Warn("gemini backend disabled - no api key configured")
	}

	return generate.NewRegistry(backends...), nil
}

// buildPublisher connects the AMQP publisher, or returns the no-op variant
// when events are disabled.
func buildPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if !cfg.Events.Enabled {
		return events.NoopPublisher{}, nil
	}

	pub, err := events.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting event publisher: %w", err)
	}
	return pub, nil
}

// New creates a Gateway from configuration, building every component and
// registering all HTTP routes. Nothing starts listening until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := tenant.NewRegistry(cfg.Tenants.Path, logger)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("loading tenant registry: %w", err)
	}

	sessions, err := session.New(cfg.Sessions, logger)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	backends, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		sessions.Close()
		sqlStore.Close()
		return nil, err
	}

	retrievalMgr, err := retrieval.New(ctx, cfg.Retrieval, cfg.Generation.Gemini.APIKey, logger)
	if err != nil {
		sessions.Close()
		sqlStore.Close()
		return nil, fmt.Errorf("creating retrieval manager: %w", err)
	}

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		retrievalMgr.Close()
		sessions.Close()
		sqlStore.Close()
		return nil, err
	}

	creds := credential.NewManager(sqlStore, &http.Client{Timeout: cfg.CRM.RequestTimeout}, logger)
	router := crm.NewRouter(creds, cfg.CRM.RequestTimeout, cfg.CRM.HubspotBaseURL, logger)
	replays := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	eng := engine.New(sessions, router, backends, retrievalMgr, sqlStore, publisher, replays, logger)

	gw := &Gateway{
		config:    cfg,
		store:     sqlStore,
		tenants:   registry,
		creds:     creds,
		sessions:  sessions,
		retrieval: retrievalMgr,
		events:    publisher,
		replays:   replays,
		engine:    eng,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes wires the webhook, health, OAuth, and operator API routes.
func (g *Gateway) registerRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	sender := webhook.NewSender(cfg.Channel.APIBase, cfg.Channel.SendTimeout, logger)
	hook := webhook.NewHandler(g.tenants, g.engine, sender, cfg.Channel.VerifyToken, cfg.Channel.AppSecret, cfg.Tenants.DefaultTenant, logger)
	mux.Handle("/webhook", hook)

	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/readyz", g.handleReady)

	// The callback is hit by a browser redirect from the CRM's consent
	// page, so it cannot carry a bearer token.
	mux.HandleFunc("/oauth/zoho/authorize", g.handleOAuthAuthorize)
	mux.HandleFunc("/oauth/zoho/callback", g.handleOAuthCallback)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("operator API auth enabled")
	} else {
		logger.Warn("operator API auth disabled - no jwt_secret configured")
	}
	protect := auth.Middleware(verifier)

	mux.Handle("/api/tenants", protect(http.HandlerFunc(g.handleListTenants)))
	mux.Handle("/api/tenants/reload", protect(http.HandlerFunc(g.handleReloadTenants)))
	mux.Handle("/api/sessions/reset", protect(http.HandlerFunc(g.handleResetSession)))
	mux.Handle("/api/transcript", protect(http.HandlerFunc(g.handleTranscript)))
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
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

// gracefulShutdown drains with a fresh context; the run context is already
// canceled by the time this is called.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends a labeled error if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component in reverse
// dependency order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "events close", g.events.Close())
	errs = appendCloseError(errs, "retrieval close", g.retrieval.Close())
	errs = appendCloseError(errs, "sessions close", g.sessions.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.replays.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store is reachable and at least one
// tenant is loaded.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unreachable: %v", err)
		return
	}

	tenants := g.tenants.All()
	if len(tenants) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tenants loaded"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tenants)", len(tenants))
}
