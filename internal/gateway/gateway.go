// ABOUTME: Gateway composition root that wires the store, providers, and HTTP stack
// ABOUTME: Manages listener setup, session lifetimes, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/troupe-gateway/internal/auth"
	"github.com/2389/troupe-gateway/internal/cache"
	"github.com/2389/troupe-gateway/internal/config"
	"github.com/2389/troupe-gateway/internal/conversation"
	"github.com/2389/troupe-gateway/internal/metrics"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/provider"
	"github.com/2389/troupe-gateway/internal/server"
	"github.com/2389/troupe-gateway/internal/store"
	"github.com/2389/troupe-gateway/internal/webconsole"
)

// Gateway wires every component of the troupe-gateway daemon and owns their
// lifecycles: the SQLite store, the provider gateway, the conversation
// service, and the HTTP server (TCP or tailnet).
type Gateway struct {
	config       *config.Config
	store        *store.SQLiteStore
	registry     *persona.Registry
	providers    *provider.Gateway
	respCache    cache.Cache
	conversation *conversation.Service
	collector    *metrics.Metrics
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// sessionCancel ends every session loop started through the API.
	sessionCancel context.CancelFunc
}

// initStore creates the store from config, honoring the TROUPE_DB_PATH
// environment override.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TROUPE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// SeedPersonas loads stored personas into the registry, writing the built-in
// defaults first when the store holds none. Returns the registry size.
// The init CLI command uses it too, so seeding behaves the same either way.
func SeedPersonas(ctx context.Context, st *store.SQLiteStore, registry *persona.Registry, logger *slog.Logger) (int, error) {
	stored, err := st.LoadPersonas(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading personas: %w", err)
	}

	if len(stored) == 0 {
		stored = persona.Defaults()
		for _, p := range stored {
			if err := st.SavePersona(ctx, p); err != nil {
				return 0, fmt.Errorf("seeding persona %q: %w", p.Name, err)
			}
		}
		logger.Info("seeded built-in personas", "count", len(stored))
	}

	for _, p := range stored {
		if err := registry.Upsert(p); err != nil {
			return 0, fmt.Errorf("registering persona %q: %w", p.Name, err)
		}
	}
	return registry.Len(), nil
}

// initCache builds the response cache backend selected in config.
func initCache(cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := cache.NewRedis(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		logger.Info("response cache using redis", "addr", cfg.Cache.Redis.Addr)
		return c, nil
	default:
		return cache.NewMemory(cfg.Cache.MaxEntries), nil
	}
}

// New creates a Gateway instance with the given configuration. The returned
// Gateway is fully wired but not listening; call Run to serve.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := persona.NewRegistry(logger.With("component", "personas"))
	if _, err := SeedPersonas(context.Background(), st, registry, logger.With("component", "personas")); err != nil {
		_ = st.Close()
		return nil, err
	}

	respCache, err := initCache(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	collector := metrics.New()

	clients := provider.FromConfig(cfg.Providers, logger.With("component", "providers"))
	providers, err := provider.New(clients, respCache, provider.Options{
		CacheTTL:         cfg.Cache.TTL,
		AttemptTimeout:   cfg.Providers.AttemptTimeout,
		FailureThreshold: cfg.Providers.FailureThreshold,
		OverrideAttempts: cfg.Providers.OverrideAttempts,
		RateLimit:        cfg.Providers.RateLimit,
	}, collector, logger.With("component", "provider-gateway"))
	if err != nil {
		_ = respCache.Close()
		_ = st.Close()
		return nil, fmt.Errorf("building provider gateway: %w", err)
	}

	hub := conversation.NewBroadcaster(logger.With("component", "broadcaster"))
	convService := conversation.New(registry, providers, hub, st, conversation.Config{
		HistoryCapacity: cfg.Conversation.HistoryCapacity,
		HistoryWindow:   cfg.Conversation.HistoryWindow,
		MinDelay:        cfg.Conversation.MinDelay,
		MaxDelay:        cfg.Conversation.MaxDelay,
		TurnLimit:       cfg.Conversation.TurnLimit,
		FailureLimit:    cfg.Conversation.FailureLimit,
	}, collector, logger.With("component", "conversation"))

	// Session loops outlive any request; they stop when this context is
	// canceled at shutdown or when the service closes.
	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	gw := &Gateway{
		config:        cfg,
		store:         st,
		registry:      registry,
		providers:     providers,
		respCache:     respCache,
		conversation:  convService,
		collector:     collector,
		logger:        logger.With("component", "gateway"),
		sessionCancel: sessionCancel,
	}

	mux := http.NewServeMux()

	apiServer := server.New(server.Deps{
		Conversation: convService,
		Registry:     registry,
		Providers:    providers,
		Personas:     st,
		Store:        st,
		Auth:         gw.authMiddleware(),
		SessionCtx:   sessionCtx,
		Logger:       logger,
	})
	apiServer.RegisterRoutes(mux)

	webconsole.New(st, registry).RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, collector.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// authMiddleware picks the middleware that wraps mutating API routes.
func (g *Gateway) authMiddleware() func(http.Handler) http.Handler {
	if g.config.Auth.Enabled {
		verifier := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		g.logger.Info("bearer auth enabled for mutating routes")
		return auth.RequireAuth(verifier)
	}
	g.logger.Warn("auth disabled - mutating routes are open")
	return auth.Passthrough()
}

// setupListeners creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	addr := g.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return ln, nil
}

// startServer serves HTTP in a goroutine, reporting failures on the channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "troupe-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns its listener. The
// same mux serves inside the tailnet that would serve on TCP.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server, session loops, and backends.
// Safe to call without Run and safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.sessionCancel()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Waits for every session loop; loops flush their final status to the
	// store before returning, so the store closes after them.
	g.conversation.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		g.tsnetServer = nil
	}
	errs = appendCloseError(errs, "cache close", g.respCache.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
