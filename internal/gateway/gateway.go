// ABOUTME: Gateway orchestrator that wires the broker, both MCP transports and the operator panel
// ABOUTME: Owns the HTTP server and stdio loop lifecycle, health endpoint and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/2389/human-gateway/internal/broker"
	"github.com/2389/human-gateway/internal/builtins"
	"github.com/2389/human-gateway/internal/config"
	"github.com/2389/human-gateway/internal/dedupe"
	"github.com/2389/human-gateway/internal/mcp"
	"github.com/2389/human-gateway/internal/metrics"
	"github.com/2389/human-gateway/internal/operator"
	"github.com/2389/human-gateway/internal/store"
	"github.com/2389/human-gateway/internal/tracing"
	"github.com/2389/human-gateway/internal/webadmin"
)

// EnvDBPath overrides database.path when set.
const EnvDBPath = "HUMAN_GATEWAY_DB_PATH"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options carries process-level wiring that does not belong in the config file.
type Options struct {
	// Stdin and Stdout carry the stdio MCP transport. Default to os.Stdin/os.Stdout.
	Stdin  io.Reader
	Stdout io.Writer

	// Version is reported in serverInfo and the tracing resource.
	Version string
}

// Gateway orchestrates the human-gateway server components.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	broker   *broker.Broker
	settled  *dedupe.Cache
	store    store.OutcomeStore
	metrics  *metrics.Collector
	tracing  *tracing.Provider
	agents   *builtins.AgentGateway
	operator *operator.Service

	// mcpServer serves both the stdio loop and, when enabled, the HTTP endpoint
	mcpServer *mcp.Server
	panel     *webadmin.Panel

	handler    http.Handler
	httpServer *http.Server

	stdin  io.Reader
	stdout io.Writer

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the outcome ledger, honouring HUMAN_GATEWAY_DB_PATH.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	gw := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
		stdin:  opts.Stdin,
		stdout: opts.Stdout,
	}
	// Anything opened before a failure is released.
	ok := false
	defer func() {
		if !ok {
			_ = gw.closeComponents(context.Background())
		}
	}()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	gw.tracing = tp

	sqlStore, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	gw.store = sqlStore

	gw.settled = dedupe.New(cfg.Broker.SettledTTL, dedupe.DefaultMaxSize)

	observers := []broker.Observer{gw.settled, store.NewLedger(sqlStore, logger)}
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
		observers = append(observers, gw.metrics)
	}

	gw.broker = broker.New(broker.Config{
		Logger:    logger.With("component", "broker"),
		Observers: observers,
		Retired:   gw.settled.Seen,
	})

	gw.agents, err = builtins.NewAgentGateway(builtins.Config{
		Broker:  gw.broker,
		Timeout: cfg.Broker.DefaultTimeout,
		Logger:  logger.With("component", "builtins"),
		Tracer:  tp.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent gateway: %w", err)
	}

	opCfg := operator.Config{
		Requests: gw.broker,
		Settled:  gw.settled,
		Outcomes: sqlStore,
		Logger:   logger,
	}
	if gw.metrics != nil {
		opCfg.Metrics = gw.metrics
	}
	gw.operator, err = operator.New(opCfg)
	if err != nil {
		return nil, fmt.Errorf("creating operator service: %w", err)
	}

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Gateway: gw.agents,
		Logger:  logger.With("component", "mcp"),
		Version: opts.Version,
		Path:    cfg.MCP.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw.panel, err = webadmin.New(webadmin.Config{
		Operator:     gw.operator,
		Title:        cfg.WebUI.Title,
		PollInterval: cfg.WebUI.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating control panel: %w", err)
	}

	mux := http.NewServeMux()

	// Health endpoint
	mux.HandleFunc("GET /health", gw.handleHealth)

	if gw.metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, gw.metrics.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	if cfg.MCP.ServesHTTP() {
		gw.mcpServer.RegisterRoutes(mux)
		logger.Info("MCP HTTP transport enabled", "path", cfg.MCP.Path)
	}

	gw.panel.RegisterRoutes(mux)

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return gw, nil
}

// Handler returns the HTTP handler serving the panel, API, health, metrics and MCP routes.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Broker exposes the request broker.
func (g *Gateway) Broker() *broker.Broker {
	return g.broker
}

// startHTTP serves the HTTP listener in a goroutine, reporting failures on errCh.
func (g *Gateway) startHTTP(ln net.Listener, errCh chan<- error) {
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
}

// startStdio runs the stdio MCP loop. The returned channel yields once the
// loop ends: nil when input reached EOF, an error otherwise. It is nil when
// the stdio transport is disabled.
func (g *Gateway) startStdio(ctx context.Context) <-chan error {
	if !g.config.MCP.ServesStdio() {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- g.mcpServer.ServeStdio(ctx, g.stdin, g.stdout)
	}()
	return done
}

// waitForShutdownSignal waits for context cancellation, a server error, or the
// stdio client going away. stdioFinished reports whether the stdio loop has
// already returned.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh <-chan error, stdioDone <-chan error) (stdioFinished bool, err error) {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return false, nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return false, err
	case err := <-stdioDone:
		if err != nil {
			g.logger.Error("stdio transport failed", "error", err)
			return true, err
		}
		g.logger.Info("stdio client disconnected, initiating shutdown")
		return true, nil
	}
}

// Run starts the gateway servers and blocks until the context is canceled,
// a server fails, or the stdio client closes its input.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"mcp_transport", g.config.MCP.Transport,
		"default_timeout", g.config.Broker.DefaultTimeout,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	g.startHTTP(ln, errCh)
	stdioDone := g.startStdio(runCtx)

	stdioFinished, serverErr := g.waitForShutdownSignal(runCtx, errCh, stdioDone)

	// Settle everything still pending so blocked agents get their reply
	// before the stdio loop is torn down.
	g.broker.Close()
	cancel()
	if stdioDone != nil && !stdioFinished {
		select {
		case <-stdioDone:
		case <-time.After(shutdownTimeout):
			g.logger.Warn("stdio transport did not stop in time")
		}
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops all gateway servers and releases resources.
// It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		if g.broker != nil {
			g.broker.Close()
		}
		if g.httpServer != nil {
			errs = appendCloseError(errs, "HTTP server", g.httpServer.Shutdown(ctx))
		}
		if err := g.closeComponents(ctx); err != nil {
			errs = append(errs, err)
		}
		g.shutdownErr = errors.Join(errs...)
		g.logger.Info("gateway stopped")
	})
	return g.shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases components that may be nil after a failed New.
func (g *Gateway) closeComponents(ctx context.Context) error {
	var errs []error
	if g.settled != nil {
		g.settled.Close()
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store", g.store.Close())
	}
	if g.tracing != nil {
		errs = appendCloseError(errs, "tracing", g.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
