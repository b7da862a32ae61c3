// ABOUTME: Entry point for the human-gateway MCP server
// ABOUTME: Serves the human tools to agents and the control panel to the operator

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/human-gateway/internal/client"
	"github.com/2389/human-gateway/internal/config"
	"github.com/2389/human-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| |__  _   _ _ __ ___   __ _ _ __
| '_ \| | | | '_ ' _ \ / _' | '_ \
| | | | |_| | | | | | | (_| | | | |
|_| |_|\__,_|_| |_| |_|\__,_|_| |_|
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: human-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the gateway (MCP over stdio and/or HTTP, control panel)")
	fmt.Fprintln(w, "  health    Check gateway health")
	fmt.Fprintln(w, "  pending   List requests waiting for an answer")
	fmt.Fprintln(w, "  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "pending":
		err = runPending(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and loads the config file, using defaults when it is absent.
func loadConfig() (*config.Config, string, error) {
	configPath := config.ResolvePath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout belongs to the stdio transport, so everything human-readable goes to stderr.
	out := os.Stderr

	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    gateway %s\n\n", version)

	logger := setupLogger(cfg.Logging, out)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Panel:     http://%s/\n", cfg.Server.HTTPAddr)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "MCP:       %s", cfg.MCP.Transport)
	if cfg.MCP.ServesHTTP() {
		gray.Fprintf(out, " (http path %s)", cfg.MCP.Path)
	}
	fmt.Fprintln(out)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Timeout:   %s\n", cfg.Broker.DefaultTimeout)
	if cfg.Database.Path == ":memory:" {
		yellow.Fprint(out, "    ▶ ")
		fmt.Fprintln(out, "History:   in memory (lost on exit)")
	} else {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "History:   %s\n", cfg.Database.Path)
	}
	fmt.Fprintln(out)

	logger.Info("starting human-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"transport", cfg.MCP.Transport,
	)

	gw, err := gateway.New(ctx, cfg, logger, gateway.Options{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = &colorHandler{
			out:   w,
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output. Derived handlers share the
// writer lock so lines never interleave.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a.Key = strings.Join(h.groups, ".") + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// newClient returns an operator API client for the configured HTTP address.
func newClient(cfg *config.Config) *client.Client {
	return client.New(cfg.Server.HTTPAddr, nil)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()

	if err := newClient(cfg).Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("healthy")
	return nil
}

func runPending(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()

	pending, err := newClient(cfg).ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending requests: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending requests")
		return nil
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, p := range pending {
		bold.Printf("%-9s ", p.Kind)
		fmt.Printf("%s  ", p.ID)
		gray.Printf("waiting %s\n", time.Duration(p.WaitingSeconds * float64(time.Second)).Round(time.Second))
		fmt.Printf("          %s\n", summarize(p.Payload))
	}
	return nil
}

// summarize returns the headline field of a request payload.
func summarize(payload json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return string(payload)
	}
	for _, key := range []string{"question", "query", "decision_needed"} {
		if s, ok := fields[key].(string); ok {
			return s
		}
	}
	return string(payload)
}
