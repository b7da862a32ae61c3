// ABOUTME: AgentGateway turns an agent tool call into a broker registration plus a blocking wait.
// ABOUTME: Formats the outcome as tool result text: the operator's answer or a timeout notice.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/human-gateway/internal/broker"
)

// ErrUnknownTool is returned when the agent calls a tool this gateway does not expose.
var ErrUnknownTool = errors.New("unknown tool")

// DefaultTimeout is how long a tool call waits for the operator.
const DefaultTimeout = 5 * time.Minute

// InvalidRequestError reports tool arguments that fail validation.
// The broker is never touched for an invalid request.
type InvalidRequestError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s is required", e.Field)
	}
	return "invalid request: " + e.Reason
}

// Result is the text returned to the agent.
type Result struct {
	Text    string
	IsError bool
}

// Config contains construction options for an AgentGateway.
type Config struct {
	Broker   *broker.Broker
	Registry *Registry
	Timeout  time.Duration
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// AgentGateway is the agent-facing half of the system.
type AgentGateway struct {
	broker   *broker.Broker
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewAgentGateway validates the config and builds a gateway. A nil Registry
// means the three human tools.
func NewAgentGateway(cfg Config) (*AgentGateway, error) {
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}
	registry := cfg.Registry
	if registry == nil {
		r, err := NewRegistry(HumanTools()...)
		if err != nil {
			return nil, fmt.Errorf("building tool registry: %w", err)
		}
		registry = r
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/2389/human-gateway/internal/builtins")
	}

	return &AgentGateway{
		broker:   cfg.Broker,
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		tracer:   tracer,
	}, nil
}

// Tools lists the tools exposed to agents.
func (g *AgentGateway) Tools() []*Tool {
	return g.registry.List()
}

// Timeout returns the per-call deadline.
func (g *AgentGateway) Timeout() time.Duration {
	return g.timeout
}

// Call handles one tool invocation and blocks until the operator answers or
// the deadline passes. A timeout is a normal Result. Errors are either
// ErrUnknownTool, *InvalidRequestError, or a failure to wait (context ended,
// broker closed).
func (g *AgentGateway) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "tool.call",
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	tool := g.registry.Get(name)
	if tool == nil {
		span.SetStatus(codes.Error, "unknown tool")
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	payload, err := tool.Parse(args)
	if err != nil {
		g.logger.Warn("rejected tool call", "tool", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return Result{}, err
	}

	id, err := g.broker.Register(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return Result{}, fmt.Errorf("registering request: %w", err)
	}
	span.SetAttributes(attribute.String("request.id", id))
	g.logger.Debug("waiting for operator", "tool", name, "request_id", id, "timeout", g.timeout)

	out, err := g.broker.Await(ctx, id, g.timeout)
	span.SetAttributes(
		attribute.String("request.status", string(out.Status)),
		attribute.Int64("request.waited_ms", out.Waited.Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "await failed")
		return Result{}, fmt.Errorf("waiting for operator: %w", err)
	}

	switch out.Status {
	case broker.StatusAnswered:
		return Result{Text: out.Answer.Text, IsError: out.Answer.IsError}, nil
	default:
		return Result{Text: TimeoutMessage(g.timeout)}, nil
	}
}

// TimeoutMessage is the result text when no answer arrives in time.
func TimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Request timed out: no human response received within %s.", humanDuration(d))
}

func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int64(d/time.Second), "second")
	default:
		return d.String()
	}
}
