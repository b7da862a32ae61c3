// ABOUTME: Operator control panel and JSON API for human-gateway
// ABOUTME: Lists pending requests, accepts answers, and reports stats and history over HTTP

package webadmin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/human-gateway/internal/operator"
)

// History limits for GET /api/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// maxAnswerBody caps the size of an answer submission.
const maxAnswerBody = 1 << 20

// Operator is the operator gateway the panel drives.
type Operator interface {
	ListPending() []operator.PendingRequest
	SubmitAnswer(id, text string, isError bool) operator.SubmitResult
	Stats(ctx context.Context) (operator.Stats, error)
	History(ctx context.Context, limit int) ([]operator.HistoryEntry, error)
}

// Config holds control panel configuration
type Config struct {
	Operator     Operator
	Title        string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Panel serves the operator control panel and its JSON API.
type Panel struct {
	operator     Operator
	title        string
	pollInterval time.Duration
	logger       *slog.Logger
	renderer     *renderer
}

// New creates a Panel.
func New(cfg Config) (*Panel, error) {
	if cfg.Operator == nil {
		return nil, errors.New("webadmin: operator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	title := cfg.Title
	if title == "" {
		title = "Human MCP Control Panel"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	r, err := newRenderer()
	if err != nil {
		return nil, err
	}
	return &Panel{
		operator:     cfg.Operator,
		title:        title,
		pollInterval: poll,
		logger:       logger.With("component", "webadmin"),
		renderer:     r,
	}, nil
}

// RegisterRoutes adds the panel and API routes to mux.
func (p *Panel) RegisterRoutes(mux *http.ServeMux) {
	// Pages
	mux.HandleFunc("GET /{$}", p.handleIndex)
	mux.HandleFunc("GET /partials/pending", p.handlePendingPartial)

	// JSON API
	mux.HandleFunc("GET /api/requests", p.handleListRequests)
	mux.HandleFunc("POST /api/requests/answer", p.handleAnswer)
	mux.HandleFunc("GET /api/stats", p.handleStats)
	mux.HandleFunc("GET /api/history", p.handleHistory)
}

// AnswerRequest is the body of POST /api/requests/answer.
type AnswerRequest struct {
	ID      string `json:"id"`
	Answer  string `json:"answer"`
	IsError bool   `json:"is_error,omitempty"`
}

// handleListRequests handles GET /api/requests.
func (p *Panel) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, http.StatusOK, p.operator.ListPending())
}

// handleAnswer handles POST /api/requests/answer. Misses are reported in the
// body with ok=false rather than as HTTP errors.
func (p *Panel) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAnswerBody)).Decode(&req); err != nil {
		p.writeJSON(w, http.StatusBadRequest, operator.SubmitResult{
			Reason:  operator.ReasonInvalidInput,
			Message: "invalid JSON body",
		})
		return
	}

	res := p.operator.SubmitAnswer(req.ID, req.Answer, req.IsError)
	p.writeJSON(w, http.StatusOK, res)
}

// handleStats handles GET /api/stats.
func (p *Panel) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := p.operator.Stats(r.Context())
	if err != nil {
		p.logger.Error("failed to read stats", "error", err)
		p.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	p.writeJSON(w, http.StatusOK, st)
}

// handleHistory handles GET /api/history?limit=N (default 50, max 500).
func (p *Panel) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			p.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	entries, err := p.operator.History(r.Context(), limit)
	if err != nil {
		p.logger.Error("failed to read history", "error", err)
		p.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	p.writeJSON(w, http.StatusOK, entries)
}

// handleIndex renders the control panel page.
func (p *Panel) handleIndex(w http.ResponseWriter, r *http.Request) {
	st, err := p.operator.Stats(r.Context())
	if err != nil {
		p.logger.Warn("stats unavailable for page render", "error", err)
	}
	p.renderer.renderIndex(w, p.logger, indexData{
		Title:          p.title,
		PollIntervalMS: p.pollInterval.Milliseconds(),
		Stats:          st,
		Pending:        p.renderer.cards(p.operator.ListPending(), p.logger),
	})
}

// handlePendingPartial renders the pending cards for the polling page.
func (p *Panel) handlePendingPartial(w http.ResponseWriter, r *http.Request) {
	p.renderer.renderPending(w, p.logger, p.renderer.cards(p.operator.ListPending(), p.logger))
}

func (p *Panel) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (p *Panel) sendJSONError(w http.ResponseWriter, status int, message string) {
	p.writeJSON(w, status, map[string]string{"error": message})
}
