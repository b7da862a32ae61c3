// ABOUTME: Operator-facing service over the broker, the settled-id cache and the outcome ledger.
// ABOUTME: Lists pending requests, accepts answers and reports pending/answered/timed-out totals.

package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/human-gateway/internal/broker"
	"github.com/2389/human-gateway/internal/store"
)

// Submit rejection reasons.
const (
	ReasonNotFound     = "not_found"
	ReasonInvalidInput = "invalid_input"
)

// Messages returned to the operator when a submit misses.
const (
	MsgNotAvailable    = "Request no longer available"
	MsgAlreadyAnswered = "Request was already answered"
	MsgTimedOut        = "Request timed out before the answer arrived"
	MsgEmptyAnswer     = "Answer must not be empty"
	MsgMissingID       = "Request id is required"
)

// Requests is what the service needs from the broker.
type Requests interface {
	ListPending() []broker.Record
	PendingCount() int
	Resolve(id string, answer broker.Answer) error
}

// SettledLookup remembers how recently settled requests ended.
type SettledLookup interface {
	Lookup(id string) (broker.Status, bool)
}

// OutcomeReader is the read side of the outcome ledger.
type OutcomeReader interface {
	ListOutcomes(ctx context.Context, limit int) ([]*store.Outcome, error)
	CountOutcomes(ctx context.Context) (store.Counts, error)
}

// SubmitRecorder counts submit results.
type SubmitRecorder interface {
	OperatorSubmit(result string)
}

// Config wires a Service. Only Requests is required.
type Config struct {
	Requests Requests
	Settled  SettledLookup
	Outcomes OutcomeReader
	Metrics  SubmitRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service is the operator gateway.
type Service struct {
	requests Requests
	settled  SettledLookup
	outcomes OutcomeReader
	metrics  SubmitRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an operator Service.
func New(cfg Config) (*Service, error) {
	if cfg.Requests == nil {
		return nil, errors.New("operator: requests source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		requests: cfg.Requests,
		settled:  cfg.Settled,
		outcomes: cfg.Outcomes,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "operator"),
		now:      now,
	}, nil
}

// PendingRequest is one entry of the operator listing.
type PendingRequest struct {
	ID             string         `json:"id"`
	Kind           broker.Kind    `json:"kind"`
	Payload        broker.Payload `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
	WaitingSeconds float64        `json:"waiting_seconds"`
}

// ListPending returns the pending requests, oldest first.
func (s *Service) ListPending() []PendingRequest {
	recs := s.requests.ListPending()
	now := s.now()
	out := make([]PendingRequest, 0, len(recs))
	for _, rec := range recs {
		waiting := max(now.Sub(rec.CreatedAt), 0)
		out = append(out, PendingRequest{
			ID:             rec.ID,
			Kind:           rec.Kind,
			Payload:        rec.Payload,
			CreatedAt:      rec.CreatedAt,
			WaitingSeconds: waiting.Seconds(),
		})
	}
	return out
}

// SubmitResult reports what happened to an answer.
type SubmitResult struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// SubmitAnswer delivers text to the agent waiting on id. Blank text is
// rejected before the broker sees it.
func (s *Service) SubmitAnswer(id, text string, isError bool) SubmitResult {
	id = strings.TrimSpace(id)
	var res SubmitResult
	switch {
	case id == "":
		res = SubmitResult{Reason: ReasonInvalidInput, Message: MsgMissingID}
	case strings.TrimSpace(text) == "":
		res = SubmitResult{Reason: ReasonInvalidInput, Message: MsgEmptyAnswer}
	default:
		res = s.resolve(id, text, isError)
	}

	if s.metrics != nil {
		result := "ok"
		if !res.OK {
			result = res.Reason
		}
		s.metrics.OperatorSubmit(result)
	}
	return res
}

func (s *Service) resolve(id, text string, isError bool) SubmitResult {
	err := s.requests.Resolve(id, broker.Answer{Text: text, IsError: isError})
	if err == nil {
		s.logger.Info("answer submitted", "id", id, "is_error", isError)
		return SubmitResult{OK: true}
	}
	if !errors.Is(err, broker.ErrNotFound) {
		s.logger.Error("resolve failed", "id", id, "error", err)
		return SubmitResult{Reason: ReasonNotFound, Message: MsgNotAvailable}
	}

	msg := MsgNotAvailable
	if s.settled != nil {
		if status, ok := s.settled.Lookup(id); ok {
			switch status {
			case broker.StatusAnswered:
				msg = MsgAlreadyAnswered
			case broker.StatusTimedOut:
				msg = MsgTimedOut
			}
		}
	}
	s.logger.Debug("submit for unavailable request", "id", id, "message", msg)
	return SubmitResult{Reason: ReasonNotFound, Message: msg}
}

// Stats is the operator summary.
type Stats struct {
	Pending  int `json:"pending"`
	Answered int `json:"answered"`
	TimedOut int `json:"timed_out"`
}

// Stats returns the pending count and the ledger totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Pending: s.requests.PendingCount()}
	if s.outcomes == nil {
		return st, nil
	}
	c, err := s.outcomes.CountOutcomes(ctx)
	if err != nil {
		return st, fmt.Errorf("counting outcomes: %w", err)
	}
	st.Answered = c.Answered
	st.TimedOut = c.TimedOut
	return st, nil
}

// HistoryEntry is one settled request as shown to the operator.
type HistoryEntry struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	Answer        string          `json:"answer,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SettledAt     time.Time       `json:"settled_at"`
	WaitedSeconds float64         `json:"waited_seconds"`
}

// History returns recently settled requests, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	out := []HistoryEntry{}
	if s.outcomes == nil {
		return out, nil
	}
	list, err := s.outcomes.ListOutcomes(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	for _, o := range list {
		payload := json.RawMessage(o.Payload)
		if !json.Valid(payload) {
			payload = json.RawMessage("{}")
		}
		out = append(out, HistoryEntry{
			ID:            o.ID,
			Kind:          o.Kind,
			Status:        o.Status,
			Payload:       payload,
			Answer:        o.Answer,
			IsError:       o.IsError,
			CreatedAt:     o.CreatedAt,
			SettledAt:     o.SettledAt,
			WaitedSeconds: o.Waited.Seconds(),
		})
	}
	return out, nil
}
