// ABOUTME: Ledger records every settled broker request into an OutcomeStore.
// ABOUTME: Attached to the broker as an observer; write failures are logged, never surfaced to agents.

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/human-gateway/internal/broker"
)

// ledgerWriteTimeout bounds a single insert so a stuck database cannot hold up a tool reply.
const ledgerWriteTimeout = 5 * time.Second

// Ledger adapts an OutcomeStore to broker.Observer.
type Ledger struct {
	store  OutcomeStore
	logger *slog.Logger
}

// NewLedger creates a ledger writing to s.
func NewLedger(s OutcomeStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger.With("component", "ledger")}
}

// RequestRegistered is a no-op; pending requests are never persisted.
func (l *Ledger) RequestRegistered(broker.Record) {}

// RequestSettled writes the final state of a request.
func (l *Ledger) RequestSettled(rec broker.Record, waited time.Duration) {
	o := OutcomeFromRecord(rec, waited)

	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	if err := l.store.RecordOutcome(ctx, o); err != nil {
		l.logger.Error("failed to record outcome", "request_id", rec.ID, "error", err)
	}
}

// OutcomeFromRecord converts a settled broker record into a ledger row.
func OutcomeFromRecord(rec broker.Record, waited time.Duration) *Outcome {
	o := &Outcome{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		SettledAt: rec.SettledAt,
		Waited:    waited,
	}
	if rec.Payload != nil {
		if data, err := json.Marshal(rec.Payload); err == nil {
			o.Payload = string(data)
		}
	}
	if rec.Answer != nil {
		o.Answer = rec.Answer.Text
		o.IsError = rec.Answer.IsError
	}
	return o
}

var _ broker.Observer = (*Ledger)(nil)
