// ABOUTME: Store interface and data types for the human-gateway outcome ledger
// ABOUTME: Defines the Outcome record written when a request settles and the query surface over it

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateOutcome is returned when an outcome for the same request id is recorded twice
var ErrDuplicateOutcome = errors.New("outcome already recorded")

// Outcome is the settled state of one human request. Only settled requests are
// written, so the ledger can never bring a pending request back.
type Outcome struct {
	ID        string
	Kind      string // "question", "search", "decision"
	Status    string // "answered", "timed_out"
	Payload   string // JSON of the tool arguments as shown to the operator
	Answer    string
	IsError   bool
	CreatedAt time.Time
	SettledAt time.Time
	Waited    time.Duration
}

// Counts are totals per final status.
type Counts struct {
	Answered int `json:"answered"`
	TimedOut int `json:"timed_out"`
}

// Total returns the number of settled requests.
func (c Counts) Total() int { return c.Answered + c.TimedOut }

// OutcomeStore persists settled requests.
type OutcomeStore interface {
	// RecordOutcome appends a settled request. Returns ErrDuplicateOutcome if the id is already present.
	RecordOutcome(ctx context.Context, o *Outcome) error

	// GetOutcome returns the outcome for a request id, or ErrNotFound.
	GetOutcome(ctx context.Context, id string) (*Outcome, error)

	// ListOutcomes returns the most recently settled outcomes, newest first.
	ListOutcomes(ctx context.Context, limit int) ([]*Outcome, error)

	// CountOutcomes returns totals per status.
	CountOutcomes(ctx context.Context) (Counts, error)

	Close() error
}
