// ABOUTME: Data model for pending human requests: kinds, payloads, records and outcomes.
// ABOUTME: Each request kind is a closed variant with its own payload struct and validation.

package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which tool produced a request.
type Kind string

const (
	KindQuestion Kind = "question" // ask_human
	KindSearch   Kind = "search"   // human_search
	KindDecision Kind = "decision" // human_decision
)

// Status is the lifecycle state of a request record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusTimedOut Status = "timed_out"
)

// Payload is the tool-specific content shown to the operator.
// Implementations are immutable once registered.
type Payload interface {
	Kind() Kind
	Validate() error
}

// ErrMissingField is wrapped by payload validation failures.
var ErrMissingField = errors.New("missing required field")

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

// QuestionPayload is a free-form question for the operator.
type QuestionPayload struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

func (QuestionPayload) Kind() Kind { return KindQuestion }

func (p QuestionPayload) Validate() error {
	return requireField("question", p.Question)
}

// SearchPayload asks the operator to look something up.
type SearchPayload struct {
	Query   string `json:"query"`
	Sources string `json:"sources,omitempty"`
}

func (SearchPayload) Kind() Kind { return KindSearch }

func (p SearchPayload) Validate() error {
	return requireField("query", p.Query)
}

// DecisionPayload asks the operator to choose between options.
type DecisionPayload struct {
	DecisionNeeded string  `json:"decision_needed"`
	Options        Options `json:"options"`
	Recommendation string  `json:"recommendation,omitempty"`
}

func (DecisionPayload) Kind() Kind { return KindDecision }

func (p DecisionPayload) Validate() error {
	if err := requireField("decision_needed", p.DecisionNeeded); err != nil {
		return err
	}
	if p.Options.Empty() {
		return fmt.Errorf("%w: options", ErrMissingField)
	}
	return nil
}

// Options holds decision choices. Agents send either a list of strings or a
// single free-text description; both forms round-trip unchanged.
type Options struct {
	List []string
	Text string
}

// Empty reports whether no usable option was supplied.
func (o Options) Empty() bool {
	if strings.TrimSpace(o.Text) != "" {
		return false
	}
	for _, item := range o.List {
		if strings.TrimSpace(item) != "" {
			return false
		}
	}
	return true
}

// String renders the options for display.
func (o Options) String() string {
	if len(o.List) > 0 {
		return strings.Join(o.List, ", ")
	}
	return o.Text
}

func (o Options) MarshalJSON() ([]byte, error) {
	if o.List != nil {
		return json.Marshal(o.List)
	}
	return json.Marshal(o.Text)
}

func (o *Options) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*o = Options{}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("options: %w", err)
		}
		*o = Options{List: list}
		return nil
	default:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("options must be a string or a list of strings: %w", err)
		}
		*o = Options{Text: text}
		return nil
	}
}

// Answer is what the operator submits for a request.
// IsError marks the text as an error reply to be surfaced to the agent as a failed tool result.
type Answer struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
}

// Record is a snapshot of one request's state.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	Status    Status    `json:"status"`
	Answer    *Answer   `json:"answer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt time.Time `json:"settled_at,omitzero"`

	seq uint64
}

// Outcome is what a waiter observes when Await returns.
type Outcome struct {
	ID     string
	Status Status
	Answer Answer // zero unless Status == StatusAnswered
	Waited time.Duration
}

// Answered reports whether the operator replied before the deadline.
func (o Outcome) Answered() bool { return o.Status == StatusAnswered }
