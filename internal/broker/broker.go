// ABOUTME: Pending-request broker that parks agent calls until a human answers or time runs out.
// ABOUTME: Arbitrates answer vs. timeout under one lock so each request settles exactly once.

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the request is not pending: already answered, timed out, or never registered.
var ErrNotFound = errors.New("request not found")

// ErrUnknownRequest indicates Await was called for an identifier the broker does not hold.
var ErrUnknownRequest = errors.New("unknown request")

// ErrAlreadyAwaited indicates a second waiter tried to block on the same request.
var ErrAlreadyAwaited = errors.New("request already has a waiter")

// ErrClosed indicates the broker has been shut down. Await returns it with a
// timed-out Outcome when Close settled the request.
var ErrClosed = errors.New("broker closed")

// DefaultTimeout is how long Await blocks when the caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Minute

// maxIDAttempts bounds retries when the identifier source returns a live or retired id.
const maxIDAttempts = 8

// Observer is notified of lifecycle transitions. Calls happen outside the
// broker lock, after the transition is visible to ListPending.
type Observer interface {
	RequestRegistered(rec Record)
	RequestSettled(rec Record, waited time.Duration)
}

// Config contains construction options for a Broker.
type Config struct {
	Logger    *slog.Logger
	Observers []Observer

	// NewID generates identifiers. Defaults to random UUIDs.
	NewID func() (string, error)

	// Retired reports whether an id was used by a request that has already
	// been cleaned up, so it is never handed out again.
	Retired func(id string) bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// entry is the live state behind a Record. done is closed exactly once, when
// the record leaves StatusPending.
type entry struct {
	rec      Record
	done     chan struct{}
	waiting  bool
	shutdown bool // settled by Close
}

// Broker owns the identifier -> record mapping.
type Broker struct {
	logger    *slog.Logger
	observers []Observer
	newID     func() (string, error)
	retired   func(string) bool
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]*entry
	seq     uint64
	closed  bool
}

// New creates a Broker with the given configuration.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	observers := make([]Observer, 0, len(cfg.Observers))
	for _, o := range cfg.Observers {
		if o != nil {
			observers = append(observers, o)
		}
	}

	return &Broker{
		logger:    logger,
		observers: observers,
		newID:     newID,
		retired:   cfg.Retired,
		now:       now,
		records:   make(map[string]*entry),
	}
}

// Register records a new pending request and returns its identifier.
// The payload must already be valid; callers validate at the gateway.
// Panics if the identifier source is broken.
func (b *Broker) Register(payload Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("register: nil payload")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	id := b.allocateIDLocked()
	b.seq++
	e := &entry{
		rec: Record{
			ID:        id,
			Kind:      payload.Kind(),
			Payload:   payload,
			Status:    StatusPending,
			CreatedAt: b.now(),
			seq:       b.seq,
		},
		done: make(chan struct{}),
	}
	b.records[id] = e
	snapshot := e.rec
	b.mu.Unlock()

	b.logger.Info("request registered", "request_id", id, "kind", snapshot.Kind)
	for _, o := range b.observers {
		o.RequestRegistered(snapshot)
	}
	return id, nil
}

// allocateIDLocked draws identifiers until one is neither live nor retired.
// Must be called with mu held.
func (b *Broker) allocateIDLocked() string {
	var lastErr error
	for range maxIDAttempts {
		id, err := b.newID()
		if err != nil {
			lastErr = err
			continue
		}
		if id == "" {
			lastErr = errors.New("empty identifier")
			continue
		}
		if _, live := b.records[id]; live {
			lastErr = fmt.Errorf("identifier %s already live", id)
			continue
		}
		if b.retired != nil && b.retired(id) {
			lastErr = fmt.Errorf("identifier %s already used", id)
			continue
		}
		return id
	}
	panic(fmt.Sprintf("broker: identifier source cannot produce a unique id: %v", lastErr))
}

// Await blocks until the request is answered, the timeout elapses, or ctx is
// done. A timeout is reported as an Outcome with StatusTimedOut, not an error.
// When ctx ends first the request is settled as timed out and ctx.Err() is
// returned with the outcome. When Close settles it, ErrClosed is returned with
// the timed-out outcome. The record is removed before Await returns.
func (b *Broker) Await(ctx context.Context, id string, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	b.mu.Lock()
	e, ok := b.records[id]
	if !ok {
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return Outcome{ID: id, Status: StatusTimedOut}, ErrClosed
		}
		b.logger.Error("await on unknown request", "request_id", id)
		return Outcome{ID: id}, ErrUnknownRequest
	}
	if e.waiting {
		b.mu.Unlock()
		return Outcome{ID: id}, ErrAlreadyAwaited
	}
	e.waiting = true
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-e.done:
	case <-timer.C:
		b.expire(e)
	case <-ctx.Done():
		b.expire(e)
		waitErr = ctx.Err()
	}

	out, rec, shutdown := b.remove(id, e)
	switch {
	case out.Status == StatusAnswered:
		// An answer that won the race beats a cancelled context.
		waitErr = nil
	case shutdown && waitErr == nil:
		waitErr = ErrClosed
	}

	b.logger.Info("request settled",
		"request_id", id,
		"status", out.Status,
		"waited", out.Waited.Round(time.Millisecond),
	)
	for _, o := range b.observers {
		o.RequestSettled(rec, out.Waited)
	}
	return out, waitErr
}

// expire moves a still-pending entry to StatusTimedOut. No-op if an answer got there first.
func (b *Broker) expire(e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked(e, StatusTimedOut, nil)
}

// settleLocked performs the single transition out of StatusPending.
// Must be called with mu held. Returns false if the entry was already settled.
func (b *Broker) settleLocked(e *entry, status Status, answer *Answer) bool {
	if e.rec.Status != StatusPending {
		return false
	}
	e.rec.Status = status
	e.rec.Answer = answer
	e.rec.SettledAt = b.now()
	close(e.done)
	return true
}

// remove deletes the entry from the live map and returns the final outcome.
func (b *Broker) remove(id string, e *entry) (Outcome, Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.records[id]; ok && cur == e {
		delete(b.records, id)
	}
	out := Outcome{
		ID:     id,
		Status: e.rec.Status,
		Waited: e.rec.SettledAt.Sub(e.rec.CreatedAt),
	}
	if e.rec.Answer != nil {
		out.Answer = *e.rec.Answer
	}
	return out, e.rec, e.shutdown
}

// Resolve answers a pending request and wakes its waiter.
// Returns ErrNotFound if the request is absent or no longer pending.
func (b *Broker) Resolve(id string, answer Answer) error {
	b.mu.Lock()
	e, ok := b.records[id]
	if !ok || !b.settleLocked(e, StatusAnswered, &answer) {
		b.mu.Unlock()
		b.logger.Debug("resolve for request that is not pending", "request_id", id)
		return ErrNotFound
	}
	b.mu.Unlock()

	b.logger.Info("request answered", "request_id", id, "is_error", answer.IsError)
	return nil
}

// ListPending returns a snapshot of pending requests, oldest first.
func (b *Broker) ListPending() []Record {
	b.mu.RLock()
	out := make([]Record, 0, len(b.records))
	for _, e := range b.records {
		if e.rec.Status == StatusPending {
			out = append(out, e.rec)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].seq < out[j].seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a snapshot of a live request.
func (b *Broker) Get(id string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.records[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// PendingCount returns the number of pending requests (for monitoring).
func (b *Broker) PendingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, e := range b.records {
		if e.rec.Status == StatusPending {
			n++
		}
	}
	return n
}

// Close rejects further registrations and times out every pending request so
// blocked waiters return with ErrClosed. Requests nobody is waiting on are
// removed here and reported to observers, since no Await will do it.
// Safe to call more than once.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	expired := 0
	var orphaned []Record
	for id, e := range b.records {
		if !b.settleLocked(e, StatusTimedOut, nil) {
			continue
		}
		e.shutdown = true
		expired++
		if !e.waiting {
			delete(b.records, id)
			orphaned = append(orphaned, e.rec)
		}
	}
	b.mu.Unlock()

	b.logger.Info("broker closed", "pending_expired", expired)
	for _, rec := range orphaned {
		for _, o := range b.observers {
			o.RequestSettled(rec, rec.SettledAt.Sub(rec.CreatedAt))
		}
	}
}
