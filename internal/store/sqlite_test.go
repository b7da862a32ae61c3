// ABOUTME: Tests for the SQLite outcome ledger
// ABOUTME: Covers file and in-memory databases, ordering, limits, counts and the broker observer

package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/human-gateway/internal/broker"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(MemoryPath, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOutcome(id, status string, settledAt time.Time) *Outcome {
	return &Outcome{
		ID:        id,
		Kind:      "question",
		Status:    status,
		Payload:   `{"question":"Dinner?"}`,
		CreatedAt: settledAt.Add(-time.Minute),
		SettledAt: settledAt,
		Waited:    time.Minute,
	}
}

func TestNewSQLiteStore_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "ledger.db")

	s, err := NewSQLiteStore(dbPath, discardLogger)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should be created in nested directory")
}

func TestNewSQLiteStore_EmptyPathIsMemory(t *testing.T) {
	s, err := NewSQLiteStore("", discardLogger)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.RecordOutcome(ctx, testOutcome("a", "answered", time.Now())))
	c, err := s.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Answered)
}

func TestRecordAndGetOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settled := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	o := testOutcome("req-1", "answered", settled)
	o.Answer = "pasta"
	o.IsError = true
	require.NoError(t, s.RecordOutcome(ctx, o))

	got, err := s.GetOutcome(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "question", got.Kind)
	assert.Equal(t, "answered", got.Status)
	assert.Equal(t, "pasta", got.Answer)
	assert.True(t, got.IsError)
	assert.JSONEq(t, `{"question":"Dinner?"}`, got.Payload)
	assert.True(t, settled.Equal(got.SettledAt))
	assert.Equal(t, time.Minute, got.Waited)
}

func TestGetOutcome_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOutcome(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordOutcome_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOutcome("dup", "answered", time.Now())
	require.NoError(t, s.RecordOutcome(ctx, o))
	assert.ErrorIs(t, s.RecordOutcome(ctx, o), ErrDuplicateOutcome)
}

func TestListOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := range 5 {
		status := "answered"
		if i%2 == 1 {
			status = "timed_out"
		}
		require.NoError(t, s.RecordOutcome(ctx, testOutcome(fmt.Sprintf("req-%d", i), status, base.Add(time.Duration(i)*time.Second))))
	}

	t.Run("newest first", func(t *testing.T) {
		list, err := s.ListOutcomes(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "req-4", list[0].ID)
		assert.Equal(t, "req-0", list[4].ID)
	})

	t.Run("respects limit", func(t *testing.T) {
		list, err := s.ListOutcomes(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "req-4", list[0].ID)
		assert.Equal(t, "req-3", list[1].ID)
	})

	t.Run("counts", func(t *testing.T) {
		c, err := s.CountOutcomes(ctx)
		require.NoError(t, err)
		assert.Equal(t, Counts{Answered: 3, TimedOut: 2}, c)
		assert.Equal(t, 5, c.Total())
	})
}

func TestLedgerRecordsSettledRequests(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedger(s, discardLogger)
	b := broker.New(broker.Config{Logger: discardLogger, Observers: []broker.Observer{ledger}})
	defer b.Close()
	ctx := context.Background()

	answered, err := b.Register(broker.DecisionPayload{
		DecisionNeeded: "ship?",
		Options:        broker.Options{List: []string{"yes", "no"}},
	})
	require.NoError(t, err)
	timedOut, err := b.Register(broker.QuestionPayload{Question: "anyone?"})
	require.NoError(t, err)

	// Nothing is written while requests are pending.
	c, err := s.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Total())

	require.NoError(t, b.Resolve(answered, broker.Answer{Text: "yes"}))
	_, err = b.Await(ctx, answered, time.Second)
	require.NoError(t, err)
	_, err = b.Await(ctx, timedOut, 10*time.Millisecond)
	require.NoError(t, err)

	got, err := s.GetOutcome(ctx, answered)
	require.NoError(t, err)
	assert.Equal(t, "decision", got.Kind)
	assert.Equal(t, "answered", got.Status)
	assert.Equal(t, "yes", got.Answer)
	assert.JSONEq(t, `{"decision_needed":"ship?","options":["yes","no"]}`, got.Payload)

	got, err = s.GetOutcome(ctx, timedOut)
	require.NoError(t, err)
	assert.Equal(t, "timed_out", got.Status)
	assert.Empty(t, got.Answer)

	c, err = s.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Answered: 1, TimedOut: 1}, c)
}
