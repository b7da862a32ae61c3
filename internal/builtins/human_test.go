// ABOUTME: Tests for the AgentGateway tool-call path through the broker.
// ABOUTME: Covers answered, error-reply, timed-out, invalid and unknown-tool calls.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/human-gateway/internal/broker"
)

func setupGatewayTest(t *testing.T, timeout time.Duration) (*broker.Broker, *AgentGateway) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New(broker.Config{Logger: logger})
	t.Cleanup(b.Close)

	g, err := NewAgentGateway(Config{Broker: b, Timeout: timeout, Logger: logger})
	require.NoError(t, err)
	return b, g
}

type callResult struct {
	res Result
	err error
}

func callAsync(g *AgentGateway, ctx context.Context, name, args string) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		res, err := g.Call(ctx, name, json.RawMessage(args))
		ch <- callResult{res: res, err: err}
	}()
	return ch
}

// waitForPending returns the single pending record once the call has registered.
func waitForPending(t *testing.T, b *broker.Broker) broker.Record {
	t.Helper()
	var rec broker.Record
	require.Eventually(t, func() bool {
		pending := b.ListPending()
		if len(pending) != 1 {
			return false
		}
		rec = pending[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestNewAgentGateway(t *testing.T) {
	t.Run("requires broker", func(t *testing.T) {
		_, err := NewAgentGateway(Config{})
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		b := broker.New(broker.Config{})
		defer b.Close()
		g, err := NewAgentGateway(Config{Broker: b})
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeout, g.Timeout())
		assert.Len(t, g.Tools(), 3)
	})
}

func TestAgentGatewayCall(t *testing.T) {
	t.Run("returns the operator answer", func(t *testing.T) {
		b, g := setupGatewayTest(t, 10*time.Second)

		res := callAsync(g, context.Background(), "ask_human", `{"question":"Dinner?"}`)
		rec := waitForPending(t, b)
		assert.Equal(t, broker.KindQuestion, rec.Kind)
		assert.Equal(t, broker.QuestionPayload{Question: "Dinner?"}, rec.Payload)

		require.NoError(t, b.Resolve(rec.ID, broker.Answer{Text: "pasta"}))

		r := <-res
		require.NoError(t, r.err)
		assert.Equal(t, "pasta", r.res.Text)
		assert.False(t, r.res.IsError)
		assert.Empty(t, b.ListPending())
	})

	t.Run("surfaces operator error replies", func(t *testing.T) {
		b, g := setupGatewayTest(t, 10*time.Second)

		res := callAsync(g, context.Background(), "human_search", `{"query":"flight prices"}`)
		rec := waitForPending(t, b)
		require.NoError(t, b.Resolve(rec.ID, broker.Answer{Text: "site is down", IsError: true}))

		r := <-res
		require.NoError(t, r.err)
		assert.True(t, r.res.IsError)
		assert.Equal(t, "site is down", r.res.Text)
	})

	t.Run("timeout is a normal result", func(t *testing.T) {
		b, g := setupGatewayTest(t, time.Second)

		start := time.Now()
		res, err := g.Call(context.Background(), "human_decision", json.RawMessage(`{"decision_needed":"ship?","options":["yes","no"]}`))
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, "Request timed out: no human response received within 1 second.", res.Text)
		assert.GreaterOrEqual(t, elapsed, time.Second)
		assert.Less(t, elapsed, 2*time.Second)
		assert.Empty(t, b.ListPending())
	})

	t.Run("invalid request never reaches the broker", func(t *testing.T) {
		b, g := setupGatewayTest(t, time.Second)

		_, err := g.Call(context.Background(), "ask_human", json.RawMessage(`{}`))
		var invalid *InvalidRequestError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, "question", invalid.Field)
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, g := setupGatewayTest(t, time.Second)
		_, err := g.Call(context.Background(), "launch_rockets", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("cancelled context", func(t *testing.T) {
		b, g := setupGatewayTest(t, 10*time.Second)
		ctx, cancel := context.WithCancel(context.Background())

		res := callAsync(g, ctx, "ask_human", `{"question":"still there?"}`)
		waitForPending(t, b)
		cancel()

		r := <-res
		assert.ErrorIs(t, r.err, context.Canceled)
		assert.Empty(t, b.ListPending())
	})

	t.Run("shutdown while waiting", func(t *testing.T) {
		b, g := setupGatewayTest(t, 5*time.Minute)

		res := callAsync(g, context.Background(), "ask_human", `{"question":"still there?"}`)
		waitForPending(t, b)
		b.Close()

		select {
		case r := <-res:
			assert.ErrorIs(t, r.err, broker.ErrClosed)
			assert.NotContains(t, r.res.Text, "5 minutes")
		case <-time.After(2 * time.Second):
			t.Fatal("call was not released by Close")
		}
	})

	t.Run("closed broker", func(t *testing.T) {
		b, g := setupGatewayTest(t, time.Second)
		b.Close()
		_, err := g.Call(context.Background(), "ask_human", json.RawMessage(`{"question":"q"}`))
		assert.ErrorIs(t, err, broker.ErrClosed)
	})
}

func TestTimeoutMessage(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5 minutes"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "90 seconds"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		assert.Contains(t, TimeoutMessage(tt.d), "within "+tt.want+".")
	}
}
