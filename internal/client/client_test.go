// ABOUTME: Tests for the operator HTTP client
// ABOUTME: Runs the client against a live httptest server backed by the real panel and broker

package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/human-gateway/internal/broker"
	"github.com/2389/human-gateway/internal/dedupe"
	"github.com/2389/human-gateway/internal/operator"
	"github.com/2389/human-gateway/internal/store"
	"github.com/2389/human-gateway/internal/webadmin"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupClientTest(t *testing.T) (*broker.Broker, *Client) {
	t.Helper()
	s, err := store.NewSQLiteStore(store.MemoryPath, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	b := broker.New(broker.Config{
		Logger:    discardLogger,
		Observers: []broker.Observer{cache, store.NewLedger(s, discardLogger)},
	})
	t.Cleanup(b.Close)

	op, err := operator.New(operator.Config{Requests: b, Settled: cache, Outcomes: s, Logger: discardLogger})
	require.NoError(t, err)
	panel, err := webadmin.New(webadmin.Config{Operator: op, Logger: discardLogger})
	require.NoError(t, err)

	mux := http.NewServeMux()
	panel.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return b, New(srv.URL, srv.Client())
}

func await(b *broker.Broker, id string, timeout time.Duration) <-chan broker.Outcome {
	ch := make(chan broker.Outcome, 1)
	go func() {
		out, _ := b.Await(context.Background(), id, timeout)
		ch <- out
	}()
	return ch
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5000", New("127.0.0.1:5000", nil).BaseURL())
	assert.Equal(t, "https://panel.example", New("https://panel.example/", nil).BaseURL())
}

func TestListAndSubmit(t *testing.T) {
	b, c := setupClientTest(t)
	ctx := context.Background()

	list, err := c.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	id, err := b.Register(broker.QuestionPayload{Question: "Dinner?"})
	require.NoError(t, err)
	done := await(b, id, time.Minute)

	list, err = c.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "question", list[0].Kind)

	var q broker.QuestionPayload
	require.NoError(t, json.Unmarshal(list[0].Payload, &q))
	assert.Equal(t, "Dinner?", q.Question)

	res, err := c.Submit(ctx, id, "pasta", false)
	require.NoError(t, err)
	assert.True(t, res.OK)

	select {
	case out := <-done:
		assert.Equal(t, "pasta", out.Answer.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}

	res, err = c.Submit(ctx, id, "pizza", false)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, operator.ReasonNotFound, res.Reason)
	assert.Equal(t, operator.MsgAlreadyAnswered, res.Message)
}

func TestSubmit_Invalid(t *testing.T) {
	_, c := setupClientTest(t)

	res, err := c.Submit(context.Background(), "any", "  ", false)
	require.NoError(t, err)
	assert.Equal(t, operator.ReasonInvalidInput, res.Reason)
}

func TestStatsHistoryHealth(t *testing.T) {
	b, c := setupClientTest(t)
	ctx := context.Background()

	id, err := b.Register(broker.SearchPayload{Query: "flights"})
	require.NoError(t, err)
	done := await(b, id, time.Minute)
	_, err = c.Submit(ctx, id, "none left", true)
	require.NoError(t, err)
	<-done

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, operator.Stats{Answered: 1}, st)

	hist, err := c.History(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].ID)
	assert.True(t, hist[0].IsError)
	assert.JSONEq(t, `{"query":"flights"}`, string(hist[0].Payload))

	require.NoError(t, c.Health(ctx))
}

func TestServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := New(srv.URL, srv.Client())
	ctx := context.Background()

	_, err := c.ListPending(ctx)
	assert.ErrorIs(t, err, ErrServerStatus)
	assert.True(t, strings.Contains(err.Error(), "boom"))

	_, err = c.Stats(ctx)
	assert.ErrorIs(t, err, ErrServerStatus)

	_, err = c.Submit(ctx, "id", "x", false)
	assert.ErrorIs(t, err, ErrServerStatus)

	assert.ErrorIs(t, c.Health(ctx), ErrServerStatus)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, nil)
	_, err := c.ListPending(context.Background())
	assert.Error(t, err)
}
