// ABOUTME: Tests for the pending-request broker: register, await, resolve, list and close.
// ABOUTME: Covers the answer-vs-timeout race, id uniqueness and observer notifications.

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, opts ...func(*Config)) *Broker {
	t.Helper()
	cfg := Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(&cfg)
	}
	b := New(cfg)
	t.Cleanup(b.Close)
	return b
}

// awaitAsync runs Await on its own goroutine and returns a channel with the result.
func awaitAsync(b *Broker, ctx context.Context, id string, timeout time.Duration) <-chan awaitResult {
	ch := make(chan awaitResult, 1)
	go func() {
		out, err := b.Await(ctx, id, timeout)
		ch <- awaitResult{out: out, err: err}
	}()
	return ch
}

type awaitResult struct {
	out Outcome
	err error
}

// waitForWaiter blocks until an Await call has claimed the request.
func waitForWaiter(t *testing.T, b *Broker, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		e, ok := b.records[id]
		return ok && e.waiting
	}, time.Second, time.Millisecond)
}

func TestBrokerRegister(t *testing.T) {
	t.Run("returns distinct ids", func(t *testing.T) {
		b := newTestBroker(t)
		seen := make(map[string]bool)
		for i := range 200 {
			id, err := b.Register(QuestionPayload{Question: fmt.Sprintf("q%d", i)})
			require.NoError(t, err)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		assert.Equal(t, 200, b.PendingCount())
	})

	t.Run("concurrent registrations never collide", func(t *testing.T) {
		b := newTestBroker(t)
		var mu sync.Mutex
		seen := make(map[string]bool)
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := b.Register(SearchPayload{Query: "weather"})
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				assert.False(t, seen[id])
				seen[id] = true
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 50)
	})

	t.Run("new request is pending and listed", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "Dinner?"})
		require.NoError(t, err)

		rec, ok := b.Get(id)
		require.True(t, ok)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, KindQuestion, rec.Kind)
		assert.Nil(t, rec.Answer)

		pending := b.ListPending()
		require.Len(t, pending, 1)
		assert.Equal(t, id, pending[0].ID)
	})

	t.Run("skips ids that are live or retired", func(t *testing.T) {
		ids := []string{"a", "a", "b", "c"}
		var n int
		b := newTestBroker(t, func(c *Config) {
			c.NewID = func() (string, error) {
				id := ids[n]
				n++
				return id, nil
			}
			c.Retired = func(id string) bool { return id == "b" }
		})

		first, err := b.Register(QuestionPayload{Question: "one"})
		require.NoError(t, err)
		second, err := b.Register(QuestionPayload{Question: "two"})
		require.NoError(t, err)

		assert.Equal(t, "a", first)
		assert.Equal(t, "c", second)
	})

	t.Run("panics when the id source is broken", func(t *testing.T) {
		b := newTestBroker(t, func(c *Config) {
			c.NewID = func() (string, error) { return "", errors.New("entropy exhausted") }
		})
		assert.Panics(t, func() {
			_, _ = b.Register(QuestionPayload{Question: "q"})
		})
	})

	t.Run("rejects after close", func(t *testing.T) {
		b := newTestBroker(t)
		b.Close()
		_, err := b.Register(QuestionPayload{Question: "late"})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("rejects nil payload", func(t *testing.T) {
		b := newTestBroker(t)
		_, err := b.Register(nil)
		assert.Error(t, err)
	})
}

func TestBrokerAwait(t *testing.T) {
	t.Run("delivers the answer", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "Dinner?"})
		require.NoError(t, err)

		res := awaitAsync(b, context.Background(), id, 10*time.Second)
		waitForWaiter(t, b, id)

		require.NoError(t, b.Resolve(id, Answer{Text: "pasta"}))

		r := <-res
		require.NoError(t, r.err)
		assert.True(t, r.out.Answered())
		assert.Equal(t, "pasta", r.out.Answer.Text)
		assert.False(t, r.out.Answer.IsError)

		assert.Empty(t, b.ListPending())
		_, ok := b.Get(id)
		assert.False(t, ok, "record should be removed after await returns")
	})

	t.Run("answer before await is still delivered", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "early?"})
		require.NoError(t, err)
		require.NoError(t, b.Resolve(id, Answer{Text: "yes"}))

		out, err := b.Await(context.Background(), id, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusAnswered, out.Status)
		assert.Equal(t, "yes", out.Answer.Text)
	})

	t.Run("times out after the deadline", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(DecisionPayload{
			DecisionNeeded: "ship?",
			Options:        Options{List: []string{"yes", "no"}},
		})
		require.NoError(t, err)

		start := time.Now()
		out, err := b.Await(context.Background(), id, time.Second)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, StatusTimedOut, out.Status)
		assert.Empty(t, out.Answer.Text)
		assert.GreaterOrEqual(t, elapsed, time.Second)
		assert.Less(t, elapsed, 2*time.Second)

		for _, rec := range b.ListPending() {
			assert.NotEqual(t, id, rec.ID)
		}
		assert.ErrorIs(t, b.Resolve(id, Answer{Text: "too late"}), ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		b := newTestBroker(t)
		_, err := b.Await(context.Background(), "nope", time.Second)
		assert.ErrorIs(t, err, ErrUnknownRequest)
	})

	t.Run("second waiter is rejected", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)

		res := awaitAsync(b, context.Background(), id, 10*time.Second)
		waitForWaiter(t, b, id)

		_, err = b.Await(context.Background(), id, time.Second)
		assert.ErrorIs(t, err, ErrAlreadyAwaited)

		require.NoError(t, b.Resolve(id, Answer{Text: "done"}))
		r := <-res
		require.NoError(t, r.err)
		assert.Equal(t, "done", r.out.Answer.Text)
	})

	t.Run("context cancellation settles as timed out", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		res := awaitAsync(b, ctx, id, 10*time.Second)
		waitForWaiter(t, b, id)
		cancel()

		r := <-res
		assert.ErrorIs(t, r.err, context.Canceled)
		assert.Equal(t, StatusTimedOut, r.out.Status)
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("non-positive timeout uses default", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)

		res := awaitAsync(b, context.Background(), id, 0)
		waitForWaiter(t, b, id)
		require.NoError(t, b.Resolve(id, Answer{Text: "ok"}))

		r := <-res
		require.NoError(t, r.err)
		assert.True(t, r.out.Answered())
	})
}

func TestBrokerResolve(t *testing.T) {
	t.Run("never registered id is not found", func(t *testing.T) {
		b := newTestBroker(t)
		assert.ErrorIs(t, b.Resolve("00000000-0000-0000-0000-000000000000", Answer{Text: "x"}), ErrNotFound)
	})

	t.Run("second resolve is not found and first answer wins", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)

		require.NoError(t, b.Resolve(id, Answer{Text: "first"}))
		assert.ErrorIs(t, b.Resolve(id, Answer{Text: "second"}), ErrNotFound)

		out, err := b.Await(context.Background(), id, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "first", out.Answer.Text)
	})

	t.Run("resolved request leaves the listing immediately", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)
		require.NoError(t, b.Resolve(id, Answer{Text: "a"}))

		assert.Empty(t, b.ListPending())
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("error replies are carried through", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(SearchPayload{Query: "q"})
		require.NoError(t, err)
		require.NoError(t, b.Resolve(id, Answer{Text: "could not find it", IsError: true}))

		out, err := b.Await(context.Background(), id, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusAnswered, out.Status)
		assert.True(t, out.Answer.IsError)
	})
}

func TestBrokerResolveTimeoutRace(t *testing.T) {
	b := newTestBroker(t)

	for i := range 100 {
		id, err := b.Register(QuestionPayload{Question: fmt.Sprintf("race %d", i)})
		require.NoError(t, err)

		res := awaitAsync(b, context.Background(), id, 3*time.Millisecond)
		time.Sleep(time.Duration(i%6) * time.Millisecond)
		resolveErr := b.Resolve(id, Answer{Text: "raced"})

		r := <-res
		require.NoError(t, r.err)
		if resolveErr == nil {
			assert.Equal(t, StatusAnswered, r.out.Status, "iteration %d", i)
			assert.Equal(t, "raced", r.out.Answer.Text)
		} else {
			assert.ErrorIs(t, resolveErr, ErrNotFound)
			assert.Equal(t, StatusTimedOut, r.out.Status, "iteration %d", i)
			assert.Empty(t, r.out.Answer.Text)
		}
	}
	assert.Equal(t, 0, b.PendingCount())
}

func TestBrokerListPending(t *testing.T) {
	t.Run("orders oldest first", func(t *testing.T) {
		base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		times := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
		var n int
		b := newTestBroker(t, func(c *Config) {
			c.Now = func() time.Time {
				if n < len(times) {
					ts := times[n]
					n++
					return ts
				}
				return base.Add(time.Hour)
			}
		})

		third, _ := b.Register(QuestionPayload{Question: "third"})
		first, _ := b.Register(QuestionPayload{Question: "first"})
		second, _ := b.Register(QuestionPayload{Question: "second"})

		pending := b.ListPending()
		require.Len(t, pending, 3)
		assert.Equal(t, []string{first, second, third}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
	})

	t.Run("equal timestamps keep registration order", func(t *testing.T) {
		fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		b := newTestBroker(t, func(c *Config) {
			c.Now = func() time.Time { return fixed }
		})

		var ids []string
		for i := range 5 {
			id, err := b.Register(QuestionPayload{Question: fmt.Sprintf("q%d", i)})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		pending := b.ListPending()
		require.Len(t, pending, 5)
		for i, rec := range pending {
			assert.Equal(t, ids[i], rec.ID)
		}
	})

	t.Run("not blocked by an in-flight await", func(t *testing.T) {
		b := newTestBroker(t)
		id, err := b.Register(QuestionPayload{Question: "q"})
		require.NoError(t, err)

		res := awaitAsync(b, context.Background(), id, 10*time.Second)
		waitForWaiter(t, b, id)

		done := make(chan []Record, 1)
		go func() { done <- b.ListPending() }()
		select {
		case pending := <-done:
			assert.Len(t, pending, 1)
		case <-time.After(time.Second):
			t.Fatal("ListPending blocked by Await")
		}

		require.NoError(t, b.Resolve(id, Answer{Text: "ok"}))
		<-res
	})
}

func TestBrokerClose(t *testing.T) {
	b := newTestBroker(t)
	id, err := b.Register(QuestionPayload{Question: "q"})
	require.NoError(t, err)

	res := awaitAsync(b, context.Background(), id, time.Minute)
	waitForWaiter(t, b, id)

	b.Close()
	b.Close()

	select {
	case r := <-res:
		assert.ErrorIs(t, r.err, ErrClosed)
		assert.Equal(t, StatusTimedOut, r.out.Status)
	case <-time.After(time.Second):
		t.Fatal("Close did not release the waiter")
	}
}

func TestBrokerCloseReportsUnawaitedRequests(t *testing.T) {
	obs := &recordingObserver{}
	b := newTestBroker(t, func(c *Config) { c.Observers = []Observer{obs} })

	waited, err := b.Register(QuestionPayload{Question: "waited on"})
	require.NoError(t, err)
	orphan, err := b.Register(SearchPayload{Query: "never awaited"})
	require.NoError(t, err)

	res := awaitAsync(b, context.Background(), waited, time.Minute)
	waitForWaiter(t, b, waited)

	b.Close()
	r := <-res
	assert.ErrorIs(t, r.err, ErrClosed)

	obs.mu.Lock()
	settled := append([]Record(nil), obs.settled...)
	obs.mu.Unlock()
	require.Len(t, settled, 2, "both requests reach the observers exactly once")
	ids := []string{settled[0].ID, settled[1].ID}
	assert.ElementsMatch(t, []string{waited, orphan}, ids)
	for _, rec := range settled {
		assert.Equal(t, StatusTimedOut, rec.Status)
	}
	assert.Equal(t, 0, b.PendingCount())

	// An Await that arrives after Close for a removed request reports the shutdown.
	out, err := b.Await(context.Background(), orphan, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StatusTimedOut, out.Status)
}

type recordingObserver struct {
	mu         sync.Mutex
	registered []Record
	settled    []Record
}

func (o *recordingObserver) RequestRegistered(rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = append(o.registered, rec)
}

func (o *recordingObserver) RequestSettled(rec Record, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, rec)
}

func TestBrokerObservers(t *testing.T) {
	obs := &recordingObserver{}
	b := newTestBroker(t, func(c *Config) { c.Observers = []Observer{obs, nil} })

	answered, err := b.Register(QuestionPayload{Question: "a"})
	require.NoError(t, err)
	expired, err := b.Register(QuestionPayload{Question: "b"})
	require.NoError(t, err)

	require.NoError(t, b.Resolve(answered, Answer{Text: "yes"}))
	_, err = b.Await(context.Background(), answered, time.Second)
	require.NoError(t, err)
	_, err = b.Await(context.Background(), expired, time.Millisecond)
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.registered, 2)
	require.Len(t, obs.settled, 2)
	assert.Equal(t, StatusAnswered, obs.settled[0].Status)
	require.NotNil(t, obs.settled[0].Answer)
	assert.Equal(t, "yes", obs.settled[0].Answer.Text)
	assert.Equal(t, StatusTimedOut, obs.settled[1].Status)
	assert.Nil(t, obs.settled[1].Answer)
}
