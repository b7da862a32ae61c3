// Package broker holds agent tool calls open until a human operator answers
// them or a deadline passes.
//
// # Lifecycle
//
// A request is created by Register in StatusPending. It leaves that state
// exactly once, either through Resolve (StatusAnswered) or through expiry
// inside Await (StatusTimedOut). Whichever path takes the broker lock first
// wins; the other observes ErrNotFound or does nothing.
//
//	id, _ := b.Register(broker.QuestionPayload{Question: "Dinner?"})
//	go operatorAnswers(id)
//	out, err := b.Await(ctx, id, 5*time.Minute)
//
// Await removes the record from the live map before it returns, so a request
// is visible to ListPending only while it is pending.
//
// # Observers
//
// Metrics, the outcome ledger and the settled-id cache subscribe through the
// Observer interface. Observers run on the caller's goroutine outside the lock.
package broker
