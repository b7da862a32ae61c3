// Package client is a small HTTP client for the gateway's operator API.
//
// The human-gateway CLI ("pending") and the human-tui console use it to
// list pending requests, submit answers (plain or as an error reply), and
// read stats and history. Submissions that miss come back as a
// SubmitResult with OK=false and a reason; only transport failures and
// unexpected HTTP statuses are errors.
package client
