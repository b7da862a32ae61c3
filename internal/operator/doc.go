// Package operator lists pending requests for the human operator and accepts
// their answers.
//
// Every operator surface (the web panel, its JSON API, and the terminal
// console through package client) goes through Service.
//
// Submissions with blank text are rejected as invalid_input without touching
// the broker. A submission for a request that is no longer pending is
// reported as not_found; when the settled-id cache still remembers the id the
// message says whether the request was already answered or timed out.
package operator
