// Package webadmin serves the operator control panel and its JSON API.
//
// # Routes
//
//	GET  /                     control panel page
//	GET  /partials/pending     server-rendered pending request cards
//	GET  /api/requests         pending requests, oldest first
//	POST /api/requests/answer  {id, answer, is_error?} -> {ok, reason?, message?}
//	GET  /api/stats            {pending, answered, timed_out}
//	GET  /api/history?limit=N  recently settled requests, newest first
//
// The page polls /partials/pending and /api/stats. Cards are only swapped
// when the set of pending ids changes, so a half-typed answer survives a
// refresh.
//
// Agent-supplied text (questions, context, options, recommendations) is
// rendered from Markdown with goldmark. Raw HTML in that text is dropped.
//
// A submit that misses is reported with HTTP 200 and ok=false; only a body
// that is not JSON gets a 400.
package webadmin
