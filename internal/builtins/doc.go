// Package builtins provides the human tools agents call through MCP.
//
// # Overview
//
// Each tool turns an agent's question into a pending request on the broker
// and blocks until the operator answers or the deadline passes. Arguments
// are validated against the tool's JSON Schema before anything is
// registered, so a malformed call never shows up in the control panel.
//
// # Tools
//
//   - ask_human: question (required), context
//   - human_search: query (required), sources
//   - human_decision: decision_needed (required), options (required, list or
//     free text), recommendation
//
// # Results
//
// Call returns a Result rather than an error for every outcome the agent
// should see as text:
//
//   - answered: the operator's text verbatim; IsError mirrors "Return Error"
//   - timed out: TimeoutMessage(timeout), not an error
//
// Errors are reserved for calls that never reached the operator:
// ErrUnknownTool, *InvalidRequestError, or a wait that ended because the
// caller's context was cancelled.
//
// # Usage
//
//	gw, err := builtins.NewAgentGateway(builtins.Config{
//	    Broker:  b,
//	    Timeout: 5 * time.Minute,
//	    Logger:  logger,
//	})
//	res, err := gw.Call(ctx, "ask_human", json.RawMessage(`{"question":"Dinner?"}`))
package builtins
