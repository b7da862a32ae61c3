// Package gateway orchestrates the human-gateway server components.
//
// # Overview
//
// The Gateway owns every long-lived component: the request broker, the
// settled-id cache, the SQLite outcome ledger, the Prometheus collector, the
// tracing provider, the MCP server and the operator control panel. New wires
// them together; Run serves them; Shutdown releases them.
//
// # Transports
//
// Agents reach the tools over MCP. mcp.transport selects the stdio loop, the
// Streamable HTTP endpoint, or both. When stdio is enabled the gateway shuts
// down once the client closes its input, so an MCP host that spawns the
// binary controls its lifetime.
//
// # HTTP Routes
//
//   - GET /health - Liveness check
//   - GET /metrics - Prometheus metrics (when enabled)
//   - POST/DELETE /mcp - MCP Streamable HTTP (when enabled)
//   - GET / and /api/... - Operator control panel, see package webadmin
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger, gateway.Options{Version: version})
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is done or stdio closes
//
// Shutdown settles all pending requests as timed out before the servers stop,
// so blocked agents receive a reply.
package gateway
