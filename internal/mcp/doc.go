// Package mcp implements the Model Context Protocol server through which
// agents reach the human operator.
//
// # Transports
//
// Two transports share one JSON-RPC dispatcher:
//
//   - Stdio: newline-delimited JSON-RPC on stdin/stdout (ServeStdio). This is
//     how desktop agents usually launch an MCP server.
//   - Streamable HTTP: POST /mcp with Mcp-Session-Id sessions (RegisterRoutes).
//
// # Methods
//
//   - initialize: handshake, creates a session on HTTP
//   - ping: liveness
//   - tools/list: ask_human, human_search, human_decision
//   - tools/call: blocks until the operator answers or the call times out
//
// Notifications are accepted and ignored.
//
// # Tool Results
//
// An operator answer comes back as a single text content item. An operator
// error reply and an invalid request both set isError. A timeout is a plain
// text result, not an error:
//
//	{"content":[{"type":"text","text":"pasta"}]}
//
// # Integration with Claude Desktop
//
//	{
//	  "mcpServers": {
//	    "human": {
//	      "command": "human-gateway",
//	      "args": ["serve"]
//	    }
//	  }
//	}
package mcp
