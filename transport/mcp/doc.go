// Package mcp provides a Model Context Protocol server for the table
// server.
//
// The mcp package implements:
//   - MCP server for AI agent integration
//   - Tool definitions that proxy the REST API
//   - Plain-text formatting of sessions, rooms, presets and rolls
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - create_session: Create a table with an optional preset
//   - list_sessions: List registered tables
//   - get_session: Table details with live members, host and kicked list
//   - delete_session: Remove a table from the registry
//   - join_session: Validate an id and get the WebSocket address
//   - list_presets: List battle map presets
//   - get_preset: Show a preset's map and tokens
//   - roll_dice: Roll with the chat grammar (2d6+3)
//   - table_stats: Session, room and connection counts
//   - table_instructions: The realtime event protocol
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: the stdio-mcp command serves tools over stdin/stdout
//   - HTTP: the server command exposes POST /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:4000")
//	server.ServeStdio(client.GetMCPServer())
//
// The client never touches room state directly. Kick, unkick, chat and
// token moves only happen over a player's WebSocket connection.
package mcp
