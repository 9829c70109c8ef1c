// Package api provides the HTTP surface of the table server.
//
// The api package implements:
//   - RESTful endpoints for table sessions and presets
//   - A dice roll endpoint sharing the chat roller
//   - WebSocket upgrade handling
//   - Health and Prometheus endpoints
//   - CORS for browser clients
//
// Endpoints:
//
// Session Management:
//   - POST /api/sessions - Create new session ({"preset": "goblin-cave"})
//   - GET /api/sessions - List sessions (sort=created|accessed, order=asc|desc, limit=N)
//   - GET /api/sessions/{id} - Get session with live room state
//   - DELETE /api/sessions/{id} - Remove session from the registry
//   - GET /api/sessions/{id}/join - Validate an id and get the socket URL
//
// Presets:
//   - GET /api/presets - List available presets
//   - GET /api/presets/{id} - Get a preset
//   - POST /api/presets - Save a preset ({"id": "crypt", "name": ..., "map_image": ..., "tokens": [...]})
//
// Table Tools:
//   - POST /api/roll - Roll dice ({"expression": "2d6+3"})
//   - GET /api/stats - Session, room and connection counts
//
// Realtime:
//   - GET /ws - WebSocket upgrade; rooms are joined with the joinRoom event
//
// Operations:
//   - GET /healthz - Liveness
//   - GET /metrics - Prometheus metrics, when enabled
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the
// service error: 404 for unknown sessions and presets, 400 for invalid
// ids, presets and dice expressions, 503 when the room coordinator has
// stopped.
//
//	{
//	  "error": "session not found"
//	}
//
// Usage:
//
//	server := api.NewServer(gameService, hub, api.WithMetrics(m))
//	http.ListenAndServe(":4000", server)
package api
