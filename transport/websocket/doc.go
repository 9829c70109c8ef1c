// Package websocket provides the WebSocket transport for table rooms.
//
// The websocket package implements:
//   - Connection lifecycle with ping/pong liveness
//   - Decoding of client frames into typed room events
//   - Per-connection outbound queues that never block the coordinator
//   - Disconnect reporting to the room coordinator
//
// Architecture:
//
// A central Hub tracks live clients. Each client runs a read pump that
// decodes frames and hands them to the coordinator, and a write pump that
// drains the client's queue onto the socket. The coordinator decides who
// receives what; the hub never broadcasts on its own.
//
// Message Protocol:
//
// Every frame is a JSON envelope in both directions:
//
//	{"event": "joinRoom", "data": {"username": "Alice", "room": "abc123"}}
//	{"event": "userList", "data": ["Alice", "Bob"]}
//
// Inbound events are joinRoom, kickUser, unkickUser, sendMessage and
// moveIcon. Outbound events are userList, hostAssigned, kickedUsersList,
// message, iconMoved, kicked and error. Frames that cannot be decoded are
// answered with an error event and the connection stays open.
//
// Usage:
//
//	coord := room.NewCoordinator()
//	go coord.Run(ctx)
//
//	hub := websocket.NewHub(coord)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects and is registered with the hub
// 2. Client sends joinRoom and receives the room snapshots
// 3. Client sends chat, token and moderation events
// 4. Read error, kick or shutdown closes the connection
// 5. The hub reports the drop to the coordinator
package websocket
