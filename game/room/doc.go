// Package room implements the real-time room coordinator for Dungeon Dweller
// table sessions.
//
// The coordinator is the single source of truth for who is in which table
// room, who holds host privileges and who has been kicked. It also fans out
// chat messages and token moves to the members of a room.
//
// Core Types:
//
// Coordinator owns every room and processes all operations on one goroutine
// started with Run. Transports hand it typed events (JoinRoom, KickUser,
// UnkickUser, SendMessage, MoveIcon) together with the Conn that produced
// them, and report dropped connections with Disconnect.
//
// Conn is the transport handle the coordinator writes to. Sends are
// fire-and-forget; a connection that cannot keep up loses frames.
//
// Room rules:
//
//   - The first member to join an empty room becomes host.
//   - When the host leaves (or is kicked) the next member in join order
//     becomes host, or the room has no host when it is empty.
//   - Only the host may kick or unkick. Kicked names cannot rejoin until
//     unkicked, and unkicking does not restore membership.
//   - Chat messages echo to the sender; token moves skip the originator.
//
// Every state change is followed by full snapshots (userList, hostAssigned,
// kickedUsersList) so clients replace their local copy instead of merging.
//
// Usage:
//
//	coord := room.NewCoordinator()
//	go coord.Run(ctx)
//
//	coord.Handle(ctx, conn, room.JoinRoom{Username: "Alice", Room: "abc123"})
//	coord.Handle(ctx, conn, room.SendMessage{Text: "/roll 2d6+1", Room: "abc123"})
//	coord.Disconnect(ctx, conn)
//
// Rooms are created lazily on first join and kept after they empty out.
// EvictIdle removes rooms that have been empty for longer than a given age.
package room
