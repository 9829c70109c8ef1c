// Package session provides the table session registry.
//
// The session package implements:
//   - Thread-safe session storage and retrieval
//   - UUID session ID generation
//   - Session ID validation for joins
//   - Optional write-through file persistence
//   - Session cleanup and expiration
//
// Core Types:
//
// Manager is the registry that handles all session operations. Session is a
// registered table with its chosen preset and access timestamps. A
// session's ID is also the key of the room players join over WebSocket.
//
// Session Identifiers:
//
// Generated IDs are random UUIDs. Custom IDs are accepted when they are at
// least MinIDLength characters long. Lookups are case-insensitive.
//
// The registry is advisory: rooms are created on first join whether or not
// a session was registered for the key. Joining a registered session's room
// refreshes its LastAccessedAt.
//
// Concurrency:
//
// The manager is safe for concurrent use. Methods return copies, so callers
// never share a *Session with the registry.
//
// Usage:
//
//	manager := session.NewManager()
//
//	// Create a new session
//	sess, err := manager.Create("", "default")
//	if err != nil {
//		return err
//	}
//
//	// Retrieve existing session
//	sess, err = manager.Get(sess.ID)
//
//	// Drop tables nobody opened for a day
//	removed := manager.CleanupExpiredSessions(24 * time.Hour)
//
// Persistence:
//
// NewManagerWithPersistence writes every change through a
// SessionPersistence. FilePersistence stores one JSON file per session.
package session
