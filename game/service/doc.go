// Package service provides the business logic layer behind the REST API
// and the MCP tools.
//
// The service package implements:
//   - Table session creation, lookup and removal
//   - Join validation for session IDs
//   - Preset listing, loading and saving
//   - Server-side dice rolls
//
// Core Interfaces:
//
// GameService is the main service interface. SessionManager stores session
// records, PresetManager loads table presets and RoomDirectory reads live
// room state from the coordinator.
//
// Architecture:
//
// The service sits between the transports (HTTP, MCP) and the stores. It
// never mutates rooms: membership, host and kick changes only happen over
// the WebSocket connection, inside the room coordinator.
//
// Usage:
//
//	sessionMgr := session.NewManager()
//	presetMgr, _ := config.NewManager("configs")
//	coord := room.NewCoordinator()
//	svc := service.NewGameService(sessionMgr, presetMgr, coord, nil)
//
//	info, err := svc.CreateSession(ctx, "goblin-cave")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	join, err := svc.JoinSession(ctx, info.ID)
package service
