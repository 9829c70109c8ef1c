package service

import (
	"time"

	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/room"
)

// SessionInfo provides information about a table session
type SessionInfo struct {
	ID             string         `json:"id"`
	PresetID       string         `json:"preset_id"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Preset         *config.Preset `json:"preset"`

	// Live room state, only filled for single-session reads
	Room *room.Snapshot `json:"room,omitempty"`
}

// JoinInfo tells a client how to enter a table's room. Room is the key to
// send in joinRoom. Registered is false when nobody created the session
// through the API.
type JoinInfo struct {
	SessionID  string         `json:"session_id"`
	Room       string         `json:"room"`
	Registered bool           `json:"registered"`
	PresetID   string         `json:"preset_id"`
	Preset     *config.Preset `json:"preset"`
	Snapshot   *room.Snapshot `json:"snapshot,omitempty"`
	WebSocket  string         `json:"websocket,omitempty"`
}

// StatsInfo summarises the server
type StatsInfo struct {
	Sessions    int `json:"sessions"`
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}
