package service

import (
	"context"

	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/dice"
	"github.com/wricardo/dungeondweller/game/room"
	"github.com/wricardo/dungeondweller/game/session"
)

// GameService defines all table-related operations exposed over HTTP and MCP
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, presetID string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
	JoinSession(ctx context.Context, sessionID string) (*JoinInfo, error)

	// Presets
	ListPresets(ctx context.Context) ([]*config.PresetInfo, error)
	GetPreset(ctx context.Context, presetID string) (*config.Preset, error)
	SavePreset(ctx context.Context, presetID string, preset *config.Preset) error

	// Table tools
	RollDice(ctx context.Context, expression string) (*dice.Result, error)
	Stats(ctx context.Context) (*StatsInfo, error)
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id, preset string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []*session.Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
	Count() int
}

// PresetManager handles table preset loading
type PresetManager interface {
	LoadPreset(id string) (*config.Preset, error)
	ListPresets() ([]*config.PresetInfo, error)
	GetDefault() *config.Preset
	SavePreset(id string, preset *config.Preset) error
}

// RoomDirectory answers read-only questions about live rooms
type RoomDirectory interface {
	Snapshot(ctx context.Context, roomKey string) (room.Snapshot, bool, error)
	Stats(ctx context.Context) (room.Stats, error)
}
