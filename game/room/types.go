package room

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/wricardo/dungeondweller/game/dice"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidName    = errors.New("invalid display name")
	ErrInvalidRoom    = errors.New("invalid room")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrStopped        = errors.New("coordinator stopped")

	// Returned by Conn.Send.
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// Inbound event names
const (
	EventJoinRoom    = "joinRoom"
	EventKickUser    = "kickUser"
	EventUnkickUser  = "unkickUser"
	EventSendMessage = "sendMessage"
	EventMoveIcon    = "moveIcon"
)

// Outbound event names
const (
	EventUserList        = "userList"
	EventHostAssigned    = "hostAssigned"
	EventKickedUsersList = "kickedUsersList"
	EventMessage         = "message"
	EventIconMoved       = "iconMoved"
	EventKicked          = "kicked"
	EventError           = "error"
)

// Conn is a connected client as seen by the coordinator.
type Conn interface {
	// ID is unique for the lifetime of the connection.
	ID() string
	// Send queues an event for delivery. It must not block; a frame that
	// cannot be queued is dropped with ErrSendQueueFull or ErrConnClosed.
	Send(event string, payload any) error
	// Close drops the connection. The transport still reports the drop
	// through Disconnect.
	Close()
}

// Event is one of the typed inbound events.
type Event interface {
	Name() string
	Validate() error
}

// JoinRoom asks to join a room under a display name.
type JoinRoom struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// KickUser asks the host to kick Target. The requester is the connection.
type KickUser struct {
	Room   string `json:"room"`
	Target string `json:"target"`
}

// UnkickUser lifts a kick on Target.
type UnkickUser struct {
	Room   string `json:"room"`
	Target string `json:"target"`
}

// SendMessage is a chat line, possibly a /roll command.
type SendMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Room     string `json:"room"`
}

// MoveIcon relays a token move. Id and position are opaque to the server.
type MoveIcon struct {
	Room        string          `json:"room"`
	IconID      json.RawMessage `json:"iconId"`
	NewPosition json.RawMessage `json:"newPosition"`
}

func (JoinRoom) Name() string    { return EventJoinRoom }
func (KickUser) Name() string    { return EventKickUser }
func (UnkickUser) Name() string  { return EventUnkickUser }
func (SendMessage) Name() string { return EventSendMessage }
func (MoveIcon) Name() string    { return EventMoveIcon }

func (e JoinRoom) Validate() error {
	if strings.TrimSpace(e.Username) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(e.Room) == "" {
		return ErrInvalidRoom
	}
	return nil
}

func (e KickUser) Validate() error {
	if strings.TrimSpace(e.Room) == "" {
		return ErrInvalidRoom
	}
	if strings.TrimSpace(e.Target) == "" {
		return ErrInvalidName
	}
	return nil
}

func (e UnkickUser) Validate() error {
	return KickUser(e).Validate()
}

func (e SendMessage) Validate() error {
	if strings.TrimSpace(e.Room) == "" {
		return ErrInvalidRoom
	}
	return nil
}

func (e MoveIcon) Validate() error {
	if strings.TrimSpace(e.Room) == "" {
		return ErrInvalidRoom
	}
	if len(e.IconID) == 0 || len(e.NewPosition) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// ChatMessage is the payload of the outbound message event.
type ChatMessage struct {
	Username string       `json:"username"`
	Text     string       `json:"text"`
	Roll     *dice.Result `json:"roll,omitempty"`
}

// IconMoved is the payload of the outbound iconMoved event.
type IconMoved struct {
	IconID      json.RawMessage `json:"iconId"`
	NewPosition json.RawMessage `json:"newPosition"`
}

// ErrorPayload is sent to a single connection when its event was rejected.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Snapshot is a read-only copy of a room's state.
type Snapshot struct {
	Room        string   `json:"room"`
	Members     []string `json:"members"`
	Host        string   `json:"host,omitempty"`
	Kicked      []string `json:"kicked"`
	Connections int      `json:"connections"`
}

// Stats summarises the coordinator.
type Stats struct {
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}

// RelayMessage carries a chat or token event between server instances.
type RelayMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}
