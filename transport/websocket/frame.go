package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wricardo/dungeondweller/game/room"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed frame")
)

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEvent turns a raw client frame into one of the typed room events.
// Payload validation is left to the coordinator.
func DecodeEvent(raw []byte) (room.Event, error) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev room.Event
	switch in.Event {
	case room.EventJoinRoom:
		var e room.JoinRoom
		if err := unmarshalData(in.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case room.EventKickUser:
		var e room.KickUser
		if err := unmarshalData(in.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case room.EventUnkickUser:
		var e room.UnkickUser
		if err := unmarshalData(in.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case room.EventSendMessage:
		var e room.SendMessage
		if err := unmarshalData(in.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case room.EventMoveIcon:
		var e room.MoveIcon
		if err := unmarshalData(in.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
