package room

import (
	"slices"
	"time"
)

// roomState is only touched by the coordinator goroutine.
type roomState struct {
	key     string
	members []string        // join order
	host    string          // empty when there are no members
	kicked  []string        // no duplicates, kick order
	conns   map[string]Conn // multicast group by connection ID

	emptySince time.Time
}

func newRoomState(key string) *roomState {
	return &roomState{
		key:     key,
		members: []string{},
		kicked:  []string{},
		conns:   make(map[string]Conn),
	}
}

// tag associates a connection with the name and room it joined under.
type tag struct {
	name string
	room string
}

func (r *roomState) isMember(name string) bool {
	return slices.Contains(r.members, name)
}

func (r *roomState) isKicked(name string) bool {
	return slices.Contains(r.kicked, name)
}

func (r *roomState) addMember(name string) {
	if !r.isMember(name) {
		r.members = append(r.members, name)
	}
}

func (r *roomState) removeMember(name string) {
	r.members = slices.DeleteFunc(r.members, func(m string) bool { return m == name })
}

func (r *roomState) addKicked(name string) {
	if !r.isKicked(name) {
		r.kicked = append(r.kicked, name)
	}
}

// removeKicked reports whether name was in the kick list.
func (r *roomState) removeKicked(name string) bool {
	n := len(r.kicked)
	r.kicked = slices.DeleteFunc(r.kicked, func(k string) bool { return k == name })
	return len(r.kicked) != n
}

// rederiveHost hands host to the first remaining member if the current host
// is gone. It reports whether the host changed.
func (r *roomState) rederiveHost() bool {
	if r.host != "" && r.isMember(r.host) {
		return false
	}
	prev := r.host
	r.host = ""
	if len(r.members) > 0 {
		r.host = r.members[0]
	}
	return r.host != prev
}

func (r *roomState) hostPayload() any {
	if r.host == "" {
		return nil
	}
	return r.host
}

func (r *roomState) snapshot() Snapshot {
	return Snapshot{
		Room:        r.key,
		Members:     slices.Clone(r.members),
		Host:        r.host,
		Kicked:      slices.Clone(r.kicked),
		Connections: len(r.conns),
	}
}

func (r *roomState) markEmpty(now time.Time) {
	if len(r.members) == 0 && r.emptySince.IsZero() {
		r.emptySince = now
	}
}
