package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wricardo/dungeondweller/game/dice"
)

const (
	// DefaultInboxSize bounds the number of queued operations.
	DefaultInboxSize = 1024

	// relayQueueSize bounds outgoing relay messages waiting for publish.
	relayQueueSize = 256
)

// Relay publishes chat and token events to other server instances.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

// Observer receives coordinator activity for metrics.
type Observer interface {
	EventHandled(event string)
	SendDropped(event string)
	StateChanged(stats Stats)
}

type nopObserver struct{}

func (nopObserver) EventHandled(string) {}
func (nopObserver) SendDropped(string)  {}
func (nopObserver) StateChanged(Stats)  {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRelay publishes chat messages and token moves through relay. Messages
// carrying instanceID as origin are ignored by Deliver.
func WithRelay(relay Relay, instanceID string) Option {
	return func(c *Coordinator) {
		c.relay = relay
		c.instanceID = instanceID
	}
}

// WithObserver reports activity to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithRoller sets the dice roller used for /roll chat commands.
func WithRoller(r *dice.Roller) Option {
	return func(c *Coordinator) { c.roller = r }
}

// WithJoinHook calls fn with the room key after every successful join.
// fn runs on the coordinator goroutine and must not block.
func WithJoinHook(fn func(roomKey string)) Option {
	return func(c *Coordinator) { c.onJoin = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithInboxSize sets the operation queue length.
func WithInboxSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// Coordinator owns all room state. Every operation runs on the goroutine
// started by Run, one at a time.
type Coordinator struct {
	inbox     chan func()
	inboxSize int
	done      chan struct{}

	rooms map[string]*roomState
	tags  map[string]tag // connection ID -> joined name and room

	relay      Relay
	relayQ     chan RelayMessage
	instanceID string

	observer Observer
	roller   *dice.Roller
	onJoin   func(string)
	now      func() time.Time
}

// NewCoordinator creates a coordinator. Call Run to start processing.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		inboxSize: DefaultInboxSize,
		done:      make(chan struct{}),
		rooms:     make(map[string]*roomState),
		tags:      make(map[string]tag),
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.roller == nil {
		c.roller = dice.NewRoller(nil)
	}
	c.inbox = make(chan func(), c.inboxSize)
	if c.relay != nil {
		c.relayQ = make(chan RelayMessage, relayQueueSize)
	}
	return c
}

// Run processes operations until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)

	if c.relay != nil {
		go c.publishLoop(ctx)
	}

	log.Info().Str("module", "room").Msg("coordinator started")
	for {
		select {
		case op := <-c.inbox:
			op()
		case <-ctx.Done():
			log.Info().Str("module", "room").Msg("coordinator stopped")
			return
		}
	}
}

// submit queues op for the coordinator goroutine.
func (c *Coordinator) submit(ctx context.Context, op func()) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- op:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the coordinator goroutine and waits for it to finish.
func (c *Coordinator) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := c.submit(ctx, func() {
		fn()
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle queues an inbound event from conn. Invalid events are answered
// with an error event to conn only.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, ev Event) error {
	if err := ev.Validate(); err != nil {
		conn.Send(EventError, ErrorPayload{Event: ev.Name(), Message: err.Error()})
		return fmt.Errorf("%s: %w", ev.Name(), err)
	}
	return c.submit(ctx, func() { c.dispatch(conn, ev) })
}

// Disconnect queues the removal of a dropped connection.
func (c *Coordinator) Disconnect(ctx context.Context, conn Conn) error {
	return c.submit(ctx, func() { c.handleDisconnect(conn) })
}

// Deliver fans a relayed event from another instance out to local members.
func (c *Coordinator) Deliver(ctx context.Context, msg RelayMessage) error {
	if msg.Origin != "" && msg.Origin == c.instanceID {
		return nil
	}
	return c.submit(ctx, func() { c.handleRelay(msg) })
}

// Snapshot returns the state of roomKey. ok is false if the room was never
// joined or has been evicted.
func (c *Coordinator) Snapshot(ctx context.Context, roomKey string) (snap Snapshot, ok bool, err error) {
	err = c.query(ctx, func() {
		if r := c.rooms[roomKey]; r != nil {
			snap, ok = r.snapshot(), true
		}
	})
	return snap, ok, err
}

// Stats returns room, member and connection counts.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.query(ctx, func() { st = c.stats() })
	return st, err
}

// EvictIdle removes rooms that have had no members and no connections for
// longer than maxIdle. Their kick lists are dropped with them.
func (c *Coordinator) EvictIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	var removed int
	err := c.query(ctx, func() { removed = c.evictIdle(maxIdle) })
	return removed, err
}

func (c *Coordinator) dispatch(conn Conn, ev Event) {
	switch e := ev.(type) {
	case JoinRoom:
		_ = c.handleJoin(conn, e.Username, e.Room)
	case KickUser:
		c.handleKick(conn, e.Room, e.Target)
	case UnkickUser:
		c.handleUnkick(conn, e.Room, e.Target)
	case SendMessage:
		c.handleSendMessage(conn, e)
	case MoveIcon:
		c.handleMoveIcon(conn, e)
	default:
		log.Warn().Str("module", "room").Str("event", ev.Name()).Msg("unhandled event")
		return
	}
	c.observer.EventHandled(ev.Name())
}

// room returns the state for key, creating it on first use.
func (c *Coordinator) room(key string) *roomState {
	r := c.rooms[key]
	if r == nil {
		r = newRoomState(key)
		c.rooms[key] = r
		log.Debug().Str("module", "room").Str("room", key).Msg("room created")
	}
	return r
}

func (c *Coordinator) handleJoin(conn Conn, name, roomKey string) error {
	if name == "" {
		return ErrInvalidName
	}
	if roomKey == "" {
		return ErrInvalidRoom
	}

	// A refused join leaves the caller where it was.
	if r := c.rooms[roomKey]; r != nil && r.isKicked(name) {
		conn.Send(EventKicked, nil)
		log.Info().Str("module", "room").Str("room", roomKey).Str("user", name).Msg("join refused, user is kicked")
		return fmt.Errorf("join %s as %s: %w", roomKey, name, ErrForbidden)
	}

	id := conn.ID()
	if prev, ok := c.tags[id]; ok && prev != (tag{name: name, room: roomKey}) {
		delete(c.tags, id)
		c.leave(id, prev)
	}

	r := c.room(roomKey)

	c.tags[id] = tag{name: name, room: roomKey}
	r.conns[id] = conn
	r.addMember(name)
	r.emptySince = time.Time{}
	if len(r.members) == 1 {
		r.host = name
	}

	log.Info().Str("module", "room").Str("room", roomKey).Str("user", name).Str("conn", id).
		Int("members", len(r.members)).Str("host", r.host).Msg("user joined")

	c.broadcast(r, EventUserList, r.snapshot().Members, "")
	c.broadcast(r, EventHostAssigned, r.hostPayload(), "")
	c.broadcast(r, EventKickedUsersList, r.snapshot().Kicked, "")
	c.changed()

	if c.onJoin != nil {
		c.onJoin(roomKey)
	}
	return nil
}

// authorizeHost returns the room if conn is joined to roomKey as its host.
func (c *Coordinator) authorizeHost(conn Conn, roomKey, op string) (*roomState, string, bool) {
	t, ok := c.tags[conn.ID()]
	if !ok || t.room != roomKey {
		log.Debug().Str("module", "room").Str("room", roomKey).Str("conn", conn.ID()).Str("op", op).Msg("ignored, not joined")
		return nil, "", false
	}
	r := c.rooms[roomKey]
	if r == nil || r.host != t.name {
		log.Info().Str("module", "room").Str("room", roomKey).Str("user", t.name).Str("op", op).Msg("ignored, not host")
		return nil, t.name, false
	}
	return r, t.name, true
}

func (c *Coordinator) handleKick(conn Conn, roomKey, target string) {
	r, requester, ok := c.authorizeHost(conn, roomKey, EventKickUser)
	if !ok || target == "" {
		return
	}

	dropped := 0
	for id, tc := range r.conns {
		if t, ok := c.tags[id]; !ok || t != (tag{name: target, room: roomKey}) {
			continue
		}
		delete(c.tags, id)
		delete(r.conns, id)
		tc.Send(EventKicked, nil)
		tc.Close()
		dropped++
	}

	r.removeMember(target)
	r.addKicked(target)
	hostChanged := r.rederiveHost()
	r.markEmpty(c.now())

	log.Info().Str("module", "room").Str("room", roomKey).Str("user", target).Str("by", requester).
		Int("dropped_conns", dropped).Msg("user kicked")

	c.broadcast(r, EventUserList, r.snapshot().Members, "")
	if hostChanged {
		c.broadcast(r, EventHostAssigned, r.hostPayload(), "")
	}
	c.broadcast(r, EventKickedUsersList, r.snapshot().Kicked, "")
	c.changed()
}

func (c *Coordinator) handleUnkick(conn Conn, roomKey, target string) {
	r, requester, ok := c.authorizeHost(conn, roomKey, EventUnkickUser)
	if !ok || target == "" {
		return
	}

	removed := r.removeKicked(target)
	log.Info().Str("module", "room").Str("room", roomKey).Str("user", target).Str("by", requester).
		Bool("was_kicked", removed).Msg("user unkicked")

	c.broadcast(r, EventKickedUsersList, r.snapshot().Kicked, "")
}

func (c *Coordinator) handleSendMessage(conn Conn, e SendMessage) {
	sender := e.Username
	if t, ok := c.tags[conn.ID()]; ok && t.room == e.Room {
		sender = t.name
	}
	if sender == "" {
		conn.Send(EventError, ErrorPayload{Event: EventSendMessage, Message: ErrInvalidName.Error()})
		return
	}

	r := c.rooms[e.Room]
	if r != nil && r.isKicked(sender) {
		log.Info().Str("module", "room").Str("room", e.Room).Str("user", sender).Msg("message dropped, user is kicked")
		return
	}

	msg := ChatMessage{Username: sender, Text: e.Text}
	if dice.IsRoll(e.Text) {
		if res, err := c.roller.Roll(e.Text); err == nil {
			msg.Roll = res
		} else {
			log.Debug().Str("module", "room").Str("room", e.Room).Err(err).Msg("roll not evaluated")
		}
	}

	if r != nil {
		c.broadcast(r, EventMessage, msg, "")
	}
	c.publish(e.Room, EventMessage, msg)
}

func (c *Coordinator) handleMoveIcon(conn Conn, e MoveIcon) {
	moved := IconMoved{IconID: e.IconID, NewPosition: e.NewPosition}
	if r := c.rooms[e.Room]; r != nil {
		c.broadcast(r, EventIconMoved, moved, conn.ID())
	}
	c.publish(e.Room, EventIconMoved, moved)
}

func (c *Coordinator) handleDisconnect(conn Conn) {
	id := conn.ID()
	t, ok := c.tags[id]
	if !ok {
		return
	}
	delete(c.tags, id)
	c.leave(id, t)
	c.observer.EventHandled("disconnect")
}

// leave removes a connection and its member name from a room and broadcasts
// the resulting host, member and kick snapshots.
func (c *Coordinator) leave(connID string, t tag) {
	r := c.rooms[t.room]
	if r == nil {
		return
	}
	delete(r.conns, connID)
	r.removeMember(t.name)
	hostChanged := r.rederiveHost()
	r.removeKicked(t.name)
	r.markEmpty(c.now())

	log.Info().Str("module", "room").Str("room", t.room).Str("user", t.name).Str("conn", connID).
		Int("members", len(r.members)).Str("host", r.host).Msg("user left")

	if hostChanged {
		c.broadcast(r, EventHostAssigned, r.hostPayload(), "")
	}
	c.broadcast(r, EventUserList, r.snapshot().Members, "")
	c.broadcast(r, EventKickedUsersList, r.snapshot().Kicked, "")
	c.changed()
}

func (c *Coordinator) handleRelay(msg RelayMessage) {
	switch msg.Event {
	case EventMessage, EventIconMoved:
	default:
		log.Warn().Str("module", "room").Str("event", msg.Event).Msg("relay event ignored")
		return
	}
	r := c.rooms[msg.Room]
	if r == nil {
		return
	}
	c.broadcast(r, msg.Event, msg.Data, "")
}

// broadcast sends an event to every connection in the room except the one
// with ID except.
func (c *Coordinator) broadcast(r *roomState, event string, payload any, except string) {
	for id, conn := range r.conns {
		if id == except {
			continue
		}
		err := conn.Send(event, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrConnClosed):
			// Disconnect for this conn is already queued.
			log.Debug().Str("module", "room").Str("room", r.key).Str("conn", id).Str("event", event).Msg("send to closed connection skipped")
		default:
			c.observer.SendDropped(event)
			log.Warn().Str("module", "room").Str("room", r.key).Str("conn", id).Str("event", event).Err(err).Msg("frame dropped")
		}
	}
}

func (c *Coordinator) publish(roomKey, event string, payload any) {
	if c.relayQ == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("relay marshal failed")
		return
	}
	select {
	case c.relayQ <- RelayMessage{Origin: c.instanceID, Room: roomKey, Event: event, Data: data}:
	default:
		c.observer.SendDropped("relay")
		log.Warn().Str("module", "room").Str("room", roomKey).Msg("relay queue full, event dropped")
	}
}

// publishLoop sends relay messages in order, off the coordinator goroutine.
func (c *Coordinator) publishLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.relayQ:
			if err := c.relay.Publish(ctx, msg); err != nil {
				log.Warn().Str("module", "room").Str("room", msg.Room).Err(err).Msg("relay publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) stats() Stats {
	st := Stats{Rooms: len(c.rooms)}
	for _, r := range c.rooms {
		st.Members += len(r.members)
		st.Connections += len(r.conns)
	}
	return st
}

func (c *Coordinator) changed() {
	c.observer.StateChanged(c.stats())
}

func (c *Coordinator) evictIdle(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)
	removed := 0
	for key, r := range c.rooms {
		if len(r.members) > 0 || len(r.conns) > 0 || r.emptySince.IsZero() {
			continue
		}
		if r.emptySince.Before(cutoff) {
			delete(c.rooms, key)
			removed++
		}
	}
	if removed > 0 {
		c.changed()
	}
	return removed
}
