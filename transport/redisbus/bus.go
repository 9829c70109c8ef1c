// Package redisbus relays room chat and token moves between server
// instances over Redis pub/sub.
//
// Each instance publishes the messages its local coordinator produces and
// subscribes to every room channel. Messages carry the publishing
// instance's id so the receiving coordinator can drop its own echoes.
//
// Usage:
//
//	bus, err := redisbus.NewBus(ctx, "localhost:6379", 0)
//	coord := room.NewCoordinator(room.WithRelay(bus, instanceID))
//	go bus.Subscribe(ctx, func(msg room.RelayMessage) {
//		coord.Deliver(ctx, msg)
//	})
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wricardo/dungeondweller/game/room"
)

const channelPrefix = "room:"

// Bus is a room.Relay backed by Redis.
type Bus struct {
	rdb *redis.Client
}

// NewBus connects to redis and verifies connectivity.
func NewBus(ctx context.Context, addr string, db int) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("module", "redisbus").Str("addr", addr).Int("db", db).Msg("connected")
	return &Bus{rdb: rdb}, nil
}

// Publish sends a message to the channel of its room.
func (b *Bus) Publish(ctx context.Context, msg room.RelayMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel(msg.Room), raw).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel(msg.Room), err)
	}
	return nil
}

// Subscribe listens to every room channel and calls fn for each message
// until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, fn func(room.RelayMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			rm, err := decode(msg.Channel, msg.Payload)
			if err != nil {
				log.Warn().Str("module", "redisbus").Str("channel", msg.Channel).Err(err).Msg("dropped relay message")
				continue
			}
			fn(rm)
		}
	}
}

// Close shuts down the redis connection.
func (b *Bus) Close() error { return b.rdb.Close() }

func channel(roomKey string) string { return channelPrefix + roomKey }

// decode parses a payload and checks it against the channel it arrived on.
func decode(ch, payload string) (room.RelayMessage, error) {
	var rm room.RelayMessage
	if err := json.Unmarshal([]byte(payload), &rm); err != nil {
		return rm, fmt.Errorf("unmarshal: %w", err)
	}
	if rm.Room == "" || rm.Event == "" {
		return rm, fmt.Errorf("missing room or event")
	}
	if key := strings.TrimPrefix(ch, channelPrefix); key != rm.Room {
		return rm, fmt.Errorf("room %q does not match channel %q", rm.Room, ch)
	}
	return rm, nil
}
