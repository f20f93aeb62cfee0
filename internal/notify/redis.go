package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus is the cross-instance Bus backed by redis pub/sub. Each room has
// its own channel so per-room ordering holds; pattern subscribe covers all
// rooms hosted anywhere.
type RedisBus struct {
	rdb *redis.Client
	log *zerolog.Logger
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, addr string, db int, logger *zerolog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBus{rdb: rdb, log: logger}, nil
}

// Publish sends the envelope on its room's channel.
func (b *RedisBus) Publish(ctx context.Context, e Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(e.RoomID), raw).Err()
}

// Subscribe listens to all room channels and invokes fn for each envelope.
func (b *RedisBus) Subscribe(ctx context.Context, fn Handler) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.log.Warn().Err(err).Msg("drop malformed bus envelope")
					continue
				}
				if e.RoomID != "" {
					fn(e)
				}
			}
		}
	}()
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// channel namespaces room pub/sub channels.
func channel(roomID string) string { return "room:" + roomID }
