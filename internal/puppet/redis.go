package puppet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/juzibot/wechaty/internal/payload"
)

// DefaultDirtyChannel is the pub/sub channel dirty signals are published on.
const DefaultDirtyChannel = "wechaty:dirty"

// DefaultKeyPrefix prefixes payload keys: <prefix>:<kind>:<id>.
const DefaultKeyPrefix = "wechaty:payload"

// Redis is a Driver that reads payloads stored as JSON strings and a
// Notifier fed by a pub/sub channel of JSON dirty signals.
type Redis struct {
	client  redis.UniversalClient
	channel string
	prefix  string
	logger  *slog.Logger
}

// RedisOptions configures NewRedis. Empty fields take the defaults.
type RedisOptions struct {
	Channel   string
	KeyPrefix string
	Logger    *slog.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Channel == "" {
		opts.Channel = DefaultDirtyChannel
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "puppet.redis")
	}
	return &Redis{
		client:  client,
		channel: opts.Channel,
		prefix:  opts.KeyPrefix,
		logger:  opts.Logger,
	}
}

// Key returns the Redis key holding the payload for (kind, id).
func (r *Redis) Key(kind payload.Kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, id)
}

func (r *Redis) Payload(ctx context.Context, kind payload.Kind, id string) (payload.Snapshot, error) {
	data, err := r.client.Get(ctx, r.Key(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.Key(kind, id), err)
	}
	snap, err := payload.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse payload %s: %w", r.Key(kind, id), err)
	}
	if snap == nil {
		return nil, ErrNotFound
	}
	return snap, nil
}

// Store writes snap as the payload for (kind, id). Used by tooling and tests
// that seed a backend.
func (r *Redis) Store(ctx context.Context, kind payload.Kind, id string, snap payload.Snapshot) error {
	data, err := payload.MarshalCanonical(snap)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return r.client.Set(ctx, r.Key(kind, id), data, 0).Err()
}

// Publish sends a dirty signal on the configured channel.
func (r *Redis) Publish(ctx context.Context, sig DirtySignal) error {
	data, err := payload.MarshalCanonical(payload.Object{
		"payloadType": payload.String(sig.PayloadType.String()),
		"payloadId":   payload.String(sig.PayloadID),
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe listens on the dirty channel. Malformed messages are logged and
// skipped.
func (r *Redis) Subscribe(ctx context.Context) (<-chan DirtySignal, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	out := make(chan DirtySignal)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				sig, err := DecodeDirty([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("dropping dirty signal", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
