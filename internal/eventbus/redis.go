package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

const (
	changesChannelPrefix   = "filesync:changes:"
	conflictsChannelPrefix = "filesync:conflicts:"
)

// RedisRelay cross-process fans out events: Publish writes to Redis instead
// of delivering directly, and Run subscribes to every user channel so the
// events reach whichever process instance holds that user's live
// connections. Grounded on OllamaMax's pkg/database/manager.go redis.Client
// construction, extended with go-redis's own pub/sub API (the pack has no
// existing pub/sub usage to ground that part on).
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRedisRelay constructs a relay that forwards Redis-delivered events into
// hub's local subscriber set.
func NewRedisRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, logger: logger}
}

// PublishFileChange implements internal/decision.Publisher by publishing to
// Redis; delivery to local subscribers happens via Run's subscription loop.
func (r *RedisRelay) PublishFileChange(ctx context.Context, username string, event wire.SyncEventDTO) error {
	return r.publish(ctx, changesChannelPrefix+username, event)
}

// PublishConflict implements internal/decision.Publisher for conflict events.
func (r *RedisRelay) PublishConflict(ctx context.Context, username string, event wire.SyncEventDTO) error {
	return r.publish(ctx, conflictsChannelPrefix+username, event)
}

func (r *RedisRelay) publish(ctx context.Context, channel string, event wire.SyncEventDTO) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	return nil
}

// Run subscribes to the changes and conflicts channel patterns and forwards
// every received event into the local hub, until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, changesChannelPrefix+"*", conflictsChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			r.handleMessage(msg)
		}
	}
}

func (r *RedisRelay) handleMessage(msg *redis.Message) {
	var event wire.SyncEventDTO
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Warn("redis relay: malformed event payload", "channel", msg.Channel, "error", err)
		return
	}

	switch {
	case len(msg.Channel) > len(changesChannelPrefix) && msg.Channel[:len(changesChannelPrefix)] == changesChannelPrefix:
		username := msg.Channel[len(changesChannelPrefix):]
		r.hub.deliverExternal(username, event, false)

	case len(msg.Channel) > len(conflictsChannelPrefix) && msg.Channel[:len(conflictsChannelPrefix)] == conflictsChannelPrefix:
		username := msg.Channel[len(conflictsChannelPrefix):]
		r.hub.deliverExternal(username, event, true)

	default:
		r.logger.Warn("redis relay: unrecognized channel", "channel", msg.Channel)
	}
}
