package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
)

// RedisSource reads change events from Redis pub/sub, one channel per table
type RedisSource struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisSource connects to Redis and verifies the connection
func NewRedisSource(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSource{
		client: client,
		prefix: cfg.ChannelPrefix,
		logger: logger,
	}, nil
}

func (r *RedisSource) channel(table string) string {
	return r.prefix + table
}

// Subscribe listens on the table's channel until ctx is done
func (r *RedisSource) Subscribe(ctx context.Context, table string, filter Filter) (<-chan ChangeEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel(table))

	// Wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel(table), err)
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
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
				event, err := decodeEvent([]byte(msg.Payload), table)
				if err != nil {
					r.logger.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed change event")
					continue
				}
				if !filter.Match(&event) {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Publish sends a change event to the table's channel
func (r *RedisSource) Publish(ctx context.Context, event ChangeEvent) error {
	if event.CommitTimestamp.IsZero() {
		event.CommitTimestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	return r.client.Publish(ctx, r.channel(event.Table), data).Err()
}

// Close closes the Redis client
func (r *RedisSource) Close() error {
	return r.client.Close()
}

// decodeEvent parses a JSON change event. A payload without a table name
// inherits the table it arrived on.
func decodeEvent(payload []byte, table string) (ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}

	if event.Table == "" {
		event.Table = table
	}

	switch event.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change event type %q", event.Type)
	}

	return event, nil
}
