// Package streambus wraps the Redis stream operations shared by the bot
// and the AI worker fleet: consumer-group plumbing, appends with
// optional trimming, and finalize (ack + delete) semantics.
package streambus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus is a thin layer over a Redis client scoped to stream operations.
type Bus struct {
	rdb *redis.Client
}

// New connects to the Redis at url (redis://host:port/db form).
func New(url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Bus{rdb: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Tests use this with miniredis.
func NewWithClient(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Ping verifies connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// EnsureGroup creates the consumer group at stream start, creating the
// stream when missing. A group that already exists is success.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.withRetry(ctx, func() error {
		err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Append adds an entry to the stream. A positive maxLen trims the
// stream approximately (XADD MAXLEN ~) so old entries age out.
func (b *Bus) Append(ctx context.Context, stream string, fields map[string]interface{}, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	var id string
	err := b.withRetry(ctx, func() error {
		var err error
		id, err = b.rdb.XAdd(ctx, args).Result()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", stream, err)
	}
	return id, nil
}

// AppendWithTTL appends and refreshes the key's expiry in one round
// trip. Used for per-chat deletion streams that must age out whole.
func (b *Bus) AppendWithTTL(ctx context.Context, stream string, fields map[string]interface{}, ttl time.Duration) (string, error) {
	var id string
	err := b.withRetry(ctx, func() error {
		pipe := b.rdb.Pipeline()
		add := pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields})
		pipe.Expire(ctx, stream, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		id = add.Val()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", stream, err)
	}
	return id, nil
}

// Finalize acknowledges and removes a processed entry. Failed tasks are
// finalized too; retrying spam classification buys nothing.
func (b *Bus) Finalize(ctx context.Context, stream, group, id string) error {
	err := b.withRetry(ctx, func() error {
		if err := b.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
			return err
		}
		return b.rdb.XDel(ctx, stream, id).Err()
	})
	if err != nil {
		return fmt.Errorf("finalize %s on %s: %w", id, stream, err)
	}
	return nil
}

// Consumer reads a stream on behalf of one named group member.
type Consumer struct {
	bus        *Bus
	stream     string
	group      string
	name       string
	count      int64
	block      time.Duration
	emptyTicks int
}

// NewConsumer builds a consumer for stream/group under the given name.
func (b *Bus) NewConsumer(stream, group, name string, count int64, block time.Duration) *Consumer {
	return &Consumer{
		bus:    b,
		stream: stream,
		group:  group,
		name:   name,
		count:  count,
		block:  block,
	}
}

// Read fetches the next batch of entries. Normally it asks for new
// entries (">"); every tenth consecutive empty read it re-reads the
// group's pending list from "0" to pick up entries another consumer
// claimed but never finalized.
func (c *Consumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	id := ">"
	if c.emptyTicks >= 10 {
		c.emptyTicks = 0
		id = "0"
	}

	res, err := c.bus.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, id},
		Count:    c.count,
		Block:    c.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			c.emptyTicks++
			return nil, nil
		}
		return nil, err
	}

	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	if len(msgs) == 0 {
		c.emptyTicks++
		return nil, nil
	}
	c.emptyTicks = 0
	return msgs, nil
}

// Finalize acks and deletes one entry from this consumer's stream.
func (c *Consumer) Finalize(ctx context.Context, id string) error {
	return c.bus.Finalize(ctx, c.stream, c.group, id)
}

// FieldString extracts a string field from a stream entry.
func FieldString(msg redis.XMessage, key string) string {
	if v, ok := msg.Values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
