// Package channel carries submission envelopes to the publication service and
// result messages back, over Redis Streams consumer groups.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

const (
	fieldAttributes = "attributes"
	fieldBody       = "body"
)

// Message is one entry on a stream. ID is assigned by the stream on publish.
type Message struct {
	ID         string
	Attributes map[string]string
	Body       []byte
}

// Attribute returns the named attribute or an empty string.
func (m Message) Attribute(name string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[name]
}

// Publisher appends messages to a stream.
type Publisher struct {
	client redis.Cmdable
}

// NewPublisher constructs a stream publisher.
func NewPublisher(client redis.Cmdable) *Publisher {
	return &Publisher{client: client}
}

// Publish appends msg to stream and returns the assigned entry ID.
func (p *Publisher) Publish(ctx context.Context, stream string, msg Message) (string, error) {
	values, err := encodeValues(msg)
	if err != nil {
		return "", err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ConsumerConfig names the stream and consumer group position of a Consumer.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// ClaimIdle reclaims entries another consumer read but never acknowledged
	// once they have been idle this long. Zero disables reclaiming.
	ClaimIdle time.Duration
}

// Consumer reads a stream through a consumer group. Entries stay pending until Ack.
type Consumer struct {
	client redis.Cmdable
	cfg    ConsumerConfig
}

// NewConsumer constructs a consumer; call EnsureGroup once before Receive.
func NewConsumer(client redis.Cmdable, cfg ConsumerConfig) *Consumer {
	return &Consumer{client: client, cfg: cfg}
}

// EnsureGroup creates the consumer group (and stream) when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s/%s: %w", c.cfg.Stream, c.cfg.Group, err)
	}
	return nil
}

// Receive returns up to max entries, waiting at most wait for new ones. Stale
// entries abandoned by other consumers are returned first. An empty slice with a
// nil error means the wait elapsed without traffic.
func (c *Consumer) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 10
	}
	if c.cfg.ClaimIdle > 0 {
		claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    int64(max),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("xautoclaim %s: %w", c.cfg.Stream, err)
		}
		if len(claimed) > 0 {
			return decodeEntries(claimed), nil
		}
	}

	block := wait
	if block <= 0 {
		block = -1
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", c.cfg.Stream, err)
	}
	var out []Message
	for _, stream := range streams {
		out = append(out, decodeEntries(stream.Messages)...)
	}
	return out, nil
}

// Ack removes entries from the group's pending list.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", c.cfg.Stream, err)
	}
	return nil
}

func encodeValues(msg Message) (map[string]interface{}, error) {
	attrs := msg.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode message attributes: %w", err)
	}
	return map[string]interface{}{
		fieldAttributes: string(raw),
		fieldBody:       string(msg.Body),
	}, nil
}

func decodeEntries(entries []redis.XMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, decodeEntry(entry))
	}
	return out
}

// decodeEntry is lenient: unparseable attributes leave Attributes nil so the
// caller can treat the message as malformed and still acknowledge it.
func decodeEntry(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID}
	if raw, ok := entry.Values[fieldAttributes].(string); ok {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
			msg.Attributes = attrs
		}
	}
	if body, ok := entry.Values[fieldBody].(string); ok {
		msg.Body = []byte(body)
	}
	return msg
}
