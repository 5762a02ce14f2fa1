package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// Channel and stream names, relative to the client prefix.
const (
	ChannelCycles  = "events:cycles"
	ChannelBatches = "events:batches"
	StreamCycles   = "stream:cycles"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live
// dashboards and Redis Streams for a durable cycle history.
type SignalBus struct {
	c      *Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{c: c, logger: logger.With(slog.String("component", "signal_bus"))}
}

// Publish sends a raw payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to a stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages from a stream after lastID. Use "0"
// to read from the beginning. It returns an empty slice when no messages
// are available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.c.Key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Report publishes a finished cycle and appends it to the cycle stream.
// Skipped cycles are not published.
func (sb *SignalBus) Report(ctx context.Context, report domain.CycleReport) {
	if report.Outcome == domain.OutcomeSkipped {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		sb.logger.Error("marshal cycle report", slog.String("error", err.Error()))
		return
	}
	if err := sb.Publish(ctx, ChannelCycles, payload); err != nil {
		sb.logger.Warn("publish cycle report", slog.String("error", err.Error()))
	}
	if err := sb.StreamAppend(ctx, StreamCycles, payload); err != nil {
		sb.logger.Warn("append cycle report", slog.String("error", err.Error()))
	}
}

// ReportBatch publishes a single submission, used by the price relay.
func (sb *SignalBus) ReportBatch(ctx context.Context, batch domain.BatchResult) {
	payload, err := json.Marshal(batch)
	if err != nil {
		sb.logger.Error("marshal batch", slog.String("error", err.Error()))
		return
	}
	if err := sb.Publish(ctx, ChannelBatches, payload); err != nil {
		sb.logger.Warn("publish batch", slog.String("error", err.Error()))
	}
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
