package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes events to pub/sub channels and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// StatusCache keeps the latest cycle report for status endpoints and other
// replicas.
type StatusCache interface {
	SetReport(ctx context.Context, report CycleReport) error
	LastReport(ctx context.Context) (CycleReport, error)
}

// RateLimiter decides whether an event keyed by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
