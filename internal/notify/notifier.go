// Package notify turns keeper activity into operator alerts. Alerts go to
// every registered sender (Telegram, Discord), can be filtered by event and
// are throttled per event so a stuck market does not flood a channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Event names accepted by the events filter.
const (
	EventTxSubmitted = "tx_submitted"
	EventTxFailed    = "tx_failed"
	EventTaskFailed  = "task_failed"
	EventBalanceLow  = "balance_low"
	EventCycleFailed = "cycle_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Throttle bounds how often one event key is delivered.
type Throttle struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// Notifier dispatches alerts to its senders. Notify honours the event filter
// and throttle, NotifyAll bypasses both.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	throttle *Throttle
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithThrottle limits delivery per event key. A nil limiter disables it.
func (n *Notifier) WithThrottle(t Throttle) *Notifier {
	if t.Limiter != nil && t.Limit > 0 && t.Window > 0 {
		n.throttle = &t
	}
	return n
}

// Enabled reports whether the notifier has any sender.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends an alert for event. key narrows the throttle bucket, for
// example to a single market, and may be empty.
func (n *Notifier) Notify(ctx context.Context, event, key, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.throttle != nil {
		bucket := event
		if key != "" {
			bucket += ":" + key
		}
		ok, err := n.throttle.Limiter.Allow(ctx, "notify:"+bucket, n.throttle.Limit, n.throttle.Window)
		if err != nil {
			// Prefer a duplicate alert to a lost one.
			n.logger.WarnContext(ctx, "throttle check failed", slog.String("error", err.Error()))
		} else if !ok {
			n.logger.DebugContext(ctx, "event throttled", slog.String("bucket", bucket))
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends an alert regardless of event filter and throttle.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. One sender failing does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
