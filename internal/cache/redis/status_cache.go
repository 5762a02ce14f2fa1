package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

const (
	keyLastReport = "status:last_report"
	reportTTL     = 24 * time.Hour
)

// StatusCache implements domain.StatusCache. The last finished cycle is kept
// as JSON so any replica's status endpoint can serve it.
type StatusCache struct {
	c      *Client
	logger *slog.Logger
}

// NewStatusCache creates a StatusCache backed by c.
func NewStatusCache(c *Client, logger *slog.Logger) *StatusCache {
	return &StatusCache{c: c, logger: logger.With(slog.String("component", "status_cache"))}
}

// SetReport stores report as the latest cycle.
func (sc *StatusCache) SetReport(ctx context.Context, report domain.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", report.ID, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.c.Key(keyLastReport), data, reportTTL).Err(); err != nil {
		return fmt.Errorf("redis: set last report: %w", err)
	}
	return nil
}

// LastReport returns the latest cycle, or domain.ErrNotFound.
func (sc *StatusCache) LastReport(ctx context.Context) (domain.CycleReport, error) {
	data, err := sc.c.rdb.Get(ctx, sc.c.Key(keyLastReport)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CycleReport{}, domain.ErrNotFound
		}
		return domain.CycleReport{}, fmt.Errorf("redis: get last report: %w", err)
	}
	var report domain.CycleReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.CycleReport{}, fmt.Errorf("redis: unmarshal last report: %w", err)
	}
	return report, nil
}

// Report stores every cycle that did work.
func (sc *StatusCache) Report(ctx context.Context, report domain.CycleReport) {
	if report.Outcome == domain.OutcomeSkipped {
		return
	}
	if err := sc.SetReport(ctx, report); err != nil {
		sc.logger.Warn("store cycle report", slog.String("error", err.Error()))
	}
}

var _ domain.StatusCache = (*StatusCache)(nil)
