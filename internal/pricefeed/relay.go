// Package pricefeed relays off-chain oracle prices to the price feed
// contract with append_price messages.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/fixedpoint"
)

// Defaults of the relay loop.
const (
	DefaultInterval     = 30 * time.Second
	DefaultTimestampLag = 12 * time.Second
)

// Feed is one price published to the contract under Key.
type Feed struct {
	Key string
	URL string
}

// PriceSource fetches the reference price at url.
type PriceSource interface {
	Price(ctx context.Context, url string) (decimal.Decimal, error)
}

// EngineConfigReader provides the engine decimals prices are scaled by.
type EngineConfigReader interface {
	Config(ctx context.Context) (domain.EngineConfig, error)
}

// OnChainPrices reads the prices already stored in the price feed contract.
type OnChainPrices interface {
	Address() string
	Price(ctx context.Context, key string) (sdkmath.Int, error)
}

// Executor submits the append_price batch.
type Executor interface {
	ExecuteMultiple(ctx context.Context, instrs []domain.ExecuteInstruction) (domain.TxResult, error)
}

// BatchReporter receives every relay submission.
type BatchReporter interface {
	ReportBatch(ctx context.Context, batch domain.BatchResult)
}

// Config configures the relay.
type Config struct {
	Feeds        []Feed
	Interval     time.Duration
	TimestampLag time.Duration
	// MaxDeviationBps logs a warning when a new price moves more than this
	// from the on-chain price. Zero disables the check.
	MaxDeviationBps int64
	DryRun          bool
}

// Relay fetches every feed concurrently and submits the prices in one
// transaction per round.
type Relay struct {
	cfg       Config
	source    PriceSource
	engine    EngineConfigReader
	onChain   OnChainPrices
	exec      Executor
	reporters []BatchReporter
	now       func() time.Time
	logger    *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(cfg Config, source PriceSource, engine EngineConfigReader, onChain OnChainPrices, exec Executor, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TimestampLag <= 0 {
		cfg.TimestampLag = DefaultTimestampLag
	}
	return &Relay{
		cfg:     cfg,
		source:  source,
		engine:  engine,
		onChain: onChain,
		exec:    exec,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "pricefeed")),
	}
}

// AddReporter registers a sink for submitted batches.
func (r *Relay) AddReporter(br BatchReporter) { r.reporters = append(r.reporters, br) }

// Run submits a round immediately and then every interval until ctx is done.
// Round failures are logged and do not stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "price feed relay started",
		slog.Int("feeds", len(r.cfg.Feeds)),
		slog.Duration("interval", r.cfg.Interval),
	)
	defer r.logger.Info("price feed relay stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, domain.ErrNoInstructions) && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "price feed round failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce builds and submits one round of append_price messages.
func (r *Relay) RunOnce(ctx context.Context) (domain.BatchResult, error) {
	instrs, err := r.Instructions(ctx)
	if len(instrs) == 0 {
		if err == nil {
			err = domain.ErrNoInstructions
		}
		return domain.BatchResult{}, err
	}
	if err != nil {
		// Feeds that failed are skipped; the rest are still published.
		r.logger.WarnContext(ctx, "some feeds failed", slog.String("error", err.Error()))
	}

	batch := domain.BatchResult{
		Category:     domain.CategoryPriceFeed,
		Instructions: len(instrs),
		SubmittedAt:  r.now().UTC(),
	}
	if r.cfg.DryRun {
		for _, in := range instrs {
			r.logger.InfoContext(ctx, "dry run instruction", slog.String("key", in.Key()))
		}
		return batch, nil
	}

	tx, execErr := r.exec.ExecuteMultiple(ctx, instrs)
	batch.TxHash, batch.Height, batch.GasUsed = tx.Hash, tx.Height, tx.GasUsed
	if execErr != nil {
		batch.Error = execErr.Error()
	} else {
		r.logger.InfoContext(ctx, "prices appended",
			slog.Int("feeds", len(instrs)),
			slog.String("tx_hash", tx.Hash),
		)
	}
	for _, br := range r.reporters {
		br.ReportBatch(ctx, batch)
	}
	if execErr != nil {
		return batch, fmt.Errorf("pricefeed: submit: %w", execErr)
	}
	return batch, nil
}

// Instructions fetches every feed and returns the append_price messages for
// the prices that could be read, in feed order. Zero prices are skipped.
// The error joins the failures of the skipped feeds.
func (r *Relay) Instructions(ctx context.Context) ([]domain.ExecuteInstruction, error) {
	cfg, err := r.engine.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: engine config: %w", err)
	}
	timestamp := r.now().Add(-r.cfg.TimestampLag).Unix()

	out := make([]*domain.ExecuteInstruction, len(r.cfg.Feeds))
	errs := make([]error, len(r.cfg.Feeds))
	var g errgroup.Group
	for i, feed := range r.cfg.Feeds {
		g.Go(func() error {
			price, err := r.scaledPrice(ctx, feed, cfg.Decimals)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", feed.Key, err)
				return nil
			}
			r.checkDeviation(ctx, feed.Key, price, cfg.Decimals)
			in := domain.NewAppendPrice(r.onChain.Address(), feed.Key, price, timestamp)
			out[i] = &in
			return nil
		})
	}
	_ = g.Wait()

	var instrs []domain.ExecuteInstruction
	for _, in := range out {
		if in != nil {
			instrs = append(instrs, *in)
		}
	}
	return instrs, errors.Join(errs...)
}

func (r *Relay) scaledPrice(ctx context.Context, feed Feed, decimals sdkmath.Int) (sdkmath.Int, error) {
	raw, err := r.source.Price(ctx, feed.URL)
	if err != nil {
		return sdkmath.Int{}, err
	}
	price := fixedpoint.FromDecimal(raw, decimals)
	if !price.IsPositive() {
		r.logger.WarnContext(ctx, "oracle price is zero", slog.String("key", feed.Key))
		return sdkmath.Int{}, domain.ErrZeroPrice
	}
	return price, nil
}

func (r *Relay) checkDeviation(ctx context.Context, key string, price, decimals sdkmath.Int) {
	if r.cfg.MaxDeviationBps <= 0 || decimals.IsNil() || decimals.IsZero() {
		return
	}
	current, err := r.onChain.Price(ctx, key)
	if err != nil || current.IsNil() || current.IsZero() {
		return
	}
	diff := fixedpoint.PercentageDiff(price, current, decimals)
	limit := decimals.MulRaw(r.cfg.MaxDeviationBps).QuoRaw(10_000)
	if diff.GT(limit) {
		r.logger.WarnContext(ctx, "oracle price deviates from on-chain price",
			slog.String("key", key),
			slog.String("price", price.String()),
			slog.String("on_chain", current.String()),
			slog.String("deviation", fixedpoint.ToDecimal(diff, decimals).String()),
		)
	}
}
