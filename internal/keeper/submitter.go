package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Executor signs and broadcasts a multi-message transaction from the keeper
// account. Implementations serialize submissions on the account sequence.
type Executor interface {
	Address() string
	ExecuteMultiple(ctx context.Context, instrs []domain.ExecuteInstruction) (domain.TxResult, error)
}

// BatchMode selects how a plan is split into transactions.
type BatchMode string

const (
	// BatchSplit sends tp/sl, liquidations and funding as three independent
	// transactions.
	BatchSplit BatchMode = "split"
	// BatchSingle sends the whole plan as one atomic transaction.
	BatchSingle BatchMode = "single"
)

// Submitter turns a plan into transactions, one at a time.
type Submitter struct {
	exec    Executor
	mode    BatchMode
	metrics Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter. An empty mode means BatchSplit.
func NewSubmitter(exec Executor, mode BatchMode, metrics Metrics, logger *slog.Logger) *Submitter {
	if mode == "" {
		mode = BatchSplit
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Submitter{
		exec:    exec,
		mode:    mode,
		metrics: metrics,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "submitter")),
	}
}

// Submit sends the plan and reports every transaction attempted. The error
// joins the failures of all batches that did not land; results are returned
// either way.
func (s *Submitter) Submit(ctx context.Context, plan Plan) ([]domain.BatchResult, error) {
	if plan.Len() == 0 {
		return nil, domain.ErrNoInstructions
	}

	if s.mode == BatchSingle {
		res := s.send(ctx, domain.CategoryCombined, plan.Instructions(), false)
		return []domain.BatchResult{res}, batchErrors([]domain.BatchResult{res})
	}

	var results []domain.BatchResult
	if len(plan.TpSl) > 0 {
		results = append(results, s.send(ctx, domain.CategoryTpSl, plan.TpSl, false))
	}
	if len(plan.Liquidate) > 0 {
		res := s.send(ctx, domain.CategoryLiquidate, plan.Liquidate, false)
		if res.Succeeded() || len(plan.Liquidate) == 1 || ctx.Err() != nil {
			results = append(results, res)
		} else {
			// Isolate the stale instruction: each liquidation goes alone.
			s.logger.WarnContext(ctx, "liquidate batch failed, retrying individually",
				slog.Int("instructions", len(plan.Liquidate)),
				slog.String("error", res.Error),
			)
			for _, in := range plan.Liquidate {
				results = append(results, s.send(ctx, domain.CategoryLiquidate, []domain.ExecuteInstruction{in}, true))
			}
		}
	}
	if len(plan.PayFunding) > 0 {
		results = append(results, s.send(ctx, domain.CategoryPayFunding, plan.PayFunding, false))
	}
	return results, batchErrors(results)
}

func (s *Submitter) send(ctx context.Context, cat domain.Category, instrs []domain.ExecuteInstruction, fallback bool) domain.BatchResult {
	res := domain.BatchResult{
		Category:     cat,
		Instructions: len(instrs),
		Positions:    positionIDs(instrs),
		Fallback:     fallback,
		SubmittedAt:  s.now().UTC(),
	}

	start := time.Now()
	tx, err := s.exec.ExecuteMultiple(ctx, instrs)
	s.metrics.BatchSubmitted(cat, len(instrs), err, time.Since(start))

	res.TxHash = tx.Hash
	res.Height = tx.Height
	res.GasUsed = tx.GasUsed
	if err != nil {
		res.Error = err.Error()
		s.logger.ErrorContext(ctx, "batch failed",
			slog.String("category", string(cat)),
			slog.Int("instructions", len(instrs)),
			slog.Bool("fallback", fallback),
			slog.String("tx_hash", tx.Hash),
			slog.String("error", err.Error()),
		)
		return res
	}
	s.logger.InfoContext(ctx, "batch submitted",
		slog.String("category", string(cat)),
		slog.Int("instructions", len(instrs)),
		slog.String("tx_hash", tx.Hash),
		slog.Int64("height", tx.Height),
		slog.Int64("gas_used", tx.GasUsed),
	)
	return res
}

func positionIDs(instrs []domain.ExecuteInstruction) []uint64 {
	var ids []uint64
	for _, in := range instrs {
		m, ok := in.Msg.(domain.EngineMsg)
		if !ok {
			continue
		}
		switch {
		case m.TriggerTpSl != nil:
			ids = append(ids, m.TriggerTpSl.PositionID)
		case m.Liquidate != nil:
			ids = append(ids, m.Liquidate.PositionID)
		}
	}
	return ids
}

func batchErrors(results []domain.BatchResult) error {
	var errs []error
	for _, r := range results {
		if !r.Succeeded() {
			errs = append(errs, fmt.Errorf("%s batch of %d: %s", r.Category, r.Instructions, r.Error))
		}
	}
	return errors.Join(errs...)
}
