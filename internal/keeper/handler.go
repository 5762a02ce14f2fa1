package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// ClosePriceMode selects how the close price of a position is estimated.
type ClosePriceMode string

const (
	// ClosePriceSimulated quotes the vAMM output price for the position's
	// exact size and direction, including swap impact.
	ClosePriceSimulated ClosePriceMode = "simulated"
	// ClosePriceSpot uses the market spot price for every position.
	ClosePriceSpot ClosePriceMode = "spot"
)

// DefaultFundingGrace is added to next_funding_time before funding is paid.
const DefaultFundingGrace = 6 * time.Second

// HandlerConfig tunes the trigger evaluation.
type HandlerConfig struct {
	ClosePrice   ClosePriceMode
	FundingGrace time.Duration
	// Whitelist lists traders that are never liquidated.
	Whitelist []string
}

// EngineHandler evaluates the triggers of one margin engine. Each operation
// reads what it needs from the chain and returns the instructions to submit;
// nothing is submitted here.
type EngineHandler struct {
	engine    EngineQuerier
	vamm      VammQuerier
	reader    *Reader
	cfg       HandlerConfig
	whitelist map[string]struct{}
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngineHandler creates a handler over the engine and vAMM query clients.
func NewEngineHandler(engine EngineQuerier, vamm VammQuerier, reader *Reader, cfg HandlerConfig, logger *slog.Logger) *EngineHandler {
	if cfg.ClosePrice == "" {
		cfg.ClosePrice = ClosePriceSimulated
	}
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, t := range cfg.Whitelist {
		if t = strings.TrimSpace(t); t != "" {
			wl[t] = struct{}{}
		}
	}
	return &EngineHandler{
		engine:    engine,
		vamm:      vamm,
		reader:    reader,
		cfg:       cfg,
		whitelist: wl,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "engine_handler")),
	}
}

// EngineAddress returns the address instructions are sent to.
func (h *EngineHandler) EngineAddress() string { return h.engine.Address() }

// TriggerTpSl returns a trigger_tp_sl instruction for every position on the
// market side whose take profit or stop loss is hit.
func (h *EngineHandler) TriggerTpSl(ctx context.Context, vamm string, side domain.Side) ([]domain.ExecuteInstruction, error) {
	cfg, err := h.engine.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("keeper: engine config: %w", err)
	}
	return h.triggerTpSl(ctx, cfg, vamm, side)
}

// TriggerLiquidate returns a liquidate instruction for every position on the
// market side at or below the maintenance margin ratio.
func (h *EngineHandler) TriggerLiquidate(ctx context.Context, vamm string, side domain.Side) ([]domain.ExecuteInstruction, error) {
	cfg, err := h.engine.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("keeper: engine config: %w", err)
	}
	return h.triggerLiquidate(ctx, cfg, vamm, side)
}

// PayFunding returns a pay_funding instruction when the market's funding is
// due, and nothing otherwise.
func (h *EngineHandler) PayFunding(ctx context.Context, vamm string) ([]domain.ExecuteInstruction, error) {
	state, err := h.vamm.State(ctx, vamm)
	if err != nil {
		return nil, fmt.Errorf("keeper: vamm state %s: %w", vamm, err)
	}
	if !state.Open {
		return nil, nil
	}
	if !FundingDue(h.now(), state.NextFundingTime, h.cfg.FundingGrace) {
		return nil, nil
	}
	h.logger.InfoContext(ctx, "funding due",
		slog.String("vamm", vamm),
		slog.Int64("next_funding_time", state.NextFundingTime),
	)
	return []domain.ExecuteInstruction{domain.NewPayFunding(h.engine.Address(), vamm)}, nil
}

func (h *EngineHandler) triggerTpSl(ctx context.Context, cfg domain.EngineConfig, vamm string, side domain.Side) ([]domain.ExecuteInstruction, error) {
	positions, err := h.reader.QueryOpenPositions(ctx, vamm, side)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	var spot *sdkmath.Int
	if h.cfg.ClosePrice == ClosePriceSpot {
		p, err := h.vamm.SpotPrice(ctx, vamm)
		if err != nil {
			return nil, fmt.Errorf("keeper: spot price %s: %w", vamm, err)
		}
		spot = &p
	}

	var out []domain.ExecuteInstruction
	for _, p := range positions {
		tp, sl := p.TakeProfitOrZero(), p.StopLossOrZero()
		if tp.IsZero() && sl.IsZero() {
			continue
		}
		closePrice, err := h.closePrice(ctx, vamm, p, spot)
		if err != nil {
			return nil, err
		}
		tpSpread, slSpread := TpSlSpreads(tp, sl, cfg)
		trigger := EvaluateTpSl(closePrice, tp, sl, tpSpread, slSpread, side)
		if trigger == TriggerNone {
			continue
		}
		h.logger.InfoContext(ctx, "tp/sl triggered",
			slog.String("vamm", vamm),
			slog.String("side", string(side)),
			slog.Uint64("position_id", p.PositionID),
			slog.String("trigger", string(trigger)),
			slog.String("close_price", closePrice.String()),
			slog.String("take_profit", tp.String()),
			slog.String("stop_loss", sl.String()),
		)
		out = append(out, domain.NewTriggerTpSl(h.engine.Address(), vamm, p.PositionID))
	}
	return out, nil
}

// closePrice estimates the price the position would close at. The spot
// price is used when given or when the position has no size to quote.
func (h *EngineHandler) closePrice(ctx context.Context, vamm string, p domain.Position, spot *sdkmath.Int) (sdkmath.Int, error) {
	if spot != nil {
		return *spot, nil
	}
	size := p.AbsSize()
	if size.IsZero() {
		price, err := h.vamm.SpotPrice(ctx, vamm)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("keeper: spot price %s: %w", vamm, err)
		}
		return price, nil
	}
	price, err := h.vamm.OutputPrice(ctx, vamm, size, p.CloseDirection())
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("keeper: output price %s #%d: %w", vamm, p.PositionID, err)
	}
	return price, nil
}

func (h *EngineHandler) triggerLiquidate(ctx context.Context, cfg domain.EngineConfig, vamm string, side domain.Side) ([]domain.ExecuteInstruction, error) {
	positions, err := h.reader.QueryOpenPositions(ctx, vamm, side)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	overSpread, err := h.vamm.IsOverSpreadLimit(ctx, vamm)
	if err != nil {
		return nil, fmt.Errorf("keeper: spread limit %s: %w", vamm, err)
	}

	var out []domain.ExecuteInstruction
	for _, p := range positions {
		if _, skip := h.whitelist[p.Trader]; skip {
			continue
		}
		ratio, err := h.engine.MarginRatio(ctx, vamm, p.PositionID)
		if err != nil {
			return nil, fmt.Errorf("keeper: margin ratio %s #%d: %w", vamm, p.PositionID, err)
		}
		var oracle *sdkmath.Int
		if overSpread {
			r, err := h.engine.MarginRatioByCalcOption(ctx, vamm, p.PositionID, domain.CalcOptionOracle)
			if err != nil {
				return nil, fmt.Errorf("keeper: oracle margin ratio %s #%d: %w", vamm, p.PositionID, err)
			}
			oracle = &r
		}
		if !ShouldLiquidate(ratio, oracle, overSpread, cfg.MaintenanceMarginRatio) {
			continue
		}
		h.logger.InfoContext(ctx, "liquidation triggered",
			slog.String("vamm", vamm),
			slog.String("side", string(side)),
			slog.Uint64("position_id", p.PositionID),
			slog.String("trader", p.Trader),
			slog.String("margin_ratio", EffectiveMarginRatio(ratio, oracle, overSpread).String()),
			slog.String("maintenance", cfg.MaintenanceMarginRatio.String()),
		)
		out = append(out, domain.NewLiquidate(h.engine.Address(), vamm, p.PositionID))
	}
	return out, nil
}
