package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// recordingQuerier captures the marshalled query and answers with a canned
// JSON payload.
type recordingQuerier struct {
	contract string
	msg      string
	response string
	err      error
}

func (r *recordingQuerier) QuerySmart(_ context.Context, contract string, msg any, out any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.contract = contract
	r.msg = string(raw)
	if r.err != nil {
		return r.err
	}
	return json.Unmarshal([]byte(r.response), out)
}

func TestEngineTicksQueryShape(t *testing.T) {
	q := &recordingQuerier{response: `{"ticks":[{"entry_price":"52500000000","total_positions":2}]}`}
	c := NewEngineClient(q, "orai1engine")

	start := sdkmath.NewInt(60_000_000_000)
	ticks, err := c.Ticks(context.Background(), TicksQuery{
		Limit:      100,
		OrderBy:    OrderDescending,
		Side:       domain.SideBuy,
		StartAfter: &start,
		Vamm:       "orai1vamm",
	})
	if err != nil {
		t.Fatalf("Ticks: %v", err)
	}
	want := `{"ticks":{"limit":100,"order_by":2,"side":"buy","start_after":"60000000000","vamm":"orai1vamm"}}`
	if q.msg != want {
		t.Fatalf("query=%s\nwant  %s", q.msg, want)
	}
	if q.contract != "orai1engine" {
		t.Fatalf("contract=%s", q.contract)
	}
	if len(ticks) != 1 || ticks[0].TotalPositions != 2 || ticks[0].EntryPrice.String() != "52500000000" {
		t.Fatalf("unexpected ticks %+v", ticks)
	}
}

func TestEnginePositionsFilter(t *testing.T) {
	q := &recordingQuerier{response: `[{
		"position_id": 7,
		"vamm": "orai1vamm",
		"trader": "orai1bob",
		"side": "sell",
		"direction": "remove_from_amm",
		"size": "-1367116297",
		"margin": "3000000000",
		"notional": "15000000000",
		"entry_price": "10972",
		"take_profit": "10000000000",
		"stop_loss": null,
		"last_updated_premium_fraction": "0",
		"pair": "ETH/USDT",
		"block_time": 1700000000
	}]`}
	c := NewEngineClient(q, "orai1engine")

	price := sdkmath.NewInt(10972)
	positions, err := c.Positions(context.Background(), PositionsQuery{
		Filter: PositionFilter{Price: &price},
		Limit:  100,
		Side:   domain.SideSell,
		Vamm:   "orai1vamm",
	})
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if !strings.Contains(q.msg, `"filter":{"price":"10972"}`) {
		t.Fatalf("filter not encoded as price object: %s", q.msg)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions", len(positions))
	}
	p := positions[0]
	if p.Size.String() != "-1367116297" || p.AbsSize().String() != "1367116297" {
		t.Fatalf("size=%s abs=%s", p.Size, p.AbsSize())
	}
	if !p.StopLossOrZero().IsZero() {
		t.Fatalf("nil stop loss should read as zero")
	}
	if p.CloseDirection() != domain.DirectionRemoveFromAmm {
		t.Fatalf("close direction=%s", p.CloseDirection())
	}
}

func TestPositionFilterNone(t *testing.T) {
	raw, err := json.Marshal(PositionsQuery{Vamm: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"filter":"none"`) {
		t.Fatalf("zero filter should be \"none\": %s", raw)
	}
	raw, _ = json.Marshal(PositionFilter{Trader: "orai1alice"})
	if string(raw) != `{"trader":"orai1alice"}` {
		t.Fatalf("trader filter=%s", raw)
	}
}

func TestEngineMarginRatioSigned(t *testing.T) {
	q := &recordingQuerier{response: `"-134297520"`}
	c := NewEngineClient(q, "orai1engine")
	got, err := c.MarginRatioByCalcOption(context.Background(), "orai1vamm", 3, domain.CalcOptionOracle)
	if err != nil {
		t.Fatalf("MarginRatioByCalcOption: %v", err)
	}
	if !got.Equal(sdkmath.NewInt(-134297520)) {
		t.Fatalf("ratio=%s", got)
	}
	want := `{"margin_ratio_by_calc_option":{"calc_option":"oracle","position_id":3,"vamm":"orai1vamm"}}`
	if q.msg != want {
		t.Fatalf("query=%s want %s", q.msg, want)
	}
}

func TestVammQueries(t *testing.T) {
	q := &recordingQuerier{response: `"25600000000"`}
	c := NewVammClient(q)
	price, err := c.OutputPrice(context.Background(), "orai1vamm", sdkmath.NewInt(1000), domain.DirectionAddToAmm)
	if err != nil {
		t.Fatalf("OutputPrice: %v", err)
	}
	if price.String() != "25600000000" {
		t.Fatalf("price=%s", price)
	}
	if q.msg != `{"output_price":{"amount":"1000","direction":"add_to_amm"}}` {
		t.Fatalf("query=%s", q.msg)
	}

	q.response = `{"base_asset_reserve":"100","quote_asset_reserve":"2000","funding_rate":"-5","next_funding_time":1700003600,"open":true,"total_position_size":"-20"}`
	st, err := c.State(context.Background(), "orai1vamm")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.NextFundingTime != 1700003600 || !st.Open || st.FundingRate.String() != "-5" {
		t.Fatalf("unexpected state %+v", st)
	}

	q.response = `true`
	over, err := c.IsOverSpreadLimit(context.Background(), "orai1vamm")
	if err != nil || !over {
		t.Fatalf("IsOverSpreadLimit=(%v,%v)", over, err)
	}
	if q.msg != `{"is_over_spread_limit":{}}` {
		t.Fatalf("query=%s", q.msg)
	}
}

func TestInsuranceFundAllVamms(t *testing.T) {
	q := &recordingQuerier{response: `{"vamm_list":["orai1a","orai1b"]}`}
	c := NewInsuranceFundClient(q, "orai1fund")
	vamms, err := c.AllVamms(context.Background(), 0)
	if err != nil {
		t.Fatalf("AllVamms: %v", err)
	}
	if len(vamms) != 2 || vamms[1] != "orai1b" {
		t.Fatalf("vamms=%v", vamms)
	}
	if q.msg != `{"get_all_vamm":{}}` {
		t.Fatalf("query=%s", q.msg)
	}
	if _, err := c.AllVamms(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if q.msg != `{"get_all_vamm":{"limit":10}}` {
		t.Fatalf("query=%s", q.msg)
	}
}

func TestQueryErrorWrapped(t *testing.T) {
	boom := errors.New("rpc down")
	c := NewEngineClient(&recordingQuerier{err: boom}, "orai1engine")
	_, err := c.Config(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped rpc down", err)
	}
	if !strings.Contains(err.Error(), "config") {
		t.Fatalf("error should name the query: %v", err)
	}
}
