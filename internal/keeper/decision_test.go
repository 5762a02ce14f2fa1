package keeper

import (
	"math/rand"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/fixedpoint"
)

type tpSlCase struct {
	close, tp, sl      int64
	tpSpread, slSpread string
	want               bool
}

func runTpSlCases(t *testing.T, side domain.Side, cases []tpSlCase) {
	t.Helper()
	for _, c := range cases {
		tpSpread := mustInt(c.tpSpread)
		slSpread := mustInt(c.slSpread)
		got := WillTpSl(amt(c.close), amt(c.tp), amt(c.sl), tpSpread, slSpread, side)
		if got != c.want {
			t.Errorf("%s WillTpSl(close=%d tp=%d sl=%d tpSpread=%s slSpread=%s)=%v want %v",
				side, c.close, c.tp, c.sl, c.tpSpread, c.slSpread, got, c.want)
		}
	}
}

func TestWillTpSlBuy(t *testing.T) {
	runTpSlCases(t, domain.SideBuy, []tpSlCase{
		{2, 1, 0, "0", "0", true},
		{1, 1, 0, "0", "0", true},
		{1, 2, 0, "3", "0", true},
		{1, 2, 0, "1", "0", true},
		{1, 2, 2, "0", "0", true},
		{1, 2, 1, "0", "0", true},
		{2, 3, 1, "0", "2", true},
		{2, 3, 1, "0", "1", true},
		{10, 20, 0, "5", "1", false},
		{10, 20, 1, "5", "5", false},
		{20000000, 20000000, 10000000, "5000", "5000", true},
	})
}

func TestWillTpSlSell(t *testing.T) {
	runTpSlCases(t, domain.SideSell, []tpSlCase{
		{1, 2, 0, "0", "0", true},
		{1, 1, 0, "0", "0", true},
		{2, 1, 0, "3", "0", true},
		{2, 1, 0, "1", "0", true},
		{2, 2, 1, "0", "0", true},
		{1, 2, 1, "0", "0", true},
		{1, 3, 2, "0", "2", true},
		{1, 3, 2, "0", "1", true},
		{20, 10, 30, "5", "1", false},
	})
}

func TestEvaluateTpSlReportsTarget(t *testing.T) {
	zero := sdkmath.ZeroInt()
	cases := []struct {
		name          string
		side          domain.Side
		close, tp, sl int64
		want          TpSlTrigger
	}{
		{"buy take profit", domain.SideBuy, 25, 20, 14, TriggerTakeProfit},
		{"buy stop loss", domain.SideBuy, 13, 20, 14, TriggerStopLoss},
		{"buy inside", domain.SideBuy, 17, 20, 14, TriggerNone},
		{"sell take profit", domain.SideSell, 9, 10, 30, TriggerTakeProfit},
		{"sell stop loss", domain.SideSell, 31, 10, 30, TriggerStopLoss},
		{"sell inside", domain.SideSell, 20, 10, 30, TriggerNone},
		{"sell without stop loss", domain.SideSell, 20, 10, 0, TriggerNone},
		{"buy without targets", domain.SideBuy, 20, 0, 0, TriggerNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := EvaluateTpSl(amt(c.close), amt(c.tp), amt(c.sl), zero, zero, c.side)
			if got != c.want {
				t.Fatalf("EvaluateTpSl=%q want %q", got, c.want)
			}
		})
	}
}

func TestWillTpSlSpreadBoundary(t *testing.T) {
	tp, sl := amt(20000000), amt(10000000)
	cfg := domain.EngineConfig{TpSlSpread: amt(5000), Decimals: amt(1000000)}
	tpSpread, slSpread := TpSlSpreads(tp, sl, cfg)
	if tpSpread.Int64() != 100000 || slSpread.Int64() != 50000 {
		t.Fatalf("spreads=(%s,%s) want (100000,50000)", tpSpread, slSpread)
	}

	cases := []struct {
		close int64
		want  bool
	}{
		{20000000, true},
		{20100000, true},
		{19900000, true},
		{19899999, false},
		{10000000, true},
		{9950000, true},
		{10050000, true},
		{10050001, false},
	}
	for _, c := range cases {
		got := WillTpSl(amt(c.close), tp, sl, tpSpread, slSpread, domain.SideBuy)
		if got != c.want {
			t.Errorf("buy close=%d: got %v want %v", c.close, got, c.want)
		}
	}
}

// Moving the price one unit past the tolerance band must stop the trigger.
func TestWillTpSlBoundaryProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	zero := sdkmath.ZeroInt()
	for i := 0; i < 500; i++ {
		tp := amt(rng.Int63n(1_000_000_000) + 1_000_000)
		spread := amt(rng.Int63n(500_000))

		// Buy take profit: approached from below.
		atEdge := tp.Sub(spread)
		if !WillTpSl(atEdge, tp, zero, spread, zero, domain.SideBuy) {
			t.Fatalf("buy tp=%s spread=%s: edge %s should trigger", tp, spread, atEdge)
		}
		if WillTpSl(atEdge.SubRaw(1), tp, zero, spread, zero, domain.SideBuy) {
			t.Fatalf("buy tp=%s spread=%s: %s should not trigger", tp, spread, atEdge.SubRaw(1))
		}

		// Sell take profit: approached from above.
		atEdge = tp.Add(spread)
		if !WillTpSl(atEdge, tp, zero, spread, zero, domain.SideSell) {
			t.Fatalf("sell tp=%s spread=%s: edge %s should trigger", tp, spread, atEdge)
		}
		if WillTpSl(atEdge.AddRaw(1), tp, zero, spread, zero, domain.SideSell) {
			t.Fatalf("sell tp=%s spread=%s: %s should not trigger", tp, spread, atEdge.AddRaw(1))
		}
	}
}

func TestSpreadValueMatchesHelper(t *testing.T) {
	tp := amt(20_000_000_000)
	cfg := domain.EngineConfig{TpSlSpread: amt(50_000_000), Decimals: amt(1_000_000_000)}
	tpSpread, slSpread := TpSlSpreads(tp, sdkmath.ZeroInt(), cfg)
	want, err := fixedpoint.CalculateSpreadValue("20000000000", "50000000", "1000000000")
	if err != nil {
		t.Fatal(err)
	}
	if !tpSpread.Equal(want) || !slSpread.IsZero() {
		t.Fatalf("spreads=(%s,%s) want (%s,0)", tpSpread, slSpread, want)
	}
}

func TestShouldLiquidate(t *testing.T) {
	mmr := amt(50_000)
	cases := []struct {
		name       string
		spot       int64
		oracle     *sdkmath.Int
		overSpread bool
		want       bool
	}{
		{"healthy", 80_000, nil, false, false},
		{"at maintenance", 50_000, nil, false, true},
		{"below maintenance", 10_000, nil, false, true},
		{"negative ratio", -5_000, nil, false, true},
		{"oracle higher overrides", 40_000, amtPtr(90_000), true, false},
		{"oracle lower ignored", 40_000, amtPtr(10_000), true, true},
		{"oracle ignored within spread", 40_000, amtPtr(90_000), false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldLiquidate(amt(c.spot), c.oracle, c.overSpread, mmr); got != c.want {
				t.Fatalf("ShouldLiquidate=%v want %v", got, c.want)
			}
		})
	}
}

func TestFundingDue(t *testing.T) {
	next := int64(1_700_000_000)
	cases := []struct {
		name  string
		now   int64
		grace time.Duration
		want  bool
	}{
		{"before", next - 1, 0, false},
		{"exactly at", next, 0, true},
		{"after", next + 60, 0, true},
		{"inside grace", next + 5, 6 * time.Second, false},
		{"grace elapsed", next + 6, 6 * time.Second, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FundingDue(time.Unix(c.now, 0), next, c.grace); got != c.want {
				t.Fatalf("FundingDue=%v want %v", got, c.want)
			}
		})
	}
}
