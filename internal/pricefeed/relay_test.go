package pricefeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

type fakeSource map[string]string

func (f fakeSource) Price(_ context.Context, url string) (decimal.Decimal, error) {
	v, ok := f[url]
	if !ok {
		return decimal.Zero, errors.New("oracle: status 503")
	}
	return decimal.RequireFromString(v), nil
}

type fakeEngine struct{}

func (fakeEngine) Config(context.Context) (domain.EngineConfig, error) {
	return domain.EngineConfig{Decimals: sdkmath.NewInt(1_000_000)}, nil
}

type fakeOnChain map[string]sdkmath.Int

func (fakeOnChain) Address() string { return "orai1pricefeed" }

func (f fakeOnChain) Price(_ context.Context, key string) (sdkmath.Int, error) {
	if p, ok := f[key]; ok {
		return p, nil
	}
	return sdkmath.Int{}, domain.ErrNotFound
}

type fakeExec struct {
	batches [][]domain.ExecuteInstruction
	err     error
}

func (f *fakeExec) ExecuteMultiple(_ context.Context, instrs []domain.ExecuteInstruction) (domain.TxResult, error) {
	f.batches = append(f.batches, instrs)
	return domain.TxResult{Hash: "PRICETX", Height: 9}, f.err
}

type captured []domain.BatchResult

func (c *captured) ReportBatch(_ context.Context, b domain.BatchResult) { *c = append(*c, b) }

func newTestRelay(exec *fakeExec, dryRun bool) *Relay {
	cfg := Config{
		Feeds: []Feed{
			{Key: "ORAI", URL: "https://oracle/orai"},
			{Key: "INJ", URL: "https://oracle/inj"},
			{Key: "BTC", URL: "https://oracle/btc"},
			{Key: "DEAD", URL: "https://oracle/dead"},
		},
		MaxDeviationBps: 500,
		DryRun:          dryRun,
	}
	source := fakeSource{
		"https://oracle/orai": "25.6",
		"https://oracle/inj":  "0.0000005",
		"https://oracle/btc":  "0",
	}
	r := NewRelay(cfg, source, fakeEngine{}, fakeOnChain{"ORAI": sdkmath.NewInt(20_000_000)}, exec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	return r
}

func TestInstructionsScaleAndSkip(t *testing.T) {
	r := newTestRelay(&fakeExec{}, false)
	instrs, err := r.Instructions(context.Background())
	if err == nil {
		t.Fatal("expected joined errors for the zero and unreachable feeds")
	}
	if !errors.Is(err, domain.ErrZeroPrice) {
		t.Fatalf("err=%v does not carry ErrZeroPrice", err)
	}
	if len(instrs) != 2 {
		t.Fatalf("got %d instructions want 2", len(instrs))
	}

	want := []struct {
		key   string
		price int64
	}{{"ORAI", 25_600_000}, {"INJ", 1}}
	for i, w := range want {
		in := instrs[i]
		if in.ContractAddress != "orai1pricefeed" || in.Kind() != domain.MsgAppendPrice {
			t.Fatalf("instruction %d=%+v", i, in)
		}
		msg := in.Msg.(domain.PricefeedMsg).AppendPrice
		if msg.Key != w.key || msg.Price.Int64() != w.price {
			t.Fatalf("instruction %d = %s@%s want %s@%d", i, msg.Key, msg.Price, w.key, w.price)
		}
		if msg.Timestamp != 1_700_000_088 {
			t.Fatalf("timestamp=%d want now-12s", msg.Timestamp)
		}
	}
}

func TestRunOnceSubmitsOneTransaction(t *testing.T) {
	exec := &fakeExec{}
	r := newTestRelay(exec, false)
	var seen captured
	r.AddReporter(&seen)

	batch, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(exec.batches) != 1 || len(exec.batches[0]) != 2 {
		t.Fatalf("batches=%v", exec.batches)
	}
	if batch.Category != domain.CategoryPriceFeed || !batch.Succeeded() || batch.Height != 9 {
		t.Fatalf("batch=%+v", batch)
	}
	if len(seen) != 1 {
		t.Fatalf("reporters saw %d batches", len(seen))
	}
}

func TestRunOnceReportsFailure(t *testing.T) {
	exec := &fakeExec{err: domain.ErrTxFailed}
	r := newTestRelay(exec, false)
	var seen captured
	r.AddReporter(&seen)

	batch, err := r.RunOnce(context.Background())
	if !errors.Is(err, domain.ErrTxFailed) {
		t.Fatalf("err=%v", err)
	}
	if batch.Succeeded() || len(seen) != 1 || seen[0].Error == "" {
		t.Fatalf("batch=%+v seen=%+v", batch, seen)
	}
}

func TestRunOnceDryRun(t *testing.T) {
	exec := &fakeExec{}
	if _, err := newTestRelay(exec, true).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.batches) != 0 {
		t.Fatal("dry run submitted")
	}
}
