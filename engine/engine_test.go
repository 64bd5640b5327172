package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/config"
	"grid-trader-go/engine"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func flatKlines(n int, close string) []market.Kline {
	ks := make([]market.Kline, n)
	for i := range ks {
		ks[i] = market.Kline{
			OpenTime:  int64(i * 1000),
			Open:      d(close),
			High:      d("105"),
			Low:       d("95"),
			Close:     d(close),
			CloseTime: int64(i*1000 + 999),
		}
	}
	return ks
}

// fakeKlines 按周期路由数据，可注入前 N 次调用失败。
type fakeKlines struct {
	byInterval map[string][]market.Kline
	failFirst  int
	calls      int
}

func (f *fakeKlines) Klines(_ context.Context, q market.KlineQuery) ([]market.Kline, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("upstream timeout")
	}
	return f.byInterval[q.Interval], nil
}

type fakePrices struct {
	price decimal.Decimal
	err   error
}

func (f fakePrices) PriceTicker(context.Context, string, string) (decimal.Decimal, error) {
	return f.price, f.err
}

type fakeFilters struct{}

func (fakeFilters) SymbolFilters(context.Context, string, string) (grid.SymbolFilters, error) {
	return grid.SymbolFilters{
		TickSize: d("0.01"),
		StepSize: d("0.001"),
		MinQty:   d("0.001"),
	}, nil
}

type fakeSyncer struct {
	calls int
	plans []*grid.Plan
}

func (f *fakeSyncer) Sync(_ context.Context, plan *grid.Plan, _ order.SubmitConfig) ([]order.ExecutionResult, error) {
	f.calls++
	f.plans = append(f.plans, plan)
	return []order.ExecutionResult{{Success: true}}, nil
}

type stubGuard struct{ err error }

func (g stubGuard) PreSubmit(context.Context, string) error { return g.err }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func baseGridConfig() config.GridConfig {
	return config.GridConfig{
		Symbol:          "BTCUSDT",
		GridCount:       10,
		TotalInvestment: 1000,
		Leverage:        5,
		LongInterval:    "1h",
		LongLimit:       100,
		ShortInterval:   "15m",
		ShortLimit:      50,
		Market:          "usdt",
		TimeInForce:     "GTC",
		TakeProfitPct:   0.01,
		StopLossPct:     0.01,
	}
}

func newTestEngine(t *testing.T, src *fakeKlines, prices engine.PriceSource, sync engine.Syncer, guard risk.Guard) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Components{
		Cache:      market.NewSeriesCache(src),
		Prices:     prices,
		Filters:    fakeFilters{},
		Reconciler: sync,
		Guard:      guard,
		Logger:     newTestLogger(t),
	})
	require.NoError(t, err)
	e.SetBackoff(0)
	return e
}

func marketData() map[string][]market.Kline {
	return map[string][]market.Kline{
		"1h":  flatKlines(10, "100"),
		"15m": flatKlines(10, "100"),
	}
}

func TestRunCycleBuildsPlan(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	res, err := e.RunCycle(context.Background(), baseGridConfig())
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.True(t, res.Plan.LowerBound.LessThan(res.Plan.UpperBound))
	assert.True(t, res.CurrentPrice.Equal(d("100")))
	assert.Empty(t, res.Executions) // placeOrders=false 时不提交
}

func TestRunCycleRetriesTransientFailures(t *testing.T) {
	src := &fakeKlines{byInterval: marketData(), failFirst: 2}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	res, err := e.RunCycle(context.Background(), baseGridConfig())
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.GreaterOrEqual(t, src.calls, 3)
}

func TestRunCycleFailsAfterMaxAttempts(t *testing.T) {
	src := &fakeKlines{byInterval: marketData(), failFirst: 100}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	_, err := e.RunCycle(context.Background(), baseGridConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

// ticker 不可用时退回最近一根短周期收盘价。
func TestRunCyclePriceTickerFallback(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	e := newTestEngine(t, src, fakePrices{err: errors.New("ticker down")}, nil, nil)

	res, err := e.RunCycle(context.Background(), baseGridConfig())
	require.NoError(t, err)
	assert.True(t, res.CurrentPrice.Equal(d("100")))
}

func TestRunCycleMarginPause(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	sync := &fakeSyncer{}
	guard := stubGuard{err: risk.ErrMarginExceeded}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, sync, guard)

	cfg := baseGridConfig()
	cfg.PlaceOrders = true
	res, err := e.RunCycle(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, res.MarginPaused)
	assert.Zero(t, sync.calls)
}

func TestRunCycleSubmitsWhenEnabled(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	sync := &fakeSyncer{}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, sync, stubGuard{})

	cfg := baseGridConfig()
	cfg.PlaceOrders = true
	res, err := e.RunCycle(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, res.MarginPaused)
	assert.Equal(t, 1, sync.calls)
	assert.Len(t, res.Executions, 1)
}

func TestRunCycleInvalidConfigFailsFast(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	cfg := baseGridConfig()
	cfg.GridCount = 1
	_, err := e.RunCycle(context.Background(), cfg)
	require.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.Zero(t, src.calls)
}

// 精度覆盖非法时立即失败，不消耗重试。
func TestRunCycleBadPrecisionOverride(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	cfg := baseGridConfig()
	cfg.PricePrecision = "not-a-number"
	_, err := e.RunCycle(context.Background(), cfg)
	require.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.Equal(t, 2, src.calls) // 只取一次长短周期，未重试
}

func TestRunCyclePrecisionOverrideApplied(t *testing.T) {
	src := &fakeKlines{byInterval: marketData()}
	e := newTestEngine(t, src, fakePrices{price: d("100")}, nil, nil)

	cfg := baseGridConfig()
	cfg.PricePrecision = "0.5"
	res, err := e.RunCycle(context.Background(), cfg)
	require.NoError(t, err)
	for _, lvl := range res.Plan.AllLevels() {
		rem := lvl.Price.Mod(d("0.5"))
		assert.True(t, rem.IsZero(), "price %s not aligned to 0.5", lvl.Price)
	}
}
