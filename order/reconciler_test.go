package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/grid"
	"grid-trader-go/order"
)

// fakeTrading 记录提交请求，可按价格注入失败。
type fakeTrading struct {
	mu      sync.Mutex
	live    []order.OpenOrder
	created []order.OrderRequest
	failAt  map[string]error // price/stopPrice 字符串 → 错误
	nextID  int64
}

func (f *fakeTrading) CreateOrder(_ context.Context, req order.OrderRequest) (*order.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ""
	if req.Price != nil {
		key = req.Price.String()
	} else if req.StopPrice != nil {
		key = req.StopPrice.String()
	}
	if err, ok := f.failAt[key]; ok {
		return nil, err
	}
	f.created = append(f.created, req)
	f.nextID++
	return &order.OrderAck{OrderID: f.nextID, Symbol: req.Symbol, Status: "NEW"}, nil
}

func (f *fakeTrading) OpenOrders(_ context.Context, _, _ string) ([]order.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.OpenOrder(nil), f.live...), nil
}

// createdRequests 返回提交记录的副本。
func (f *fakeTrading) createdRequests() []order.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.OrderRequest(nil), f.created...)
}

type fakeBook struct {
	ticker *order.BookTicker
	err    error
}

func (f *fakeBook) BookTicker(_ context.Context, _, _ string) (*order.BookTicker, error) {
	return f.ticker, f.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func limitLevel(side grid.Side, price, qty string) grid.Level {
	return grid.Level{
		Price:    d(price),
		Side:     side,
		Quantity: d(qty),
		Notional: d(price).Mul(d(qty)),
		Type:     grid.OrderTypeLimit,
	}
}

func testPlan(buys, sells []grid.Level) *grid.Plan {
	return &grid.Plan{
		LowerBound:   d("100"),
		UpperBound:   d("110"),
		CurrentPrice: d("105"),
		BuyLevels:    buys,
		SellLevels:   sells,
	}
}

func baseConfig() order.SubmitConfig {
	return order.SubmitConfig{Symbol: "BTCUSDT", Market: "usdt", TimeInForce: "GTC"}
}

func TestSyncSkipsExistingOrders(t *testing.T) {
	trading := &fakeTrading{
		live: []order.OpenOrder{
			{OrderID: 1, Side: grid.SideBuy, Type: grid.OrderTypeLimit, Price: dp("100")},
		},
	}
	rec := order.NewReconciler(trading, nil, nil)

	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "100", "1")},
		[]grid.Level{limitLevel(grid.SideSell, "110", "1")},
	)
	results, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, grid.SideSell, results[0].Level.Side)

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "110", created[0].Price.String())
}

// 第二轮对账以第一轮产出作为在途订单，应零新增（幂等收敛）。
func TestSyncConvergence(t *testing.T) {
	trading := &fakeTrading{}
	rec := order.NewReconciler(trading, nil, nil)

	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "100", "1"), limitLevel(grid.SideBuy, "102", "1")},
		[]grid.Level{limitLevel(grid.SideSell, "110", "1"), limitLevel(grid.SideSell, "108", "1")},
	)
	first, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	require.Len(t, first, 4)
	for _, res := range first {
		assert.True(t, res.Success)
	}

	for _, req := range trading.createdRequests() {
		trading.live = append(trading.live, order.OpenOrder{
			Side: req.Side, Type: req.Type, Price: req.Price, StopPrice: req.StopPrice,
		})
	}
	second, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSyncCrossingGuard(t *testing.T) {
	trading := &fakeTrading{}
	book := &fakeBook{ticker: &order.BookTicker{Bid: d("104"), Ask: d("106")}}
	rec := order.NewReconciler(trading, book, nil)

	tp := grid.Level{Price: d("104"), Side: grid.SideSell, Quantity: d("1"),
		Type: grid.OrderTypeTakeProfitMarket, StopPrice: dp("104")}
	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "106", "1"), limitLevel(grid.SideBuy, "103", "1")},
		[]grid.Level{limitLevel(grid.SideSell, "104", "1"), limitLevel(grid.SideSell, "107", "1")},
	)
	plan.TakeProfit = &tp

	results, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	require.Len(t, results, 5)

	skipped := 0
	for _, res := range results {
		if res.Skipped {
			skipped++
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, grid.OrderTypeLimit, res.Level.Type)
		}
	}
	// 买 106 穿最优卖价，卖 104 穿最优买价；保护性档位不受守卫约束
	assert.Equal(t, 2, skipped)
	assert.Len(t, trading.createdRequests(), 3)
}

// 盘口不可用时守卫放行，全部档位照常提交。
func TestSyncCrossingGuardFailOpen(t *testing.T) {
	trading := &fakeTrading{}
	book := &fakeBook{err: errors.New("timeout")}
	rec := order.NewReconciler(trading, book, nil)

	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "106", "1")},
		nil,
	)
	results, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestSyncFailureIsolation(t *testing.T) {
	trading := &fakeTrading{failAt: map[string]error{"102": errors.New("margin insufficient")}}
	rec := order.NewReconciler(trading, nil, nil)

	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "100", "1"), limitLevel(grid.SideBuy, "102", "1")},
		[]grid.Level{limitLevel(grid.SideSell, "108", "1")},
	)
	results, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	require.Len(t, results, 3)

	var failed, succeeded int
	for _, res := range results {
		if res.Success {
			succeeded++
		} else {
			failed++
			assert.Contains(t, res.Error, "margin insufficient")
			assert.False(t, res.Skipped)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
}

func TestSyncGoodTillDate(t *testing.T) {
	trading := &fakeTrading{}
	rec := order.NewReconciler(trading, nil, nil)
	now := time.UnixMilli(1_700_000_000_000)
	rec.SetNow(func() time.Time { return now })

	cfg := baseConfig()
	cfg.TimeInForce = "GTD"
	cfg.GTDSeconds = 120 // 低于下限，应抬升到 600 秒

	plan := testPlan([]grid.Level{limitLevel(grid.SideBuy, "100", "1")}, nil)
	results, err := rec.Sync(context.Background(), plan, cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, now.UnixMilli()+600_000, created[0].GoodTillDate)
}

// 到期时间超出交易所绝对上限时只失败受影响的 LIMIT 档，保护性档位照常提交。
func TestSyncGoodTillDateCeiling(t *testing.T) {
	trading := &fakeTrading{}
	rec := order.NewReconciler(trading, nil, nil)
	rec.SetNow(func() time.Time { return time.UnixMilli(253402300799000) })

	cfg := baseConfig()
	cfg.TimeInForce = "GTD"

	sl := grid.Level{Price: d("95"), Side: grid.SideBuy, Quantity: d("1"),
		Type: grid.OrderTypeTakeProfitMarket, StopPrice: dp("95")}
	plan := testPlan([]grid.Level{limitLevel(grid.SideBuy, "100", "1")}, nil)
	plan.StopLoss = &sl

	results, err := rec.Sync(context.Background(), plan, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		if res.Level.Type == grid.OrderTypeLimit {
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "ceiling")
		} else {
			assert.True(t, res.Success)
		}
	}
}

// 同一批次内身份重复的档位只提交一次。
func TestSyncDeduplicatesIdentities(t *testing.T) {
	trading := &fakeTrading{}
	rec := order.NewReconciler(trading, nil, nil)

	plan := testPlan(
		[]grid.Level{limitLevel(grid.SideBuy, "100", "1"), limitLevel(grid.SideBuy, "100", "2")},
		nil,
	)
	results, err := rec.Sync(context.Background(), plan, baseConfig())
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, trading.createdRequests(), 1)
}
