package grid

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
)

var (
	// ErrInvalidBounds 上界必须严格大于下界。
	ErrInvalidBounds = errors.New("upper bound must be greater than lower bound")
	// ErrDegenerateGrid 网格价格与现价完全重合，无法拆分买卖档位。
	ErrDegenerateGrid = errors.New("grid prices coincide with current price")
)

var one = decimal.NewFromInt(1)

// 趋势资金分配比例：看多 65/35，看空 40/60，震荡 50/50。
var (
	bullishBuyRatio  = decimal.RequireFromString("0.65")
	bullishSellRatio = decimal.RequireFromString("0.35")
	bearishBuyRatio  = decimal.RequireFromString("0.4")
	bearishSellRatio = decimal.RequireFromString("0.6")
	neutralRatio     = decimal.RequireFromString("0.5")
)

// PlanRequest 一次规划的全部输入。
type PlanRequest struct {
	LowerBound    decimal.Decimal
	UpperBound    decimal.Decimal
	CurrentPrice  decimal.Decimal
	GridCount     int
	Investment    decimal.Decimal
	Leverage      decimal.Decimal
	Trend         market.TrendSignal
	Filters       SymbolFilters
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}

// Planner 将价格区间、现价与资金转换为量化后的网格计划。
type Planner struct{}

// Build 构建网格计划。失败条件：上界不大于下界、grid_count < 2、
// 买卖档位同时为空（网格与现价完全重合）。
func (Planner) Build(req PlanRequest) (*Plan, error) {
	prices, err := GridPrices(req.LowerBound, req.UpperBound, req.GridCount)
	if err != nil {
		return nil, err
	}

	var buyPrices, sellPrices []decimal.Decimal
	for _, p := range prices {
		switch {
		case p.LessThan(req.CurrentPrice):
			buyPrices = append(buyPrices, p)
		case p.GreaterThan(req.CurrentPrice):
			sellPrices = append(sellPrices, p)
		}
	}
	if len(buyPrices) == 0 && len(sellPrices) == 0 {
		return nil, ErrDegenerateGrid
	}

	capital := req.Investment.Mul(req.Leverage)
	buyRatio, sellRatio := allocationByTrend(req.Trend.Direction)
	if len(buyPrices) == 0 {
		buyRatio, sellRatio = decimal.Zero, one
	}
	if len(sellPrices) == 0 {
		buyRatio, sellRatio = one, decimal.Zero
	}
	total := buyRatio.Add(sellRatio)
	if total.IsZero() {
		return nil, errors.New("capital allocation ratio is zero")
	}
	buyBudget := capital.Mul(buyRatio.Div(total))
	sellBudget := capital.Mul(sellRatio.Div(total))

	buyLevels := buildLevels(buyPrices, SideBuy, buyBudget, req.Filters)
	sellLevels := buildLevels(sellPrices, SideSell, sellBudget, req.Filters)

	takeProfit := buildProtectiveLevel(
		SideSell,
		req.UpperBound.Mul(one.Add(req.TakeProfitPct)),
		sumQuantities(buyLevels),
		req.Filters,
	)
	stopLoss := buildProtectiveLevel(
		SideBuy,
		req.LowerBound.Mul(one.Sub(req.StopLossPct)),
		sumQuantities(sellLevels),
		req.Filters,
	)

	return &Plan{
		LowerBound:   req.LowerBound,
		UpperBound:   req.UpperBound,
		CurrentPrice: req.CurrentPrice,
		Trend:        req.Trend,
		BuyLevels:    buyLevels,
		SellLevels:   sellLevels,
		TakeProfit:   takeProfit,
		StopLoss:     stopLoss,
	}, nil
}

// GridPrices 在 [lower, upper] 上等距生成 count 个价格，两端点精确包含。
func GridPrices(lower, upper decimal.Decimal, count int) ([]decimal.Decimal, error) {
	if upper.LessThanOrEqual(lower) {
		return nil, fmt.Errorf("%w: [%s, %s]", ErrInvalidBounds, lower, upper)
	}
	if count < 2 {
		return nil, fmt.Errorf("grid count must be at least 2, got %d", count)
	}
	if count == 2 {
		return []decimal.Decimal{lower, upper}, nil
	}
	step := upper.Sub(lower).Div(decimal.NewFromInt(int64(count - 1)))
	prices := make([]decimal.Decimal, 0, count)
	for i := 0; i < count-1; i++ {
		prices = append(prices, lower.Add(step.Mul(decimal.NewFromInt(int64(i)))))
	}
	// 除法存在精度截断，末位直接取上界避免漂移。
	prices = append(prices, upper)
	return prices, nil
}

func allocationByTrend(direction market.TrendDirection) (buy, sell decimal.Decimal) {
	switch direction {
	case market.TrendBullish:
		return bullishBuyRatio, bullishSellRatio
	case market.TrendBearish:
		return bearishBuyRatio, bearishSellRatio
	default:
		return neutralRatio, neutralRatio
	}
}

// buildLevels 在一侧的预算内逐价建档：价格/数量向零截断到 tick/step，
// 低于 minQty 或 minNotional 的档位丢弃。卖侧自现价向外（价格升序前的
// 降序排列），买侧升序。
func buildLevels(prices []decimal.Decimal, side Side, budget decimal.Decimal, filters SymbolFilters) []Level {
	if len(prices) == 0 || budget.Sign() <= 0 {
		return nil
	}
	perLevel := budget.Div(decimal.NewFromInt(int64(len(prices))))

	ordered := make([]decimal.Decimal, len(prices))
	copy(ordered, prices)
	sort.SliceStable(ordered, func(i, j int) bool {
		if side == SideSell {
			return ordered[i].GreaterThan(ordered[j])
		}
		return ordered[i].LessThan(ordered[j])
	})

	levels := make([]Level, 0, len(ordered))
	for _, price := range ordered {
		quantizedPrice := Quantize(price, filters.TickSize)
		if quantizedPrice.Sign() <= 0 {
			continue
		}
		quantity := Quantize(perLevel.Div(quantizedPrice), filters.StepSize)
		if quantity.Sign() <= 0 {
			continue
		}
		if err := filters.CheckLevel(quantizedPrice, quantity); err != nil {
			continue
		}
		levels = append(levels, Level{
			Price:    quantizedPrice,
			Side:     side,
			Quantity: quantity,
			Notional: quantity.Mul(quantizedPrice),
			Type:     OrderTypeLimit,
		})
	}
	return levels
}

// buildProtectiveLevel 构建止盈/止损档位；数量来自对侧档位数量之和，
// 不满足 minQty/minNotional 时返回 nil。
func buildProtectiveLevel(side Side, price, quantity decimal.Decimal, filters SymbolFilters) *Level {
	if quantity.Sign() <= 0 || price.Sign() <= 0 {
		return nil
	}
	quantizedPrice := Quantize(price, filters.TickSize)
	quantizedQty := Quantize(quantity, filters.StepSize)
	if quantizedQty.Sign() <= 0 {
		return nil
	}
	if err := filters.CheckLevel(quantizedPrice, quantizedQty); err != nil {
		return nil
	}
	stop := quantizedPrice
	return &Level{
		Price:     quantizedPrice,
		Side:      side,
		Quantity:  quantizedQty,
		Notional:  quantizedQty.Mul(quantizedPrice),
		Type:      OrderTypeTakeProfitMarket,
		StopPrice: &stop,
	}
}

func sumQuantities(levels []Level) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Quantity)
	}
	return total
}
