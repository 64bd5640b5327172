package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	one = decimal.NewFromInt(1)

	flatPaddingPct = decimal.RequireFromString("0.01") // 高低价重合时的对称填充
	minPaddingPct  = decimal.RequireFromString("0.01")
	maxPaddingPct  = decimal.RequireFromString("0.05")
	maxTrendBias   = decimal.RequireFromString("0.12")
	biasMultiplier = decimal.NewFromInt(12)
)

// BoundsCalculator 由短周期高低价推导网格区间，并按趋势做非对称偏移。
type BoundsCalculator struct{}

// Derive 返回 lower < upper 的价格区间。
// 填充比例取波动率一半并夹在 [1%, 5%]；趋势偏移 bias = min(12%, |strength|*12)，
// 看多加宽上界，看空下压下界，震荡不偏移。
func (BoundsCalculator) Derive(klines []Kline, trend TrendSignal) (lower, upper decimal.Decimal, err error) {
	if len(klines) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: short series missing highs/lows", ErrInsufficientData)
	}
	recentHigh := klines[0].High
	recentLow := klines[0].Low
	for _, k := range klines[1:] {
		if k.High.GreaterThan(recentHigh) {
			recentHigh = k.High
		}
		if k.Low.LessThan(recentLow) {
			recentLow = k.Low
		}
	}

	if recentHigh.Equal(recentLow) {
		padding := recentHigh.Mul(flatPaddingPct)
		if padding.IsZero() {
			padding = one
		}
		return recentLow.Sub(padding), recentHigh.Add(padding), nil
	}

	volatility := recentHigh.Sub(recentLow).Div(recentHigh)
	paddingPct := volatility.Div(decimal.NewFromInt(2))
	if paddingPct.LessThan(minPaddingPct) {
		paddingPct = minPaddingPct
	}
	if paddingPct.GreaterThan(maxPaddingPct) {
		paddingPct = maxPaddingPct
	}
	lower = recentLow.Mul(one.Sub(paddingPct))
	upper = recentHigh.Mul(one.Add(paddingPct))

	bias := trend.Strength.Abs().Mul(biasMultiplier)
	if bias.GreaterThan(maxTrendBias) {
		bias = maxTrendBias
	}
	switch trend.Direction {
	case TrendBullish:
		upper = upper.Mul(one.Add(bias))
	case TrendBearish:
		lower = lower.Mul(one.Sub(bias))
	}
	return lower, upper, nil
}
