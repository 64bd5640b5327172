package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TrendDirection 长周期趋势方向。
type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// TrendSignal 每轮重新计算的趋势信号，构建后不再修改。
type TrendSignal struct {
	Direction TrendDirection
	Slope     decimal.Decimal
	Strength  decimal.Decimal
}

// trendThreshold 方向判定阈值；两侧均为开区间，恰好等于阈值时视为震荡。
// 固定设计常量，不开放配置。
var trendThreshold = decimal.RequireFromString("0.0015")

// TrendDetector 对收盘价做最小二乘回归并按斜率强度分类。
type TrendDetector struct{}

// Detect 需要至少 3 根K线；strength = slope / mean(closes)。
func (TrendDetector) Detect(klines []Kline) (TrendSignal, error) {
	closes := make([]decimal.Decimal, 0, len(klines))
	for _, k := range klines {
		closes = append(closes, k.Close)
	}
	if len(closes) < 3 {
		return TrendSignal{}, fmt.Errorf("%w: need at least 3 closes, got %d", ErrInsufficientData, len(closes))
	}

	slope, strength := linearRegression(closes)
	direction := TrendSideways
	if strength.GreaterThan(trendThreshold) {
		direction = TrendBullish
	} else if strength.LessThan(trendThreshold.Neg()) {
		direction = TrendBearish
	}
	return TrendSignal{Direction: direction, Slope: slope, Strength: strength}, nil
}

// linearRegression 以序号为 x 轴做一元回归，返回斜率与归一化强度。
func linearRegression(prices []decimal.Decimal) (slope, strength decimal.Decimal) {
	n := int64(len(prices))
	two := decimal.NewFromInt(2)
	xMean := decimal.NewFromInt(n - 1).Div(two)

	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	yMean := sum.Div(decimal.NewFromInt(n))

	numerator := decimal.Zero
	denominator := decimal.Zero
	for i, p := range prices {
		dx := decimal.NewFromInt(int64(i)).Sub(xMean)
		numerator = numerator.Add(dx.Mul(p.Sub(yMean)))
		denominator = denominator.Add(dx.Mul(dx))
	}
	if denominator.IsZero() {
		denominator = decimal.NewFromInt(1)
	}
	slope = numerator.Div(denominator)
	if yMean.IsZero() {
		return slope, decimal.Zero
	}
	return slope, slope.Div(yMean)
}
