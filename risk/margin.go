package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMarginExceeded 保证金占用超过投入上限；属于暂停信号而非故障。
var ErrMarginExceeded = errors.New("margin usage exceeds limit")

// PositionRow 交易所持仓风险记录；网关边界已完成解析。
type PositionRow struct {
	Symbol                 string
	PositionAmt            decimal.Decimal
	EntryPrice             decimal.Decimal
	PositionInitialMargin  decimal.Decimal
	OpenOrderInitialMargin decimal.Decimal
}

// PositionSource 提供持仓风险记录；由 gateway.Client 实现。
type PositionSource interface {
	PositionRisk(ctx context.Context, symbol, market string) ([]PositionRow, error)
}

// MarginGuard 按 |持仓初始保证金| + |挂单初始保证金| 之和计算占用，
// 超过投入上限时拦截新提交；在途订单不动，只暂停不平仓。
type MarginGuard struct {
	source PositionSource
	market string
	limit  decimal.Decimal
}

func NewMarginGuard(source PositionSource, market string, limit decimal.Decimal) *MarginGuard {
	return &MarginGuard{source: source, market: market, limit: limit}
}

// Usage 返回当前保证金占用。
func (g *MarginGuard) Usage(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rows, err := g.source.PositionRisk(ctx, symbol, g.market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch position risk: %w", err)
	}
	used := decimal.Zero
	for _, row := range rows {
		if row.Symbol != "" && row.Symbol != symbol {
			continue
		}
		used = used.Add(row.PositionInitialMargin.Abs()).Add(row.OpenOrderInitialMargin.Abs())
	}
	return used, nil
}

func (g *MarginGuard) PreSubmit(ctx context.Context, symbol string) error {
	used, err := g.Usage(ctx, symbol)
	if err != nil {
		return err
	}
	if used.GreaterThan(g.limit) {
		return fmt.Errorf("%w: used %s limit %s", ErrMarginExceeded, used, g.limit)
	}
	return nil
}
