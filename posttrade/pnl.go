// Package posttrade 汇总历史成交，输出已实现盈亏报告。
package posttrade

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// PageLimit 单页最大成交数；不足一页即为最后一页。
	PageLimit = 1000
	// MaxPages 翻页安全上限，防止游标异常导致拉取失控。
	MaxPages = 50
)

// Trade 单笔成交；网关边界已完成解析。
type Trade struct {
	ID          int64
	Symbol      string
	RealizedPnl decimal.Decimal
	Time        int64 // 毫秒时间戳
}

// TradeQuery 按 fromId 游标分页查询成交历史；时间窗口随每页透传。
type TradeQuery struct {
	Symbol    string
	Market    string
	FromID    *int64
	StartTime *int64
	EndTime   *int64
	Limit     int
}

// TradeSource 提供成交历史；由 gateway.Client 实现。
type TradeSource interface {
	UserTrades(ctx context.Context, q TradeQuery) ([]Trade, error)
}

// Report 已实现盈亏汇总；时间边界取成交时间戳的最小/最大值。
type Report struct {
	Total      decimal.Decimal
	TradeCount int
	StartTime  *int64
	EndTime    *int64
}

// Aggregator 分页拉取成交并累加 realizedPnl。
type Aggregator struct {
	source TradeSource
	market string
}

func NewAggregator(source TradeSource, market string) *Aggregator {
	return &Aggregator{source: source, market: market}
}

// RealizedPnL 逐页拉取指定时间窗口内的成交（游标推进到 lastTradeId+1），
// 页不满 PageLimit 或达到 MaxPages 时停止。
func (a *Aggregator) RealizedPnL(ctx context.Context, symbol string, startTime, endTime *int64) (*Report, error) {
	report := &Report{Total: decimal.Zero}
	var cursor *int64

	for page := 0; page < MaxPages; page++ {
		trades, err := a.source.UserTrades(ctx, TradeQuery{
			Symbol:    symbol,
			Market:    a.market,
			FromID:    cursor,
			StartTime: startTime,
			EndTime:   endTime,
			Limit:     PageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch trades page %d: %w", page+1, err)
		}
		if len(trades) == 0 {
			break
		}

		for _, tr := range trades {
			report.Total = report.Total.Add(tr.RealizedPnl)
			report.TradeCount++
			if report.StartTime == nil || tr.Time < *report.StartTime {
				ts := tr.Time
				report.StartTime = &ts
			}
			if report.EndTime == nil || tr.Time > *report.EndTime {
				ts := tr.Time
				report.EndTime = &ts
			}
		}

		if len(trades) < PageLimit {
			break
		}
		next := trades[len(trades)-1].ID + 1
		cursor = &next
	}
	return report, nil
}
