package posttrade

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// pagedSource 按 fromId 游标返回预置分页。
type pagedSource struct {
	pages   [][]Trade
	queries []TradeQuery
}

func (s *pagedSource) UserTrades(_ context.Context, q TradeQuery) ([]Trade, error) {
	s.queries = append(s.queries, q)
	idx := len(s.queries) - 1
	if idx >= len(s.pages) {
		return nil, nil
	}
	return s.pages[idx], nil
}

func makePage(startID int64, count int, pnl string) []Trade {
	page := make([]Trade, count)
	for i := range page {
		page[i] = Trade{
			ID:          startID + int64(i),
			Symbol:      "BTCUSDT",
			RealizedPnl: decimal.RequireFromString(pnl),
			Time:        1_700_000_000_000 + startID + int64(i),
		}
	}
	return page
}

// 两页 1000+400：第二页不满即停止，不再发起第三次请求。
func TestRealizedPnLStopsOnShortPage(t *testing.T) {
	src := &pagedSource{pages: [][]Trade{
		makePage(1, PageLimit, "0.5"),
		makePage(1001, 400, "-0.25"),
	}}
	agg := NewAggregator(src, "usdt")

	report, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil)
	if err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if len(src.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(src.queries))
	}
	if report.TradeCount != 1400 {
		t.Fatalf("trade count = %d, want 1400", report.TradeCount)
	}
	// 1000*0.5 + 400*(-0.25) = 400
	if !report.Total.Equal(decimal.RequireFromString("400")) {
		t.Fatalf("total = %s, want 400", report.Total)
	}
}

// 游标推进到上一页末笔 ID + 1。
func TestRealizedPnLCursorAdvances(t *testing.T) {
	src := &pagedSource{pages: [][]Trade{
		makePage(1, PageLimit, "1"),
		makePage(1001, 1, "1"),
	}}
	agg := NewAggregator(src, "usdt")

	if _, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil); err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if src.queries[0].FromID != nil {
		t.Fatalf("first page fromId = %v, want nil", *src.queries[0].FromID)
	}
	if src.queries[1].FromID == nil || *src.queries[1].FromID != 1001 {
		t.Fatalf("second page fromId = %v, want 1001", src.queries[1].FromID)
	}
}

func TestRealizedPnLMaxPages(t *testing.T) {
	pages := make([][]Trade, MaxPages+5)
	for i := range pages {
		pages[i] = makePage(int64(i*PageLimit+1), PageLimit, "1")
	}
	agg := NewAggregator(&pagedSource{pages: pages}, "usdt")

	report, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil)
	if err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if report.TradeCount != MaxPages*PageLimit {
		t.Fatalf("trade count = %d, want %d", report.TradeCount, MaxPages*PageLimit)
	}
}

func TestRealizedPnLTimeBounds(t *testing.T) {
	src := &pagedSource{pages: [][]Trade{{
		{ID: 7, RealizedPnl: decimal.Zero, Time: 3000},
		{ID: 8, RealizedPnl: decimal.Zero, Time: 1000},
		{ID: 9, RealizedPnl: decimal.Zero, Time: 2000},
	}}}
	agg := NewAggregator(src, "usdt")

	report, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil)
	if err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if report.StartTime == nil || *report.StartTime != 1000 {
		t.Fatalf("start = %v, want 1000", report.StartTime)
	}
	if report.EndTime == nil || *report.EndTime != 3000 {
		t.Fatalf("end = %v, want 3000", report.EndTime)
	}
}

func TestRealizedPnLEmptyHistory(t *testing.T) {
	agg := NewAggregator(&pagedSource{}, "usdt")
	report, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil)
	if err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if report.TradeCount != 0 || !report.Total.IsZero() || report.StartTime != nil || report.EndTime != nil {
		t.Fatalf("unexpected report for empty history: %+v", report)
	}
}

type failingSource struct{}

func (failingSource) UserTrades(context.Context, TradeQuery) ([]Trade, error) {
	return nil, errors.New("rate limited")
}

func TestRealizedPnLSourceError(t *testing.T) {
	agg := NewAggregator(failingSource{}, "usdt")
	if _, err := agg.RealizedPnL(context.Background(), "BTCUSDT", nil, nil); err == nil {
		t.Fatal("expected error when trade source fails")
	}
}
