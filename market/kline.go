// Package market 提供K线数据获取/缓存与趋势、区间推导。
package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData 上游返回的K线不足以计算趋势/网格。
var ErrInsufficientData = errors.New("insufficient kline data")

// Kline 单根K线。venue 返回的原始数组在 gateway 边界解析为该结构，
// 核心代码不接触未定型的 JSON。
type Kline struct {
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}

// KlineQuery 描述一次K线请求。StartTime/EndTime 为 nil 表示取最近 Limit 根。
type KlineQuery struct {
	Symbol    string
	Interval  string
	Limit     int
	Market    string // "usdt" 或 "coin"
	StartTime *int64 // 毫秒
	EndTime   *int64 // 毫秒
}

// KlineSource 行情协作方（由 gateway 实现）。
type KlineSource interface {
	Klines(ctx context.Context, q KlineQuery) ([]Kline, error)
}
