// Package order 负责把网格计划与交易所在途订单对账，并提交缺失档位。
package order

import (
	"context"

	"github.com/shopspring/decimal"

	"grid-trader-go/grid"
)

// OrderRequest 下单请求；可选字段为 nil 时不出现在签名参数中。
type OrderRequest struct {
	Symbol       string
	Side         grid.Side
	Type         grid.OrderType
	Quantity     decimal.Decimal
	Price        *decimal.Decimal // 仅 LIMIT
	StopPrice    *decimal.Decimal // 仅市价触发类型
	TimeInForce  string
	PositionSide string
	ReduceOnly   bool
	GoodTillDate int64 // 毫秒时间戳；仅 timeInForce=GTD 时使用
	Market       string
}

// OrderAck 交易所下单回执。
type OrderAck struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// OpenOrder 在途订单；Price/StopPrice 在网关边界解析，空串或零值归一为 nil。
type OpenOrder struct {
	OrderID    int64
	Symbol     string
	Side       grid.Side
	Type       grid.OrderType
	Price      *decimal.Decimal
	StopPrice  *decimal.Decimal
	OrigQty    decimal.Decimal
	ReduceOnly bool
	Status     string
}

// Identity 计算在途订单的对账身份，与 grid.Level.Identity 同构。
func (o OpenOrder) Identity() grid.Identity {
	id := grid.Identity{Side: o.Side, Type: o.Type}
	if o.Price != nil {
		id.Price = o.Price.String()
	}
	if o.StopPrice != nil {
		id.Stop = o.StopPrice.String()
	}
	return id
}

// TradingService 签名接口（下单/查询在途订单）；由 gateway.Client 实现。
type TradingService interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	OpenOrders(ctx context.Context, symbol, market string) ([]OpenOrder, error)
}

// BookTicker 最优买卖价快照。
type BookTicker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// BookSource 提供盘口快照；获取失败时对账器放行（fail-open）。
type BookSource interface {
	BookTicker(ctx context.Context, symbol, market string) (*BookTicker, error)
}
