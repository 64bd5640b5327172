// Package grid 负责把价格区间与资金转换为量化后的网格订单计划。
package grid

import (
	"github.com/shopspring/decimal"
)

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 下单类型；保护性档位使用市价触发类型。
type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsMarketTriggered 判断订单类型是否为市价触发（携带 stopPrice 而非挂单价）。
func (t OrderType) IsMarketTriggered() bool {
	switch t {
	case OrderTypeMarket, OrderTypeTakeProfitMarket:
		return true
	default:
		return false
	}
}

// Level 网格中的一个意向订单；构建完成后不可修改。
type Level struct {
	Price     decimal.Decimal
	Side      Side
	Quantity  decimal.Decimal
	Notional  decimal.Decimal
	Type      OrderType
	StopPrice *decimal.Decimal // 仅市价触发类型使用
}

// Identity 对账身份：desired 档位与在途订单以该四元组判等。
// 价格字段用规范化十进制字符串表示，空串表示缺省。
type Identity struct {
	Side  Side
	Type  OrderType
	Price string
	Stop  string
}

// Identity 计算档位的对账身份：LIMIT 用挂单价，市价触发类型用 stopPrice
// （缺省时退回 price），另一侧置空。
func (l Level) Identity() Identity {
	typ := l.Type
	if typ == "" {
		typ = OrderTypeLimit
	}
	id := Identity{Side: l.Side, Type: typ}
	if typ == OrderTypeLimit {
		id.Price = l.Price.String()
		return id
	}
	if l.StopPrice != nil {
		id.Stop = l.StopPrice.String()
	} else {
		id.Stop = l.Price.String()
	}
	return id
}
