package grid

import (
	"sort"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
)

// ActiveLevelsPerSide 每轮激活的每侧档位数。原系统固定为 2 以约束敞口与
// 换手；更宽网格是否应激活更多档位待与策略归属方确认。
const ActiveLevelsPerSide = 2

// Plan 一轮规划的完整结果，构建后不再修改，周期结束即丢弃。
type Plan struct {
	LowerBound   decimal.Decimal
	UpperBound   decimal.Decimal
	CurrentPrice decimal.Decimal
	Trend        market.TrendSignal
	BuyLevels    []Level // 按价格升序
	SellLevels   []Level // 按价格降序
	TakeProfit   *Level
	StopLoss     *Level
}

// AllLevels 返回计划内全部档位（含保护性档位）。
func (p *Plan) AllLevels() []Level {
	levels := make([]Level, 0, len(p.BuyLevels)+len(p.SellLevels)+2)
	levels = append(levels, p.BuyLevels...)
	levels = append(levels, p.SellLevels...)
	if p.TakeProfit != nil {
		levels = append(levels, *p.TakeProfit)
	}
	if p.StopLoss != nil {
		levels = append(levels, *p.StopLoss)
	}
	return levels
}

// ActiveLevels 选取离现价最近的买/卖档位各 ActiveLevelsPerSide 个，
// 外加保护性档位。买侧取价格最高者，卖侧取价格最低者。
func (p *Plan) ActiveLevels() []Level {
	active := make([]Level, 0, ActiveLevelsPerSide*2+2)
	if len(p.BuyLevels) > 0 {
		buys := make([]Level, len(p.BuyLevels))
		copy(buys, p.BuyLevels)
		sort.SliceStable(buys, func(i, j int) bool {
			return buys[i].Price.GreaterThan(buys[j].Price)
		})
		active = append(active, takeN(buys, ActiveLevelsPerSide)...)
	}
	if len(p.SellLevels) > 0 {
		sells := make([]Level, len(p.SellLevels))
		copy(sells, p.SellLevels)
		sort.SliceStable(sells, func(i, j int) bool {
			return sells[i].Price.LessThan(sells[j].Price)
		})
		active = append(active, takeN(sells, ActiveLevelsPerSide)...)
	}
	if p.TakeProfit != nil {
		active = append(active, *p.TakeProfit)
	}
	if p.StopLoss != nil {
		active = append(active, *p.StopLoss)
	}
	return active
}

func takeN(levels []Level, n int) []Level {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}
