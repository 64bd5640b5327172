package grid

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolFilters 交易所对交易对施加的量化规则（exchangeInfo PRICE_FILTER /
// LOT_SIZE / MIN_NOTIONAL），每轮由调用方获取。
type SymbolFilters struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional *decimal.Decimal
}

// Validate 校验规则本身合法。
func (f SymbolFilters) Validate() error {
	if f.TickSize.Sign() <= 0 {
		return fmt.Errorf("tickSize must be > 0, got %s", f.TickSize)
	}
	if f.StepSize.Sign() <= 0 {
		return fmt.Errorf("stepSize must be > 0, got %s", f.StepSize)
	}
	if f.MinQty.Sign() < 0 {
		return fmt.Errorf("minQty must be >= 0, got %s", f.MinQty)
	}
	return nil
}

// CheckLevel 校验一个档位是否满足数量与名义下限。
func (f SymbolFilters) CheckLevel(price, qty decimal.Decimal) error {
	if qty.LessThan(f.MinQty) {
		return fmt.Errorf("qty %s < minQty %s", qty, f.MinQty)
	}
	if f.MinNotional != nil {
		if notional := qty.Mul(price); notional.LessThan(*f.MinNotional) {
			return fmt.Errorf("notional %s < minNotional %s", notional, *f.MinNotional)
		}
	}
	return nil
}
