package grid

import "github.com/shopspring/decimal"

// Quantize 将 value 向零截断到 step 的整数倍；step 非正时原样返回。
// 截断是幂等的：已对齐的值再次截断不变。
func Quantize(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	return q.Mul(step)
}
