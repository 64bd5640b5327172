// Package risk 在提交前对保证金占用等约束做门禁检查。
package risk

import "context"

// Guard 是通用接口，保证金门禁等都可实现。
type Guard interface {
	PreSubmit(ctx context.Context, symbol string) error
}

// MultiGuard 顺序执行多个 Guard，只要有一个返回错误则中止。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreSubmit(ctx context.Context, symbol string) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreSubmit(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}
