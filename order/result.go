package order

import "grid-trader-go/grid"

// ExecutionResult 单个档位的提交结果；每档一条，不做聚合。
// Skipped 表示守卫主动放弃（盘口穿越），与传输/校验失败区分。
type ExecutionResult struct {
	Level    grid.Level
	Success  bool
	Response *OrderAck
	Error    string
	Skipped  bool
}
