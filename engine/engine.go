// Package engine 按周期驱动 取数 → 规划 → 对账 的完整流程。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/config"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
	"grid-trader-go/risk"
)

const (
	// maxAttempts 周期内瞬态数据错误的重试次数上限。
	maxAttempts = 3
	// defaultBackoff 线性退避基数：第 n 次失败后等待 n*defaultBackoff。
	defaultBackoff = 2 * time.Second
)

// ErrInvalidConfig 配置校验失败；立即失败，不重试。
var ErrInvalidConfig = errors.New("invalid grid config")

// PriceSource 现价查询。
type PriceSource interface {
	PriceTicker(ctx context.Context, symbol, market string) (decimal.Decimal, error)
}

// FilterSource 交易规则查询。
type FilterSource interface {
	SymbolFilters(ctx context.Context, symbol, market string) (grid.SymbolFilters, error)
}

// Syncer 订单对账；对同一计划重复调用是幂等的，因此整个周期可以安全重试。
type Syncer interface {
	Sync(ctx context.Context, plan *grid.Plan, cfg order.SubmitConfig) ([]order.ExecutionResult, error)
}

// Components 引擎依赖组件
type Components struct {
	Cache      *market.SeriesCache
	Trend      market.TrendDetector
	Bounds     market.BoundsCalculator
	Planner    grid.Planner
	Prices     PriceSource
	Filters    FilterSource
	Reconciler Syncer
	Guard      risk.Guard          // 可为 nil
	Margin     *risk.MarginGuard   // 可为 nil，仅用于占用上报
	Logger     *logger.Logger
	Metrics    *metrics.Collector // 可为 nil
}

// Engine 网格交易引擎：单线程控制循环，一轮跑完才开始下一轮。
type Engine struct {
	cache      *market.SeriesCache
	trend      market.TrendDetector
	bounds     market.BoundsCalculator
	planner    grid.Planner
	prices     PriceSource
	filters    FilterSource
	reconciler Syncer
	guard      risk.Guard
	margin     *risk.MarginGuard
	logger     *logger.Logger
	metrics    *metrics.Collector

	backoff time.Duration
	sleep   func(time.Duration) // 测试注入
}

// New 创建引擎并校验依赖。
func New(c Components) (*Engine, error) {
	if c.Cache == nil {
		return nil, errors.New("engine: series cache is required")
	}
	if c.Prices == nil {
		return nil, errors.New("engine: price source is required")
	}
	if c.Filters == nil {
		return nil, errors.New("engine: filter source is required")
	}
	if c.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	return &Engine{
		cache:      c.Cache,
		trend:      c.Trend,
		bounds:     c.Bounds,
		planner:    c.Planner,
		prices:     c.Prices,
		filters:    c.Filters,
		reconciler: c.Reconciler,
		guard:      c.Guard,
		margin:     c.Margin,
		logger:     c.Logger,
		metrics:    c.Metrics,
		backoff:    defaultBackoff,
		sleep:      time.Sleep,
	}, nil
}

// SetBackoff 覆盖重试退避基数，仅测试使用。
func (e *Engine) SetBackoff(d time.Duration) {
	e.backoff = d
	if d == 0 {
		e.sleep = func(time.Duration) {}
	}
}

// CycleResult 一轮周期的完整产出。
type CycleResult struct {
	Plan         *grid.Plan
	CurrentPrice decimal.Decimal
	Executions   []order.ExecutionResult
	MarginPaused bool // 保证金占用超限，本轮不提交新订单
}

// RunCycle 执行一轮：配置立即校验，瞬态数据错误线性退避重试。
func (e *Engine) RunCycle(ctx context.Context, cfg config.GridConfig) (*CycleResult, error) {
	if err := validateGrid(cfg); err != nil {
		return nil, err
	}
	if cfg.PlaceOrders && e.reconciler == nil {
		return nil, fmt.Errorf("%w: placeOrders=true requires a reconciler", ErrInvalidConfig)
	}

	started := time.Now()
	var result *CycleResult
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = e.cycleOnce(ctx, cfg)
		if err == nil {
			break
		}
		if errors.Is(err, ErrInvalidConfig) || ctx.Err() != nil {
			break
		}
		e.logger.LogCycle("cycle_retry", map[string]interface{}{
			"symbol":  cfg.Symbol,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt < maxAttempts {
			e.sleep(time.Duration(attempt) * e.backoff)
		}
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.CycleFailed()
		}
		return nil, fmt.Errorf("cycle failed after %d attempts: %w", maxAttempts, err)
	}

	e.report(ctx, cfg, result, time.Since(started))
	return result, nil
}

func (e *Engine) cycleOnce(ctx context.Context, cfg config.GridConfig) (*CycleResult, error) {
	longKlines, err := e.cache.Fetch(ctx, market.KlineQuery{
		Symbol: cfg.Symbol, Interval: cfg.LongInterval, Limit: cfg.LongLimit, Market: cfg.Market,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s klines: %w", cfg.LongInterval, err)
	}
	shortKlines, err := e.cache.Fetch(ctx, market.KlineQuery{
		Symbol: cfg.Symbol, Interval: cfg.ShortInterval, Limit: cfg.ShortLimit, Market: cfg.Market,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s klines: %w", cfg.ShortInterval, err)
	}

	trend, err := e.trend.Detect(longKlines)
	if err != nil {
		return nil, fmt.Errorf("detect trend: %w", err)
	}
	lower, upper, err := e.bounds.Derive(shortKlines, trend)
	if err != nil {
		return nil, fmt.Errorf("derive bounds: %w", err)
	}

	// ticker 拿不到时退回最近一根短周期收盘价
	current, err := e.prices.PriceTicker(ctx, cfg.Symbol, cfg.Market)
	if err != nil {
		current = shortKlines[len(shortKlines)-1].Close
		e.logger.LogCycle("price_ticker_fallback", map[string]interface{}{
			"symbol": cfg.Symbol,
			"error":  err.Error(),
			"close":  current.String(),
		})
	}

	filters, err := e.filters.SymbolFilters(ctx, cfg.Symbol, cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("fetch symbol filters: %w", err)
	}
	if filters, err = applyPrecisionOverrides(filters, cfg); err != nil {
		return nil, err
	}

	plan, err := e.planner.Build(grid.PlanRequest{
		LowerBound:    lower,
		UpperBound:    upper,
		CurrentPrice:  current,
		GridCount:     cfg.GridCount,
		Investment:    decimal.NewFromFloat(cfg.TotalInvestment),
		Leverage:      decimal.NewFromInt(int64(cfg.Leverage)),
		Trend:         trend,
		Filters:       filters,
		TakeProfitPct: decimal.NewFromFloat(cfg.TakeProfitPct),
		StopLossPct:   decimal.NewFromFloat(cfg.StopLossPct),
	})
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	result := &CycleResult{Plan: plan, CurrentPrice: current}
	if !cfg.PlaceOrders {
		return result, nil
	}

	if e.guard != nil {
		if err := e.guard.PreSubmit(ctx, cfg.Symbol); err != nil {
			if errors.Is(err, risk.ErrMarginExceeded) {
				// 暂停而非失败：在途订单保持不动
				result.MarginPaused = true
				e.logger.LogRisk("margin_paused", map[string]interface{}{
					"symbol": cfg.Symbol,
					"detail": err.Error(),
				})
				return result, nil
			}
			return nil, fmt.Errorf("risk guard: %w", err)
		}
	}

	executions, err := e.reconciler.Sync(ctx, plan, order.SubmitConfig{
		Symbol:       cfg.Symbol,
		Market:       cfg.Market,
		TimeInForce:  cfg.TimeInForce,
		PositionSide: cfg.PositionSide,
		ReduceOnly:   cfg.ReduceOnly,
		GTDSeconds:   cfg.GTDSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile orders: %w", err)
	}
	result.Executions = executions
	return result, nil
}

// report 上报指标并记录逐档结果。
func (e *Engine) report(ctx context.Context, cfg config.GridConfig, result *CycleResult, elapsed time.Duration) {
	planLevels := len(result.Plan.AllLevels())
	if e.metrics != nil {
		e.metrics.CycleCompleted(elapsed.Seconds())
		e.metrics.SetCurrentPrice(result.CurrentPrice.InexactFloat64())
		e.metrics.SetPlanLevels(planLevels)
		for _, exec := range result.Executions {
			switch {
			case exec.Success:
				e.metrics.SubmissionResult("success")
			case exec.Skipped:
				e.metrics.SubmissionResult("skipped")
			default:
				e.metrics.SubmissionResult("failed")
			}
		}
	}
	if e.margin != nil {
		if used, err := e.margin.Usage(ctx, cfg.Symbol); err == nil && e.metrics != nil {
			e.metrics.SetMarginUsage(used.InexactFloat64())
		}
	}

	for _, exec := range result.Executions {
		fields := map[string]interface{}{
			"symbol": cfg.Symbol,
			"side":   string(exec.Level.Side),
			"type":   string(exec.Level.Type),
			"price":  exec.Level.Price.String(),
			"qty":    exec.Level.Quantity.String(),
		}
		switch {
		case exec.Success:
			e.logger.LogSubmission("submitted", fields)
		case exec.Skipped:
			fields["reason"] = exec.Error
			e.logger.LogSubmission("skipped", fields)
		default:
			fields["error"] = exec.Error
			e.logger.LogSubmission("failed", fields)
		}
	}

	e.logger.LogCycle("cycle_done", map[string]interface{}{
		"symbol":        cfg.Symbol,
		"trend":         string(result.Plan.Trend.Direction),
		"lower":         result.Plan.LowerBound.String(),
		"upper":         result.Plan.UpperBound.String(),
		"current":       result.CurrentPrice.String(),
		"plan_levels":   planLevels,
		"executions":    len(result.Executions),
		"margin_paused": result.MarginPaused,
		"elapsed_ms":    elapsed.Milliseconds(),
	})
}

// Run 连续模式：按固定间隔执行周期，单轮失败记录后继续。
// cfgFn 每轮取一次配置，热更新时下一轮即生效。
func (e *Engine) Run(ctx context.Context, cfgFn func() config.GridConfig, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cfg := cfgFn()
		if _, err := e.RunCycle(ctx, cfg); err != nil {
			if errors.Is(err, ErrInvalidConfig) {
				return err
			}
			e.logger.LogError(err, map[string]interface{}{"symbol": cfg.Symbol})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func validateGrid(cfg config.GridConfig) error {
	if cfg.GridCount < 2 {
		return fmt.Errorf("%w: gridCount %d must be >= 2", ErrInvalidConfig, cfg.GridCount)
	}
	if cfg.TotalInvestment <= 0 {
		return fmt.Errorf("%w: totalInvestment must be > 0", ErrInvalidConfig)
	}
	if cfg.Leverage <= 0 {
		return fmt.Errorf("%w: leverage must be > 0", ErrInvalidConfig)
	}
	return nil
}

// applyPrecisionOverrides 用配置覆盖 exchangeInfo 的量化步长。
func applyPrecisionOverrides(filters grid.SymbolFilters, cfg config.GridConfig) (grid.SymbolFilters, error) {
	if cfg.PricePrecision != "" {
		v, err := decimal.NewFromString(cfg.PricePrecision)
		if err != nil {
			return filters, fmt.Errorf("%w: pricePrecision %q", ErrInvalidConfig, cfg.PricePrecision)
		}
		filters.TickSize = v
	}
	if cfg.QuantityPrecision != "" {
		v, err := decimal.NewFromString(cfg.QuantityPrecision)
		if err != nil {
			return filters, fmt.Errorf("%w: quantityPrecision %q", ErrInvalidConfig, cfg.QuantityPrecision)
		}
		filters.StepSize = v
	}
	return filters, nil
}
