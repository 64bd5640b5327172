package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/grid"
)

const (
	// submitConcurrency 提交工作池上限；档位之间相互独立，并发只为压缩时延。
	submitConcurrency = 10

	gtdDefaultSeconds = 3600
	gtdMinSeconds     = 600
	// gtdCeilingMillis 交易所允许的绝对时间戳上限（9999-12-31T23:59:59Z）。
	gtdCeilingMillis = 253402300799000
)

// SubmitConfig 一次对账批次的提交参数。
type SubmitConfig struct {
	Symbol       string
	Market       string
	TimeInForce  string
	PositionSide string
	ReduceOnly   bool
	GTDSeconds   int64 // 0 取默认 3600，低于 600 抬升到 600
}

// Reconciler 订单对账器：对比期望档位与在途订单，只补缺失、不撤单不改单，
// 因此同一计划重复对账是幂等的。
type Reconciler struct {
	trading TradingService
	book    BookSource
	log     *zap.Logger

	now func() time.Time // 测试注入
}

func NewReconciler(trading TradingService, book BookSource, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		trading: trading,
		book:    book,
		log:     log,
		now:     time.Now,
	}
}

// SetNow 覆盖时间源，仅测试使用。
func (r *Reconciler) SetNow(now func() time.Time) {
	r.now = now
}

// Sync 执行一次对账：取在途订单 → 身份差集 → 盘口守卫 → 并发提交。
// 返回缺失档位的逐档结果；取在途订单失败属于周期级数据错误，直接返回。
func (r *Reconciler) Sync(ctx context.Context, plan *grid.Plan, cfg SubmitConfig) ([]ExecutionResult, error) {
	live, err := r.trading.OpenOrders(ctx, cfg.Symbol, cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}

	liveSet := make(map[grid.Identity]struct{}, len(live))
	for _, o := range live {
		liveSet[o.Identity()] = struct{}{}
	}

	missing := r.diff(plan.ActiveLevels(), liveSet)
	if len(missing) == 0 {
		return nil, nil
	}

	// 盘口快照批内共享；拿不到就放行，避免行情抖动阻塞整批。
	book := r.snapshotBook(ctx, cfg)

	gtd, gtdErr := r.batchExpiry(cfg)

	results := make([]ExecutionResult, len(missing))
	var wg sync.WaitGroup
	sem := make(chan struct{}, submitConcurrency)
	for i, lvl := range missing {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, lvl grid.Level) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.submitLevel(ctx, lvl, cfg, book, gtd, gtdErr)
		}(i, lvl)
	}
	wg.Wait()
	return results, nil
}

// diff 过滤已有在途对应的档位，同时去除批内身份重复。
func (r *Reconciler) diff(desired []grid.Level, live map[grid.Identity]struct{}) []grid.Level {
	seen := make(map[grid.Identity]struct{}, len(desired))
	missing := make([]grid.Level, 0, len(desired))
	for _, lvl := range desired {
		id := lvl.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := live[id]; ok {
			continue
		}
		missing = append(missing, lvl)
	}
	return missing
}

func (r *Reconciler) snapshotBook(ctx context.Context, cfg SubmitConfig) *BookTicker {
	if r.book == nil {
		return nil
	}
	bt, err := r.book.BookTicker(ctx, cfg.Symbol, cfg.Market)
	if err != nil {
		r.log.Warn("book ticker unavailable, crossing guard skipped",
			zap.String("symbol", cfg.Symbol), zap.Error(err))
		return nil
	}
	return bt
}

// batchExpiry 计算整批共享的 GTD 到期时间（毫秒）。超出交易所绝对上限时
// 返回局部错误，仅作用于受影响的 LIMIT 档位。
func (r *Reconciler) batchExpiry(cfg SubmitConfig) (int64, error) {
	if cfg.TimeInForce != "GTD" {
		return 0, nil
	}
	secs := cfg.GTDSeconds
	if secs <= 0 {
		secs = gtdDefaultSeconds
	}
	if secs < gtdMinSeconds {
		secs = gtdMinSeconds
	}
	// 交易所只保留秒级精度，按整秒计算再转毫秒
	expiry := (r.now().Unix() + secs) * 1000
	if expiry >= gtdCeilingMillis {
		return 0, fmt.Errorf("goodTillDate %d exceeds venue ceiling %d", expiry, gtdCeilingMillis)
	}
	return expiry, nil
}

// submitLevel 提交单个档位；任何失败只落到本档结果，不影响兄弟档位。
func (r *Reconciler) submitLevel(ctx context.Context, lvl grid.Level, cfg SubmitConfig, book *BookTicker, gtd int64, gtdErr error) ExecutionResult {
	res := ExecutionResult{Level: lvl}

	if lvl.Type == grid.OrderTypeLimit && book != nil {
		if reason := crossesBook(lvl, book); reason != "" {
			res.Skipped = true
			res.Error = reason
			r.log.Info("level skipped by crossing guard",
				zap.String("symbol", cfg.Symbol),
				zap.String("side", string(lvl.Side)),
				zap.String("price", lvl.Price.String()),
				zap.String("reason", reason))
			return res
		}
	}

	req := OrderRequest{
		Symbol:       cfg.Symbol,
		Side:         lvl.Side,
		Type:         lvl.Type,
		Quantity:     lvl.Quantity,
		PositionSide: cfg.PositionSide,
		ReduceOnly:   cfg.ReduceOnly,
		Market:       cfg.Market,
	}
	if lvl.Type == grid.OrderTypeLimit {
		price := lvl.Price
		req.Price = &price
		req.TimeInForce = cfg.TimeInForce
		if cfg.TimeInForce == "GTD" {
			if gtdErr != nil {
				res.Error = gtdErr.Error()
				return res
			}
			req.GoodTillDate = gtd
		}
	} else {
		stop := lvl.Price
		if lvl.StopPrice != nil {
			stop = *lvl.StopPrice
		}
		req.StopPrice = &stop
	}

	ack, err := r.trading.CreateOrder(ctx, req)
	if err != nil {
		res.Error = err.Error()
		r.log.Warn("order submission failed",
			zap.String("symbol", cfg.Symbol),
			zap.String("side", string(lvl.Side)),
			zap.String("type", string(lvl.Type)),
			zap.Error(err))
		return res
	}
	res.Success = true
	res.Response = ack
	return res
}

// crossesBook 返回非空原因表示该 LIMIT 档会立即吃单。
func crossesBook(lvl grid.Level, book *BookTicker) string {
	switch lvl.Side {
	case grid.SideBuy:
		if book.Ask.Sign() > 0 && lvl.Price.GreaterThanOrEqual(book.Ask) {
			return fmt.Sprintf("buy %s would cross best ask %s", lvl.Price, book.Ask)
		}
	case grid.SideSell:
		if book.Bid.Sign() > 0 && lvl.Price.LessThanOrEqual(book.Bid) {
			return fmt.Sprintf("sell %s would cross best bid %s", lvl.Price, book.Bid)
		}
	}
	return ""
}
