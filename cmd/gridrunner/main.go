package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/shopspring/decimal"

	"grid-trader-go/config"
	"grid-trader-go/engine"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
	"grid-trader-go/risk"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	once := flag.Bool("once", false, "只跑一轮后退出")
	dryRun := flag.Bool("dryRun", false, "仅出计划与日志，不真正下单")
	cancelAll := flag.Bool("cancel-all", false, "撤销该交易对全部挂单后退出")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置；留空用配置值")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *dryRun {
		cfg.Grid.PlaceOrders = false
	}

	appLog, err := logger.New(logger.Config{Level: "info", Outputs: []string{"stdout"}, Format: "json"})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLog.Close()

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.CoinBaseURL,
		cfg.Gateway.APIKey, cfg.Gateway.APISecret, nil)
	client.Limiter = gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *cancelAll {
		if err := client.CancelAllOrders(ctx, cfg.Grid.Symbol, cfg.Grid.Market); err != nil {
			log.Fatalf("撤销挂单失败: %v", err)
		}
		fmt.Printf("已撤销 %s 全部挂单\n", cfg.Grid.Symbol)
		return
	}

	collector := metrics.NewCollector("gridtrader")
	addr := cfg.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		collector.StartMetricsServer(addr)
	}

	if cfg.Grid.PlaceOrders {
		if err := client.SetLeverage(ctx, cfg.Grid.Symbol, cfg.Grid.Market, cfg.Grid.Leverage); err != nil {
			log.Fatalf("设置杠杆失败: %v", err)
		}
	}

	// 盘口快照：WS 断线自动重连，REST 兜底
	book := gateway.NewBookStream(cfg.Grid.Symbol, cfg.Grid.Market)
	go func() {
		for ctx.Err() == nil {
			if err := book.Run(ctx); err != nil && ctx.Err() == nil {
				appLog.LogError(err, map[string]interface{}{"component": "book_stream"})
				time.Sleep(5 * time.Second)
			}
		}
	}()

	marginGuard := risk.NewMarginGuard(client, cfg.Grid.Market,
		decimal.NewFromFloat(cfg.Grid.TotalInvestment))

	eng, err := engine.New(engine.Components{
		Cache:      market.NewSeriesCache(client),
		Prices:     client,
		Filters:    client,
		Reconciler: order.NewReconciler(client, &gateway.LiveBook{Stream: book, REST: client}, appLog.Logger),
		Guard:      risk.MultiGuard{Guards: []risk.Guard{marginGuard}},
		Margin:     marginGuard,
		Logger:     appLog,
		Metrics:    collector,
	})
	if err != nil {
		log.Fatalf("初始化引擎失败: %v", err)
	}

	notifySystemd(ctx)

	if *once {
		result, err := eng.RunCycle(ctx, cfg.Grid)
		if err != nil {
			log.Fatalf("周期执行失败: %v", err)
		}
		printSummary(result)
		return
	}

	// 配置热更新：可调参数改动在下一轮周期生效
	var cfgMu sync.Mutex
	gridCfg := cfg.Grid
	currentCfg := func() config.GridConfig {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return gridCfg
	}
	go func() {
		watcher := config.Watcher{Path: *cfgPath}
		err := watcher.Start(ctx, func(next config.AppConfig) {
			if *dryRun {
				next.Grid.PlaceOrders = false
			}
			cfgMu.Lock()
			gridCfg = next.Grid
			cfgMu.Unlock()
			appLog.LogCycle("config_reloaded", map[string]interface{}{"path": *cfgPath})
		})
		if err != nil && ctx.Err() == nil {
			appLog.LogError(err, map[string]interface{}{"component": "config_watcher"})
		}
	}()

	if err := eng.Run(ctx, currentCfg, time.Duration(cfg.IntervalSec)*time.Second); err != nil && ctx.Err() == nil {
		log.Fatalf("引擎退出: %v", err)
	}
}

// notifySystemd 上报 READY 并在 watchdog 启用时定期喂狗。
func notifySystemd(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func printSummary(result *engine.CycleResult) {
	plan := result.Plan
	fmt.Printf("趋势: %s (strength=%s)\n", plan.Trend.Direction, plan.Trend.Strength)
	fmt.Printf("区间: [%s, %s] 现价: %s\n", plan.LowerBound, plan.UpperBound, result.CurrentPrice)
	fmt.Printf("买档 %d 个 / 卖档 %d 个\n", len(plan.BuyLevels), len(plan.SellLevels))
	if plan.TakeProfit != nil {
		fmt.Printf("止盈: %s\n", plan.TakeProfit.Price)
	}
	if plan.StopLoss != nil {
		fmt.Printf("止损: %s\n", plan.StopLoss.Price)
	}
	if result.MarginPaused {
		fmt.Println("保证金占用超限，本轮未提交新订单")
	}
	for _, exec := range result.Executions {
		status := "OK"
		if !exec.Success {
			status = "FAIL"
			if exec.Skipped {
				status = "SKIP"
			}
		}
		fmt.Printf("  [%s] %s %s %s x %s %s\n", status,
			exec.Level.Side, exec.Level.Type, exec.Level.Price, exec.Level.Quantity, exec.Error)
	}
}
