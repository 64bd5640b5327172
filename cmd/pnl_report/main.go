package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/posttrade"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "交易对，默认取配置值")
	startStr := flag.String("start", "", "起始时间 (RFC3339，例如 2026-08-01T00:00:00Z)")
	endStr := flag.String("end", "", "结束时间 (RFC3339)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	sym := cfg.Grid.Symbol
	if *symbol != "" {
		sym = *symbol
	}

	start, err := parseMillis(*startStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 start 参数失败: %v\n", err)
		os.Exit(1)
	}
	end, err := parseMillis(*endStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 end 参数失败: %v\n", err)
		os.Exit(1)
	}

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.CoinBaseURL,
		cfg.Gateway.APIKey, cfg.Gateway.APISecret, nil)
	client.Limiter = gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	agg := posttrade.NewAggregator(client, cfg.Grid.Market)
	report, err := agg.RealizedPnL(ctx, sym, start, end)
	if err != nil {
		log.Fatalf("拉取成交历史失败: %v", err)
	}

	fmt.Printf("交易对: %s\n", sym)
	fmt.Printf("成交笔数: %d\n", report.TradeCount)
	fmt.Printf("已实现盈亏: %s\n", report.Total)
	if report.StartTime != nil && report.EndTime != nil {
		fmt.Printf("时间范围: %s ~ %s\n",
			time.UnixMilli(*report.StartTime).UTC().Format(time.RFC3339),
			time.UnixMilli(*report.EndTime).UTC().Format(time.RFC3339))
	}
}

func parseMillis(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	ms := t.UnixMilli()
	return &ms, nil
}
