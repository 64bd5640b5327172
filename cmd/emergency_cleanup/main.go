// 紧急清理工具：撤销全部挂单并市价平掉净仓位。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "交易对，默认取配置值")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
		log.Fatal("需要 API key/secret（配置文件或 GRID_API_KEY / GRID_API_SECRET）")
	}
	sym := cfg.Grid.Symbol
	if *symbol != "" {
		sym = *symbol
	}
	market := cfg.Grid.Market

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.CoinBaseURL,
		cfg.Gateway.APIKey, cfg.Gateway.APISecret, nil)
	client.Limiter = gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 1. 取消所有挂单
	fmt.Println("🔸 取消所有挂单...")
	if err := client.CancelAllOrders(ctx, sym, market); err != nil {
		log.Printf("取消挂单失败: %v", err)
	} else {
		fmt.Println("✅ 所有挂单已取消")
	}

	// 2. 查询当前净仓位
	fmt.Println("\n🔸 查询当前仓位...")
	amt, err := netPosition(ctx, client, sym, market)
	if err != nil {
		log.Fatalf("查询仓位失败: %v", err)
	}
	fmt.Printf("当前仓位: %s\n", amt)

	if amt.IsZero() {
		fmt.Println("✅ 没有持仓，无需平仓")
		return
	}

	// 3. 市价只减仓反向平掉
	side := grid.SideSell
	if amt.Sign() < 0 {
		side = grid.SideBuy
		amt = amt.Neg()
	}
	fmt.Printf("\n🔸 平仓 %s...\n", amt)

	ack, err := client.CreateOrder(ctx, order.OrderRequest{
		Symbol:     sym,
		Side:       side,
		Type:       grid.OrderTypeMarket,
		Quantity:   amt,
		ReduceOnly: true,
		Market:     market,
	})
	if err != nil {
		log.Fatalf("平仓失败: %v", err)
	}
	fmt.Printf("✅ 平仓订单已提交 (orderId=%d)\n", ack.OrderID)

	// 等待3秒后复查
	time.Sleep(3 * time.Second)
	if final, err := netPosition(ctx, client, sym, market); err == nil {
		fmt.Printf("\n最终仓位: %s\n", final)
	}
}

func netPosition(ctx context.Context, client *gateway.Client, symbol, market string) (decimal.Decimal, error) {
	rows, err := client.PositionRisk(ctx, symbol, market)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		if r.Symbol != "" && r.Symbol != symbol {
			continue
		}
		total = total.Add(r.PositionAmt)
	}
	return total, nil
}
