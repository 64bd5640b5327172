// Package config 负责 YAML 配置加载、校验与热更新。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string        `yaml:"env"`
	Gateway     GatewayConfig `yaml:"gateway"`
	Grid        GridConfig    `yaml:"grid"`
	MetricsAddr string        `yaml:"metricsAddr"`
	IntervalSec int           `yaml:"intervalSec"` // 连续模式下两轮之间的间隔
}

type GatewayConfig struct {
	APIKey      string  `yaml:"apiKey"`
	APISecret   string  `yaml:"apiSecret"`
	BaseURL     string  `yaml:"baseURL"`     // U 本位，默认 https://fapi.binance.com
	CoinBaseURL string  `yaml:"coinBaseURL"` // 币本位，默认 https://dapi.binance.com
	RestRate    float64 `yaml:"restRate"`    // REST 每秒请求数
	RestBurst   int     `yaml:"restBurst"`
}

// GridConfig 用户声明的网格意图。
type GridConfig struct {
	Symbol          string  `yaml:"symbol"`
	GridCount       int     `yaml:"gridCount"`
	TotalInvestment float64 `yaml:"totalInvestment"`
	Leverage        int     `yaml:"leverage"`
	LongInterval    string  `yaml:"longInterval"`  // 趋势判定周期
	LongLimit       int     `yaml:"longLimit"`
	ShortInterval   string  `yaml:"shortInterval"` // 区间推导周期
	ShortLimit      int     `yaml:"shortLimit"`
	Market          string  `yaml:"market"`      // usdt 或 coin
	PlaceOrders     bool    `yaml:"placeOrders"` // false 时只出计划不下单
	TimeInForce     string  `yaml:"timeInForce"`
	// PricePrecision/QuantityPrecision 覆盖 exchangeInfo 的 tickSize/stepSize，
	// 以十进制步长字符串表示（如 "0.1"）。
	PricePrecision    string  `yaml:"pricePrecision"`
	QuantityPrecision string  `yaml:"quantityPrecision"`
	PositionSide      string  `yaml:"positionSide"`
	ReduceOnly        bool    `yaml:"reduceOnly"`
	TakeProfitPct     float64 `yaml:"takeProfitPct"`
	StopLossPct       float64 `yaml:"stopLossPct"`
	GTDSeconds        int64   `yaml:"gtdSeconds"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GRID_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GRID_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	g := &cfg.Grid
	if g.Market == "" {
		g.Market = "usdt"
	}
	if g.TimeInForce == "" {
		g.TimeInForce = "GTC"
	}
	if g.LongInterval == "" {
		g.LongInterval = "1h"
	}
	if g.LongLimit == 0 {
		g.LongLimit = 100
	}
	if g.ShortInterval == "" {
		g.ShortInterval = "15m"
	}
	if g.ShortLimit == 0 {
		g.ShortLimit = 50
	}
	if g.TakeProfitPct == 0 {
		g.TakeProfitPct = 0.01
	}
	if g.StopLossPct == 0 {
		g.StopLossPct = 0.01
	}
	if cfg.Gateway.RestRate == 0 {
		cfg.Gateway.RestRate = 5
	}
	if cfg.Gateway.RestBurst == 0 {
		cfg.Gateway.RestBurst = 10
	}
	if cfg.IntervalSec == 0 {
		cfg.IntervalSec = 60
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	g := cfg.Grid
	if g.Symbol == "" {
		return errors.New("grid.symbol is required")
	}
	if g.GridCount < 2 {
		return errors.New("grid.gridCount must be >= 2")
	}
	if g.TotalInvestment <= 0 {
		return errors.New("grid.totalInvestment must be > 0")
	}
	if g.Leverage < 1 || g.Leverage > 125 {
		return errors.New("grid.leverage must be in [1,125]")
	}
	switch strings.ToLower(g.Market) {
	case "usdt", "coin":
	default:
		return fmt.Errorf("grid.market %q must be usdt or coin", g.Market)
	}
	if g.LongLimit < 0 || g.ShortLimit < 0 {
		return errors.New("grid kline limits must be >= 0")
	}
	if g.TakeProfitPct < 0 || g.StopLossPct < 0 {
		return errors.New("grid tp/sl percentages must be >= 0")
	}
	if g.GTDSeconds < 0 {
		return errors.New("grid.gtdSeconds must be >= 0")
	}
	if g.PlaceOrders && (cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "") {
		return errors.New("gateway.apiKey/apiSecret is required when placeOrders=true (or env overrides)")
	}
	return nil
}
