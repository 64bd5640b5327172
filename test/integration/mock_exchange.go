package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockExchange 模拟交易所（用于集成测试）：行情走固定震荡区间，
// 下单接口把挂单存进内存，openOrders 原样吐回。
type MockExchange struct {
	mu sync.Mutex

	nextID int64
	orders []mockOrder

	// 行情配置
	lastPrice string
	bidPrice  string
	askPrice  string

	// /positionRisk 返回的保证金占用
	positionMargin  string
	openOrderMargin string

	// 统计
	placeOrderCount int
	openOrdersCount int

	server *httptest.Server
}

// mockOrder 记录下单参数中对账身份相关的字段。
type mockOrder struct {
	OrderID   int64  `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	StopPrice string `json:"stopPrice"`
	OrigQty   string `json:"origQty"`
	Status    string `json:"status"`
}

// NewMockExchange 启动内存交易所，行情固定在 95~105 区间、现价 100。
func NewMockExchange() *MockExchange {
	m := &MockExchange{
		nextID:          1,
		lastPrice:       "100",
		bidPrice:        "99.9",
		askPrice:        "100.1",
		positionMargin:  "0",
		openOrderMargin: "0",
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL 返回交易所基址。
func (m *MockExchange) URL() string { return m.server.URL }

// Close 关停服务。
func (m *MockExchange) Close() { m.server.Close() }

// SetMargin 设置 /positionRisk 返回的保证金占用。
func (m *MockExchange) SetMargin(position, openOrder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionMargin = position
	m.openOrderMargin = openOrder
}

// PlaceOrderCount 返回累计下单次数。
func (m *MockExchange) PlaceOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeOrderCount
}

// OpenOrderCount 返回当前在途订单数。
func (m *MockExchange) OpenOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MockExchange) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/fapi/v1/klines":
		m.handleKlines(w, r)
	case "/fapi/v1/ticker/price":
		writeJSON(w, map[string]string{"symbol": r.URL.Query().Get("symbol"), "price": m.lastPrice})
	case "/fapi/v1/ticker/bookTicker":
		writeJSON(w, map[string]string{"bidPrice": m.bidPrice, "askPrice": m.askPrice})
	case "/fapi/v1/exchangeInfo":
		m.handleExchangeInfo(w, r)
	case "/fapi/v1/openOrders":
		m.handleOpenOrders(w, r)
	case "/fapi/v1/order":
		m.handlePlaceOrder(w, r)
	case "/fapi/v2/positionRisk":
		m.handlePositionRisk(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"code":-1121,"msg":"unknown path %s"}`, r.URL.Path)
	}
}

// handleKlines 生成 limit 根固定区间 K 线：开收 100、高 105、低 95。
func (m *MockExchange) handleKlines(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	const step = int64(60_000)
	base := int64(1_700_000_000_000)
	rows := make([][]any, 0, limit)
	for i := 0; i < limit; i++ {
		open := base + int64(i)*step
		rows = append(rows, []any{
			open, "100", "105", "95", "100", "10", open + step - 1,
		})
	}
	writeJSON(w, rows)
}

func (m *MockExchange) handleExchangeInfo(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	writeJSON(w, map[string]any{
		"symbols": []map[string]any{{
			"symbol": symbol,
			"filters": []map[string]string{
				{"filterType": "PRICE_FILTER", "tickSize": "0.1"},
				{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001"},
				{"filterType": "MIN_NOTIONAL", "notional": "5"},
			},
		}},
	})
}

func (m *MockExchange) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-MBX-APIKEY") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":-2014,"msg":"API-key format invalid."}`)
		return
	}
	m.mu.Lock()
	m.openOrdersCount++
	orders := make([]mockOrder, len(m.orders))
	copy(orders, m.orders)
	m.mu.Unlock()
	writeJSON(w, orders)
}

func (m *MockExchange) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	m.mu.Lock()
	o := mockOrder{
		OrderID:   m.nextID,
		Symbol:    q.Get("symbol"),
		Side:      q.Get("side"),
		Type:      q.Get("type"),
		Price:     orDefault(q.Get("price"), "0"),
		StopPrice: orDefault(q.Get("stopPrice"), "0"),
		OrigQty:   q.Get("quantity"),
		Status:    "NEW",
	}
	m.nextID++
	m.placeOrderCount++
	m.orders = append(m.orders, o)
	m.mu.Unlock()
	writeJSON(w, map[string]any{
		"orderId":       o.OrderID,
		"clientOrderId": fmt.Sprintf("mock-%d", o.OrderID),
		"symbol":        o.Symbol,
		"status":        o.Status,
	})
}

func (m *MockExchange) handlePositionRisk(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	row := map[string]string{
		"symbol":                 r.URL.Query().Get("symbol"),
		"positionAmt":            "0",
		"entryPrice":             "0",
		"positionInitialMargin":  m.positionMargin,
		"openOrderInitialMargin": m.openOrderMargin,
	}
	m.mu.Unlock()
	writeJSON(w, []map[string]string{row})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
