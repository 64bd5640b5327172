package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/grid"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/posttrade"
	"grid-trader-go/risk"
)

const (
	// MarketUSDT U 本位合约，走 /fapi；MarketCoin 币本位，走 /dapi。
	MarketUSDT = "usdt"
	MarketCoin = "coin"

	defaultBaseURL     = "https://fapi.binance.com"
	defaultCoinBaseURL = "https://dapi.binance.com"
)

// APIError 交易所返回的业务错误。
type APIError struct {
	Status  int
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Message)
}

// Client 可签名的合约 REST 客户端；HTTPClient 可注入 httptest，
// 默认不发起真实网络调用。实现 market.KlineSource、order.TradingService、
// order.BookSource、risk.PositionSource 与 posttrade.TradeSource。
type Client struct {
	BaseURL     string
	CoinBaseURL string
	APIKey      string
	Secret      string
	HTTPClient  *http.Client
	Limiter     RateLimiter

	now func() time.Time // 测试注入
}

func NewClient(baseURL, coinBaseURL, apiKey, secret string, httpCli *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if coinBaseURL == "" {
		coinBaseURL = defaultCoinBaseURL
	}
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	return &Client{
		BaseURL:     baseURL,
		CoinBaseURL: coinBaseURL,
		APIKey:      apiKey,
		Secret:      secret,
		HTTPClient:  httpCli,
		now:         time.Now,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// SetNow 覆盖时间源，仅测试使用。
func (c *Client) SetNow(now func() time.Time) { c.now = now }

// routes 按市场类型返回基址与版本前缀。
func (c *Client) route(marketType string) (base, prefix string) {
	if strings.EqualFold(marketType, MarketCoin) {
		return c.CoinBaseURL, "/dapi/v1"
	}
	return c.BaseURL, "/fapi/v1"
}

func (c *Client) do(ctx context.Context, method, rawURL string, signed bool, out any) error {
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// public 拼接未签名 GET 请求。
func (c *Client) public(ctx context.Context, marketType, path string, params map[string]string, out any) error {
	base, prefix := c.route(marketType)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	endpoint := base + prefix + path
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, false, out)
}

// signed 追加 timestamp 并签名。
func (c *Client) signed(ctx context.Context, method, marketType, prefixOverride, path string, params map[string]string, out any) error {
	base, prefix := c.route(marketType)
	if prefixOverride != "" {
		prefix = prefixOverride
	}
	all := make(map[string]string, len(params)+1)
	for k, v := range params {
		all[k] = v
	}
	all["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	query, sig := SignParams(all, c.Secret)
	endpoint := base + prefix + path + "?" + query + "&signature=" + url.QueryEscape(sig)
	return c.do(ctx, method, endpoint, true, out)
}

// Klines 拉取 K 线；交易所返回混合类型数组，这里归一为类型化记录。
func (c *Client) Klines(ctx context.Context, q market.KlineQuery) ([]market.Kline, error) {
	params := map[string]string{
		"symbol":   q.Symbol,
		"interval": q.Interval,
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	if q.StartTime != nil {
		params["startTime"] = strconv.FormatInt(*q.StartTime, 10)
	}
	if q.EndTime != nil {
		params["endTime"] = strconv.FormatInt(*q.EndTime, 10)
	}
	var rows [][]json.RawMessage
	if err := c.public(ctx, q.Market, "/klines", params, &rows); err != nil {
		return nil, err
	}
	klines := make([]market.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row has %d cells, want at least 7", len(row))
		}
		k := market.Kline{}
		var err error
		if k.OpenTime, err = intCell(row[0]); err != nil {
			return nil, fmt.Errorf("parse kline openTime: %w", err)
		}
		if k.CloseTime, err = intCell(row[6]); err != nil {
			return nil, fmt.Errorf("parse kline closeTime: %w", err)
		}
		fields := []struct {
			name string
			dst  *decimal.Decimal
			cell json.RawMessage
		}{
			{"open", &k.Open, row[1]},
			{"high", &k.High, row[2]},
			{"low", &k.Low, row[3]},
			{"close", &k.Close, row[4]},
			{"volume", &k.Volume, row[5]},
		}
		for _, f := range fields {
			if *f.dst, err = decimalCell(f.cell); err != nil {
				return nil, fmt.Errorf("parse kline %s: %w", f.name, err)
			}
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// PriceTicker 返回现价；兼容对象与数组两种返回形态，
// price 缺失时回退 lastPrice、markPrice。
func (c *Client) PriceTicker(ctx context.Context, symbol, marketType string) (decimal.Decimal, error) {
	var raw json.RawMessage
	if err := c.public(ctx, marketType, "/ticker/price", map[string]string{"symbol": symbol}, &raw); err != nil {
		return decimal.Zero, err
	}
	type tickerEntry struct {
		Symbol    string `json:"symbol"`
		Price     string `json:"price"`
		LastPrice string `json:"lastPrice"`
		MarkPrice string `json:"markPrice"`
	}
	var target *tickerEntry
	if len(raw) > 0 && raw[0] == '[' {
		var entries []tickerEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return decimal.Zero, fmt.Errorf("decode ticker list: %w", err)
		}
		for i := range entries {
			if entries[i].Symbol == symbol {
				target = &entries[i]
				break
			}
		}
	} else {
		var entry tickerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
		}
		target = &entry
	}
	if target == nil {
		return decimal.Zero, fmt.Errorf("ticker has no entry for %s", symbol)
	}
	for _, v := range []string{target.Price, target.LastPrice, target.MarkPrice} {
		if v != "" {
			return decimal.NewFromString(v)
		}
	}
	return decimal.Zero, fmt.Errorf("ticker for %s has no price field", symbol)
}

// BookTicker 返回最优买卖价。
func (c *Client) BookTicker(ctx context.Context, symbol, marketType string) (*order.BookTicker, error) {
	var resp struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := c.public(ctx, marketType, "/ticker/bookTicker", map[string]string{"symbol": symbol}, &resp); err != nil {
		return nil, err
	}
	bid, err := decimal.NewFromString(resp.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("parse bidPrice %q: %w", resp.BidPrice, err)
	}
	ask, err := decimal.NewFromString(resp.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("parse askPrice %q: %w", resp.AskPrice, err)
	}
	return &order.BookTicker{Bid: bid, Ask: ask}, nil
}

// SymbolFilters 从 exchangeInfo 提取该交易对的量化规则；
// 兼容顶层对象与 symbols 数组两种形态。
func (c *Client) SymbolFilters(ctx context.Context, symbol, marketType string) (grid.SymbolFilters, error) {
	type filterEntry struct {
		FilterType string `json:"filterType"`
		TickSize   string `json:"tickSize"`
		StepSize   string `json:"stepSize"`
		MinQty     string `json:"minQty"`
		Notional   string `json:"notional"`
	}
	type symbolEntry struct {
		Symbol  string        `json:"symbol"`
		Filters []filterEntry `json:"filters"`
	}
	var resp struct {
		symbolEntry
		Symbols []symbolEntry `json:"symbols"`
	}
	if err := c.public(ctx, marketType, "/exchangeInfo", map[string]string{"symbol": symbol}, &resp); err != nil {
		return grid.SymbolFilters{}, err
	}

	entry := &resp.symbolEntry
	if entry.Symbol != symbol {
		entry = nil
		for i := range resp.Symbols {
			if resp.Symbols[i].Symbol == symbol {
				entry = &resp.Symbols[i]
				break
			}
		}
	}
	if entry == nil {
		return grid.SymbolFilters{}, fmt.Errorf("exchangeInfo has no rules for %s", symbol)
	}

	var filters grid.SymbolFilters
	for _, f := range entry.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			v, err := decimal.NewFromString(f.TickSize)
			if err != nil {
				return grid.SymbolFilters{}, fmt.Errorf("parse tickSize %q: %w", f.TickSize, err)
			}
			filters.TickSize = v
		case "LOT_SIZE":
			step, err := decimal.NewFromString(f.StepSize)
			if err != nil {
				return grid.SymbolFilters{}, fmt.Errorf("parse stepSize %q: %w", f.StepSize, err)
			}
			minQty, err := decimal.NewFromString(f.MinQty)
			if err != nil {
				return grid.SymbolFilters{}, fmt.Errorf("parse minQty %q: %w", f.MinQty, err)
			}
			filters.StepSize = step
			filters.MinQty = minQty
		case "MIN_NOTIONAL":
			if f.Notional != "" {
				v, err := decimal.NewFromString(f.Notional)
				if err != nil {
					return grid.SymbolFilters{}, fmt.Errorf("parse notional %q: %w", f.Notional, err)
				}
				filters.MinNotional = &v
			}
		}
	}
	if err := filters.Validate(); err != nil {
		return grid.SymbolFilters{}, fmt.Errorf("%s filters: %w", symbol, err)
	}
	return filters, nil
}

// CreateOrder 下单；数量与价格用去尾零的十进制字符串，布尔用小写字面量。
func (c *Client) CreateOrder(ctx context.Context, req order.OrderRequest) (*order.OrderAck, error) {
	params := map[string]string{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"quantity": req.Quantity.String(),
	}
	if req.Price != nil {
		params["price"] = req.Price.String()
	}
	if req.StopPrice != nil {
		params["stopPrice"] = req.StopPrice.String()
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}
	if req.PositionSide != "" {
		params["positionSide"] = req.PositionSide
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.GoodTillDate > 0 {
		params["goodTillDate"] = strconv.FormatInt(req.GoodTillDate, 10)
	}
	var ack order.OrderAck
	if err := c.signed(ctx, http.MethodPost, req.Market, "", "/order", params, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// openOrderRow 在途订单原始行；价格字段保留字符串，零值归一交给 optionalPrice。
type openOrderRow struct {
	OrderID    int64  `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price"`
	StopPrice  string `json:"stopPrice"`
	OrigQty    string `json:"origQty"`
	ReduceOnly bool   `json:"reduceOnly"`
	Status     string `json:"status"`
}

// OpenOrders 返回在途订单。
func (c *Client) OpenOrders(ctx context.Context, symbol, marketType string) ([]order.OpenOrder, error) {
	var rows []openOrderRow
	err := c.signed(ctx, http.MethodGet, marketType, "", "/openOrders", map[string]string{"symbol": symbol}, &rows)
	if err != nil {
		return nil, err
	}
	orders := make([]order.OpenOrder, 0, len(rows))
	for _, row := range rows {
		o := order.OpenOrder{
			OrderID:    row.OrderID,
			Symbol:     row.Symbol,
			Side:       grid.Side(row.Side),
			Type:       grid.OrderType(row.Type),
			ReduceOnly: row.ReduceOnly,
			Status:     row.Status,
		}
		if o.Price, err = optionalPrice(row.Price); err != nil {
			return nil, fmt.Errorf("order %d price: %w", row.OrderID, err)
		}
		if o.StopPrice, err = optionalPrice(row.StopPrice); err != nil {
			return nil, fmt.Errorf("order %d stopPrice: %w", row.OrderID, err)
		}
		if row.OrigQty != "" {
			if o.OrigQty, err = decimal.NewFromString(row.OrigQty); err != nil {
				return nil, fmt.Errorf("order %d origQty: %w", row.OrderID, err)
			}
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CancelAllOrders 撤销该交易对全部挂单。
func (c *Client) CancelAllOrders(ctx context.Context, symbol, marketType string) error {
	return c.signed(ctx, http.MethodDelete, marketType, "", "/allOpenOrders", map[string]string{"symbol": symbol}, nil)
}

// SetLeverage 调整开仓杠杆，取值 1..125。
func (c *Client) SetLeverage(ctx context.Context, symbol, marketType string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("leverage %d out of range [1,125]", leverage)
	}
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	return c.signed(ctx, http.MethodPost, marketType, "", "/leverage", params, nil)
}

// PositionRisk 查询持仓风险；U 本位走 /fapi/v2，币本位走 /dapi/v1。
func (c *Client) PositionRisk(ctx context.Context, symbol, marketType string) ([]risk.PositionRow, error) {
	prefix := ""
	if !strings.EqualFold(marketType, MarketCoin) {
		prefix = "/fapi/v2"
	}
	type positionRow struct {
		Symbol                 string `json:"symbol"`
		PositionAmt            string `json:"positionAmt"`
		EntryPrice             string `json:"entryPrice"`
		PositionInitialMargin  string `json:"positionInitialMargin"`
		OpenOrderInitialMargin string `json:"openOrderInitialMargin"`
	}
	var rows []positionRow
	if err := c.signed(ctx, http.MethodGet, marketType, prefix, "/positionRisk", map[string]string{"symbol": symbol}, &rows); err != nil {
		return nil, err
	}
	out := make([]risk.PositionRow, 0, len(rows))
	for _, row := range rows {
		r := risk.PositionRow{Symbol: row.Symbol}
		fields := []struct {
			name string
			dst  *decimal.Decimal
			raw  string
		}{
			{"positionAmt", &r.PositionAmt, row.PositionAmt},
			{"entryPrice", &r.EntryPrice, row.EntryPrice},
			{"positionInitialMargin", &r.PositionInitialMargin, row.PositionInitialMargin},
			{"openOrderInitialMargin", &r.OpenOrderInitialMargin, row.OpenOrderInitialMargin},
		}
		for _, f := range fields {
			if f.raw == "" {
				continue
			}
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("position %s %s: %w", row.Symbol, f.name, err)
			}
			*f.dst = v
		}
		out = append(out, r)
	}
	return out, nil
}

// UserTrades 查询成交历史。
func (c *Client) UserTrades(ctx context.Context, q posttrade.TradeQuery) ([]posttrade.Trade, error) {
	params := map[string]string{"symbol": q.Symbol}
	if q.FromID != nil {
		params["fromId"] = strconv.FormatInt(*q.FromID, 10)
	}
	if q.StartTime != nil {
		params["startTime"] = strconv.FormatInt(*q.StartTime, 10)
	}
	if q.EndTime != nil {
		params["endTime"] = strconv.FormatInt(*q.EndTime, 10)
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	type tradeRow struct {
		ID          int64  `json:"id"`
		Symbol      string `json:"symbol"`
		RealizedPnl string `json:"realizedPnl"`
		Time        int64  `json:"time"`
	}
	var rows []tradeRow
	if err := c.signed(ctx, http.MethodGet, q.Market, "", "/userTrades", params, &rows); err != nil {
		return nil, err
	}
	trades := make([]posttrade.Trade, 0, len(rows))
	for _, row := range rows {
		pnl := decimal.Zero
		if row.RealizedPnl != "" {
			v, err := decimal.NewFromString(row.RealizedPnl)
			if err != nil {
				return nil, fmt.Errorf("trade %d realizedPnl: %w", row.ID, err)
			}
			pnl = v
		}
		trades = append(trades, posttrade.Trade{
			ID:          row.ID,
			Symbol:      row.Symbol,
			RealizedPnl: pnl,
			Time:        row.Time,
		})
	}
	return trades, nil
}

// optionalPrice 解析可缺省价格：空串和零值归一为 nil。
func optionalPrice(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if v.IsZero() {
		return nil, nil
	}
	return &v, nil
}

func intCell(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n.Int64()
}

// decimalCell 兼容字符串与数字两种 JSON 形态。
func decimalCell(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	return decimal.NewFromString(string(raw))
}
