package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

const (
	// BinanceFuturesWSEndpoint U 本位合约行情流基址。
	BinanceFuturesWSEndpoint = "wss://fstream.binance.com"
	// BinanceCoinFuturesWSEndpoint 币本位合约行情流基址。
	BinanceCoinFuturesWSEndpoint = "wss://dstream.binance.com"

	// bookSnapshotMaxAge WS 快照的可用时限，超过则视为过期。
	bookSnapshotMaxAge = 5 * time.Second
)

// combinedMessage 对应 binance combined stream 包装。
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bookTickerEvent 提取 bookTicker 推送的核心字段。
type bookTickerEvent struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// ParseCombinedBookTicker 解析 combined stream 的 bookTicker 消息。
func ParseCombinedBookTicker(raw []byte) (symbol string, bid, ask decimal.Decimal, err error) {
	var msg combinedMessage
	if err = json.Unmarshal(raw, &msg); err != nil {
		return
	}
	var evt bookTickerEvent
	if err = json.Unmarshal(msg.Data, &evt); err != nil {
		return
	}
	symbol = evt.Symbol
	if bid, err = decimal.NewFromString(evt.BidPrice); err != nil {
		err = fmt.Errorf("parse bid %q: %w", evt.BidPrice, err)
		return
	}
	if ask, err = decimal.NewFromString(evt.AskPrice); err != nil {
		err = fmt.Errorf("parse ask %q: %w", evt.AskPrice, err)
	}
	return
}

// BookStream 订阅单交易对 bookTicker 流并维护最新快照。
// 仅提供最小骨架：连接 + 读取 + 快照；断线由调用方决定是否重连。
type BookStream struct {
	Endpoint string
	Dialer   *websocket.Dialer

	symbol string

	mu        sync.RWMutex
	latest    *order.BookTicker
	updatedAt time.Time
}

func NewBookStream(symbol, marketType string) *BookStream {
	endpoint := BinanceFuturesWSEndpoint
	if strings.EqualFold(marketType, MarketCoin) {
		endpoint = BinanceCoinFuturesWSEndpoint
	}
	return &BookStream{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
		symbol:   symbol,
	}
}

// Run 连接 combined stream 并持续更新快照；连接或读取出错时返回。
func (s *BookStream) Run(ctx context.Context) error {
	if s.symbol == "" {
		return fmt.Errorf("symbol required")
	}
	u := url.URL{
		Scheme: "wss",
		Host:   strings.TrimPrefix(s.Endpoint, "wss://"),
		Path:   "/stream",
	}
	q := u.Query()
	q.Set("streams", strings.ToLower(s.symbol)+"@bookTicker")
	u.RawQuery = q.Encode()

	conn, _, err := s.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		sym, bid, ask, err := ParseCombinedBookTicker(message)
		if err != nil || !strings.EqualFold(sym, s.symbol) {
			continue
		}
		s.mu.Lock()
		s.latest = &order.BookTicker{Bid: bid, Ask: ask}
		s.updatedAt = time.Now()
		s.mu.Unlock()
	}
}

// Snapshot 返回最近一次推送的盘口；过期或尚未收到推送时 ok 为 false。
func (s *BookStream) Snapshot() (*order.BookTicker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil || time.Since(s.updatedAt) > bookSnapshotMaxAge {
		return nil, false
	}
	bt := *s.latest
	return &bt, true
}

// LiveBook 优先取 WS 快照，过期时退回 REST 查询。
type LiveBook struct {
	Stream *BookStream
	REST   order.BookSource
}

func (b *LiveBook) BookTicker(ctx context.Context, symbol, marketType string) (*order.BookTicker, error) {
	if b.Stream != nil {
		if bt, ok := b.Stream.Snapshot(); ok {
			return bt, nil
		}
	}
	if b.REST == nil {
		return nil, fmt.Errorf("book ticker unavailable")
	}
	return b.REST.BookTicker(ctx, symbol, marketType)
}
