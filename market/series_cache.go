package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultCacheCapacity 缓存条目上限，超出后按 LRU 淘汰。
	DefaultCacheCapacity = 16
	// DefaultCacheTTL 未指定时间区间的条目有效期。
	DefaultCacheTTL = 2 * time.Second
)

// cacheKey 精确匹配一次请求；start/end 为 -1 表示未指定。
type cacheKey struct {
	symbol   string
	interval string
	market   string
	limit    int
	start    int64
	end      int64
}

type cacheEntry struct {
	data         []Kline
	coveredStart int64 // 首根K线 openTime；-1 表示未知
	coveredEnd   int64 // 末根K线 closeTime；-1 表示未知
	fetchedAt    time.Time
}

// SeriesCache 有界的K线缓存：map 保存条目，order 维护访问顺序（尾部最新）。
// 淘汰是显式操作，不做主动失效；多周期共享时由内部互斥锁保护。
type SeriesCache struct {
	src KlineSource

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	order   []cacheKey

	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewSeriesCache 创建默认容量/TTL 的缓存。
func NewSeriesCache(src KlineSource) *SeriesCache {
	return &SeriesCache{
		src:      src,
		entries:  make(map[cacheKey]*cacheEntry),
		capacity: DefaultCacheCapacity,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
	}
}

// Fetch 按请求返回K线：命中且有效时直接返回缓存副本并提升为最近使用，
// 否则回源拉取；少于 2 根视为数据不足。
func (c *SeriesCache) Fetch(ctx context.Context, q KlineQuery) ([]Kline, error) {
	key := keyOf(q)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.entryValid(entry, q) {
		c.promote(key)
		data := cloneKlines(entry.data)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	klines, err := c.src.Klines(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", q.Symbol, q.Interval, err)
	}
	if len(klines) < 2 {
		return nil, fmt.Errorf("%w: %s interval returned %d klines", ErrInsufficientData, q.Interval, len(klines))
	}

	entry := &cacheEntry{
		data:         cloneKlines(klines),
		coveredStart: coveredStart(klines),
		coveredEnd:   coveredEnd(klines),
		fetchedAt:    c.now(),
	}

	c.mu.Lock()
	c.store(key, entry)
	c.mu.Unlock()
	return klines, nil
}

// entryValid 判定条目有效性：
//   - 指定了 start：要求缓存覆盖区间左端 <= start；
//   - 指定了 end：要求覆盖区间右端 >= end；
//   - 两者都未指定：按 TTL 判断新鲜度。
func (c *SeriesCache) entryValid(entry *cacheEntry, q KlineQuery) bool {
	if q.StartTime != nil {
		if entry.coveredStart < 0 || entry.coveredStart > *q.StartTime {
			return false
		}
	}
	if q.EndTime != nil {
		if entry.coveredEnd < 0 || entry.coveredEnd < *q.EndTime {
			return false
		}
	}
	if q.StartTime == nil && q.EndTime == nil {
		if c.now().Sub(entry.fetchedAt) > c.ttl {
			return false
		}
	}
	return true
}

// store 写入条目并在超出容量时淘汰最久未使用者。
func (c *SeriesCache) store(key cacheKey, entry *cacheEntry) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		c.promote(key)
		return
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	if len(c.entries) > c.capacity {
		c.evictOldest()
	}
}

// evictOldest 移除访问顺序头部的条目。
func (c *SeriesCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

// promote 将 key 移到访问顺序尾部。
func (c *SeriesCache) promote(key cacheKey) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

// Len 返回当前条目数（测试用）。
func (c *SeriesCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func keyOf(q KlineQuery) cacheKey {
	key := cacheKey{
		symbol:   q.Symbol,
		interval: q.Interval,
		market:   q.Market,
		limit:    q.Limit,
		start:    -1,
		end:      -1,
	}
	if q.StartTime != nil {
		key.start = *q.StartTime
	}
	if q.EndTime != nil {
		key.end = *q.EndTime
	}
	return key
}

func coveredStart(klines []Kline) int64 {
	if len(klines) == 0 {
		return -1
	}
	return klines[0].OpenTime
}

func coveredEnd(klines []Kline) int64 {
	if len(klines) == 0 {
		return -1
	}
	return klines[len(klines)-1].CloseTime
}

func cloneKlines(klines []Kline) []Kline {
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out
}
