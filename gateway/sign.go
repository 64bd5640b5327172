// Package gateway 封装交易所签名 REST/WS 访问，向上提供类型化记录。
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
)

// SignParams 将参数按键排序编码为查询串，并计算 HMAC-SHA256 签名（hex）。
// 排序保证同一组参数得到稳定签名，便于测试比对。
func SignParams(params map[string]string, secret string) (query, signature string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query = values.Encode()

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	signature = fmt.Sprintf("%x", h.Sum(nil))
	return query, signature
}
