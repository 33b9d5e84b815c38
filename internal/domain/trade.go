package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 大小写不敏感地解析方向
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Trade 成交记录（/trades 和 /topic/trades）
type Trade struct {
	ID           int64           `json:"id,omitempty"`
	Trader       string          `json:"trader"`
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Side         Side            `json:"side"`
	Timestamp    time.Time       `json:"timestamp,omitzero"`
	TradeID      string          `json:"tradeId,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
}

// Notional 成交金额 = 数量 × 价格
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// MarketTrade 行情接口返回的逐笔成交
type MarketTrade struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  int64           `json:"timestamp"`
	Volume     int64           `json:"volume"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
}

// LiveTradeRequest 实盘下单请求（/api/live-trading/execute）
type LiveTradeRequest struct {
	Trader       string `json:"trader"`
	Symbol       string `json:"symbol"`
	Quantity     int    `json:"quantity"`
	Side         Side   `json:"side"`
	Counterparty string `json:"counterparty,omitempty"`
}

// Normalize 去空白并统一方向大小写
func (r LiveTradeRequest) Normalize() LiveTradeRequest {
	r.Trader = strings.TrimSpace(r.Trader)
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if side, ok := ParseSide(string(r.Side)); ok {
		r.Side = side
	}
	r.Counterparty = strings.TrimSpace(r.Counterparty)
	return r
}

// Validate 与服务端校验规则一致：trader/symbol/quantity/side 必填，side 只能是 BUY 或 SELL
func (r LiveTradeRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Trader) == "":
		return &ValidationError{Field: "trader", Reason: "required"}
	case strings.TrimSpace(r.Symbol) == "":
		return &ValidationError{Field: "symbol", Reason: "required"}
	case r.Quantity == 0:
		return &ValidationError{Field: "quantity", Reason: "required"}
	case r.Side == "":
		return &ValidationError{Field: "side", Reason: "required"}
	}
	if _, ok := ParseSide(string(r.Side)); !ok {
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	return nil
}

// ValidationError 请求字段校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
