package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceData 带时间戳的价格数据
type PriceData struct {
	Price           decimal.Decimal `json:"price"`
	Change          decimal.Decimal `json:"change"`
	ChangePercent   decimal.Decimal `json:"changePercent"`
	Timestamp       int64           `json:"timestamp"` // Unix 秒
	Expired         bool            `json:"expired"`
	FormattedChange string          `json:"formattedChange,omitempty"`
}

// UpdatedAt 返回价格更新时间
func (p PriceData) UpdatedAt() time.Time {
	if p.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(p.Timestamp, 0)
}

// MarketQuote 行情概览中的一条报价
type MarketQuote struct {
	Symbol          string          `json:"symbol"`
	PriceData       PriceData       `json:"priceData"`
	Price           decimal.Decimal `json:"price"`
	Change          decimal.Decimal `json:"change"`
	ChangePercent   decimal.Decimal `json:"changePercent"`
	FormattedChange string          `json:"formattedChange"`
	Expired         bool            `json:"expired"`
}

// IsUp 涨跌方向（平盘算上涨）
func (q MarketQuote) IsUp() bool {
	return !q.Change.IsNegative()
}

// ServerFormattedChange 服务端的涨跌格式："+1.23 (0.45%)"，百分比不带符号
func ServerFormattedChange(change, changePercent decimal.Decimal) string {
	sign := ""
	if !change.IsNegative() {
		sign = "+"
	}
	return fmt.Sprintf("%s%s (%s%%)", sign, change.StringFixed(2), changePercent.StringFixed(2))
}

// LivePrice 单个标的实时价格（/api/live-trading/price/{symbol}）
type LivePrice struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Change          decimal.Decimal `json:"change"`
	ChangePercent   decimal.Decimal `json:"changePercent"`
	FormattedChange string          `json:"formattedChange"`
	Timestamp       int64           `json:"timestamp"`
}

// Health 服务健康状态（/api/health）
type Health struct {
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"` // Unix 毫秒
	Service    string `json:"service"`
	Kafka      string `json:"kafka,omitempty"`
	KafkaError string `json:"kafkaError,omitempty"`
}

// IsUp 服务是否正常
func (h Health) IsUp() bool {
	return h.Status == "UP"
}
