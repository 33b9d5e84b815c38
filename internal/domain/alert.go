package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity 告警严重程度
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank 用于排序，越严重越大；未知等级为 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// 告警状态
const (
	AlertStatusNew          = "NEW"
	AlertStatusAcknowledged = "ACKNOWLEDGED"
	AlertStatusResolved     = "RESOLVED"
)

var (
	ratioCritical = decimal.NewFromInt(2)
	ratioHigh     = decimal.RequireFromString("1.5")
	ratioMedium   = decimal.RequireFromString("1.2")
)

// SeverityFor 按超限比例 |actual/threshold| 计算严重程度
// 阈值为 0 时无法计算比例，视为 CRITICAL
func SeverityFor(actual, threshold decimal.Decimal) Severity {
	if threshold.IsZero() {
		if actual.IsZero() {
			return SeverityLow
		}
		return SeverityCritical
	}
	ratio := actual.Div(threshold).Abs()
	switch {
	case ratio.GreaterThan(ratioCritical):
		return SeverityCritical
	case ratio.GreaterThan(ratioHigh):
		return SeverityHigh
	case ratio.GreaterThan(ratioMedium):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert 限额突破告警（/api/alerts 和 /topic/alerts）
type Alert struct {
	ID           int64           `json:"id"`
	BreachID     string          `json:"breachId"`
	LimitType    string          `json:"limitType"`
	Trader       string          `json:"trader"`
	Symbol       string          `json:"symbol"`
	Counterparty string          `json:"counterparty,omitempty"`
	ActualValue  decimal.Decimal `json:"actualValue"`
	Threshold    decimal.Decimal `json:"threshold"`
	TradeID      *int64          `json:"tradeId,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt,omitzero"`
	Status       string          `json:"status"`
	Severity     Severity        `json:"severity"`
}

// Exceedance 返回超限比例
func (a Alert) Exceedance() decimal.Decimal {
	if a.Threshold.IsZero() {
		return decimal.Zero
	}
	return a.ActualValue.Div(a.Threshold).Abs()
}

// EffectiveSeverity 服务端没有给出等级时按比例计算
func (a Alert) EffectiveSeverity() Severity {
	if a.Severity.Rank() > 0 {
		return a.Severity
	}
	return SeverityFor(a.ActualValue, a.Threshold)
}
