package domain

import "github.com/shopspring/decimal"

// RiskLevel 整体风险等级
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskMetrics 由告警和持仓汇总出的风险指标
type RiskMetrics struct {
	CriticalAlerts int             `json:"criticalAlerts"`
	HighAlerts     int             `json:"highAlerts"`
	MediumAlerts   int             `json:"mediumAlerts"`
	LowAlerts      int             `json:"lowAlerts"`
	TotalAlerts    int             `json:"totalAlerts"`
	TotalExposure  decimal.Decimal `json:"totalExposure"`
	UniqueTraders  int             `json:"uniqueTraders"`
	UniqueSymbols  int             `json:"uniqueSymbols"`
	PositionCount  int             `json:"positionCount"`
	Level          RiskLevel       `json:"level"`
}

// ComputeRiskMetrics 计算风险指标
// 等级取存在告警中最严重的一级，没有告警为 SAFE
func ComputeRiskMetrics(alerts []Alert, positions []Position) RiskMetrics {
	m := RiskMetrics{
		TotalAlerts:   len(alerts),
		TotalExposure: decimal.Zero,
		PositionCount: len(positions),
	}
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			m.CriticalAlerts++
		case SeverityHigh:
			m.HighAlerts++
		case SeverityMedium:
			m.MediumAlerts++
		case SeverityLow:
			m.LowAlerts++
		}
	}

	traders := make(map[string]struct{})
	symbols := make(map[string]struct{})
	for _, p := range positions {
		m.TotalExposure = m.TotalExposure.Add(p.EstimatedExposure())
		traders[p.Trader] = struct{}{}
		symbols[p.Symbol] = struct{}{}
	}
	m.UniqueTraders = len(traders)
	m.UniqueSymbols = len(symbols)

	switch {
	case m.CriticalAlerts > 0:
		m.Level = RiskCritical
	case m.HighAlerts > 0:
		m.Level = RiskHigh
	case m.MediumAlerts > 0:
		m.Level = RiskMedium
	case m.LowAlerts > 0:
		m.Level = RiskLow
	default:
		m.Level = RiskSafe
	}
	return m
}
