package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/format"
	"github.com/betbot/sentinel/internal/state"
)

const (
	// 告警列表最多显示条数
	maxAlertRows = 10
	// 每个交易员最多显示的持仓数
	maxPositionsPerTrader = 5
)

func renderHeader(snap state.Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sentinel 风控面板"))
	b.WriteString(" ")
	if snap.Connected {
		b.WriteString(connectedBadge.Render("● Connected"))
	} else {
		b.WriteString(disconnectedBadge.Render("○ Disconnected"))
	}
	if snap.Restored {
		b.WriteString(" ")
		b.WriteString(mutedStyle.Render("[快照数据]"))
	}
	b.WriteString(mutedStyle.Render("  " + format.Clock(now)))
	if snap.LastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("错误: " + format.Truncate(snap.LastError, 100)))
	}
	return b.String()
}

func renderAlerts(alerts []domain.Alert, selected int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Risk Alerts"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d Active", len(alerts))))
	b.WriteString("\n")

	if len(alerts) == 0 {
		b.WriteString(mutedStyle.Render("暂无告警"))
		return cardStyle.Render(b.String())
	}

	for i, a := range visibleAlerts(alerts) {
		sev := a.EffectiveSeverity()
		limit := strings.ReplaceAll(a.LimitType, "_", " ")
		if limit == "" {
			limit = "LIMIT"
		}
		line := fmt.Sprintf("%s %-22s %s/%s  %s / %s  %s",
			severityStyle(sev).Render(fmt.Sprintf("%-8s", sev)),
			format.Truncate(limit, 22),
			format.Truncate(a.Trader, 12),
			a.Symbol,
			format.USD(a.ActualValue, 0),
			format.USD(a.Threshold, 0),
			mutedStyle.Render(format.Timestamp(a.OccurredAt)),
		)
		if i == selected {
			line = selectedStyle.Render("› ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(alerts) > maxAlertRows {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("… 另有 %d 条", len(alerts)-maxAlertRows)))
	}
	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func visibleAlerts(alerts []domain.Alert) []domain.Alert {
	if len(alerts) > maxAlertRows {
		return alerts[:maxAlertRows]
	}
	return alerts
}

func renderPositions(positions []domain.Position) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Trader Positions"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d Positions", len(positions))))
	b.WriteString("\n")

	groups := domain.ExposureByTrader(positions)
	if len(groups) == 0 {
		b.WriteString(mutedStyle.Render("暂无持仓"))
		return cardStyle.Render(b.String())
	}

	for _, g := range groups {
		b.WriteString(fmt.Sprintf("%s  %s\n",
			titleStyle.Render(format.Truncate(g.Trader, 16)),
			mutedStyle.Render(fmt.Sprintf("敞口 %s · %d 个", format.USD(g.TotalExposure, 0), g.PositionCount)),
		))
		for i, p := range g.Positions {
			if i == maxPositionsPerTrader {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("    … 另有 %d 个\n", len(g.Positions)-maxPositionsPerTrader)))
				break
			}
			qty := signStyle(sign(p.Quantity)).Render(fmt.Sprintf("%10s", format.SignedQty(p.Quantity)))
			b.WriteString(fmt.Sprintf("    %-8s %s\n", p.Symbol, qty))
		}
	}
	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderRisk(m domain.RiskMetrics) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Risk Metrics"))
	b.WriteString("  ")
	b.WriteString(riskStyle(m.Level).Render(string(m.Level)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("%s %d  %s %d  %s %d  %s %d\n",
		severityStyle(domain.SeverityCritical).Render("CRITICAL"), m.CriticalAlerts,
		severityStyle(domain.SeverityHigh).Render("HIGH"), m.HighAlerts,
		severityStyle(domain.SeverityMedium).Render("MEDIUM"), m.MediumAlerts,
		severityStyle(domain.SeverityLow).Render("LOW"), m.LowAlerts,
	))
	b.WriteString(fmt.Sprintf("总告警 %d\n", m.TotalAlerts))
	b.WriteString(fmt.Sprintf("总敞口 %s\n", format.USD(m.TotalExposure, 0)))
	b.WriteString(fmt.Sprintf("交易员 %d · 标的 %d · 持仓 %d", m.UniqueTraders, m.UniqueSymbols, m.PositionCount))
	return cardStyle.Render(b.String())
}

func renderMarket(quotes []domain.MarketQuote, updatedAt time.Time) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Market Data"))
	b.WriteString(mutedStyle.Render("  更新于 " + format.Clock(updatedAt)))
	b.WriteString("\n")

	if len(quotes) == 0 {
		b.WriteString(mutedStyle.Render("暂无行情"))
		return cardStyle.Render(b.String())
	}

	for _, q := range quotes {
		price, change, pct := q.Price, q.Change, q.ChangePercent
		expired := q.Expired
		// 新格式的报价放在 priceData 里
		if !q.PriceData.Price.IsZero() {
			price, change, pct = q.PriceData.Price, q.PriceData.Change, q.PriceData.ChangePercent
			expired = expired || q.PriceData.Expired
		}

		st := downStyle
		if !change.IsNegative() {
			st = upStyle
		}
		line := fmt.Sprintf("%-8s %12s  %s",
			q.Symbol,
			format.USD(price, 2),
			st.Render(format.Change(change, pct)),
		)
		if expired {
			line += " " + mutedStyle.Render("[过期]")
		}
		if at := q.PriceData.UpdatedAt(); !at.IsZero() {
			line += " " + mutedStyle.Render(format.Clock(at))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTrades(trades []domain.Trade) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent Trades"))
	b.WriteString("\n")

	if len(trades) == 0 {
		b.WriteString(mutedStyle.Render("暂无成交"))
		return cardStyle.Render(b.String())
	}

	var buys, sells int
	for _, t := range trades {
		side := mutedStyle.Render(fmt.Sprintf("%-4s", t.Side))
		switch t.Side {
		case domain.SideBuy:
			buys++
			side = upStyle.Render("BUY ")
		case domain.SideSell:
			sells++
			side = downStyle.Render("SELL")
		}
		b.WriteString(fmt.Sprintf("%s %-10s %-6s %6s @ %-10s = %-12s %s\n",
			side,
			format.Truncate(t.Trader, 10),
			t.Symbol,
			format.Number(t.Quantity),
			format.USD(t.Price, 2),
			format.USD(t.Notional(), 2),
			mutedStyle.Render(format.Timestamp(t.Timestamp)),
		))
	}
	b.WriteString(fmt.Sprintf("%s %d  %s %d",
		upStyle.Render("BUY"), buys,
		downStyle.Render("SELL"), sells,
	))
	return cardStyle.Render(b.String())
}

func sign(n int64) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// 两列布局，窄屏时改为单列
func layout(width int, left, right []string) string {
	l := lipgloss.JoinVertical(lipgloss.Left, left...)
	r := lipgloss.JoinVertical(lipgloss.Left, right...)
	if width > 0 && lipgloss.Width(l)+lipgloss.Width(r)+2 > width {
		return lipgloss.JoinVertical(lipgloss.Left, l, r)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, l, "  ", r)
}
