package dashboard

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/sentinel/internal/domain"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)

	connectedBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("2")).
			Padding(0, 1)

	disconnectedBadge = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("1")).
				Padding(0, 1)
)

// 严重程度配色：CRITICAL 红、HIGH 橙、MEDIUM 黄、LOW 蓝，其余灰
var severityColors = map[domain.Severity]lipgloss.Color{
	domain.SeverityCritical: lipgloss.Color("196"),
	domain.SeverityHigh:     lipgloss.Color("208"),
	domain.SeverityMedium:   lipgloss.Color("220"),
	domain.SeverityLow:      lipgloss.Color("33"),
}

func severityStyle(s domain.Severity) lipgloss.Style {
	c, ok := severityColors[s]
	if !ok {
		c = lipgloss.Color("244")
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c)
}

// 风险等级配色，SAFE 为绿色
func riskStyle(level domain.RiskLevel) lipgloss.Style {
	if level == domain.RiskSafe {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	}
	return severityStyle(domain.Severity(level))
}

// 涨为绿、跌为红、持平为灰
func signStyle(sign int) lipgloss.Style {
	switch {
	case sign > 0:
		return upStyle
	case sign < 0:
		return downStyle
	default:
		return mutedStyle
	}
}
