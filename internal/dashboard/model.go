// Package dashboard 终端风控面板
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/sigchan"
)

// Actions 是面板按键触发的操作，由 feeds.Loader 实现
type Actions interface {
	LoadAll(ctx context.Context) error
	RefreshMarket(ctx context.Context, force bool) error
	Acknowledge(ctx context.Context, id int64) error
}

// 消息类型
type tickMsg time.Time

type changedMsg struct{}

type actionDoneMsg struct {
	action string
	err    error
}

// Model 面板模型
type Model struct {
	ctx     context.Context
	store   *state.Store
	changes *sigchan.Chan
	actions Actions

	snap     state.Snapshot
	selected int
	busy     bool
	status   string
	width    int
	now      time.Time

	// OnQuit 退出前调用
	OnQuit func()
}

// New 创建面板模型
func New(ctx context.Context, store *state.Store, actions Actions) *Model {
	return &Model{
		ctx:     ctx,
		store:   store,
		changes: store.Changes(),
		actions: actions,
		snap:    store.Snapshot(),
		now:     time.Now(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForChange())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("%s失败: %v", msg.action, msg.err)
			logger.Warnf("[dashboard] %s", m.status)
		} else {
			m.status = msg.action + "完成"
		}
		m.refresh()
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.OnQuit != nil {
			m.OnQuit()
		}
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(visibleAlerts(m.snap.Alerts))-1 {
			m.selected++
		}

	case "r":
		return m, m.run("刷新", func(ctx context.Context) error {
			return m.actions.LoadAll(ctx)
		})
	case "m":
		return m, m.run("行情刷新", func(ctx context.Context) error {
			return m.actions.RefreshMarket(ctx, true)
		})
	case "a":
		alerts := visibleAlerts(m.snap.Alerts)
		if len(alerts) == 0 {
			return m, nil
		}
		id := alerts[m.selected].ID
		return m, m.run(fmt.Sprintf("确认告警 #%d ", id), func(ctx context.Context) error {
			return m.actions.Acknowledge(ctx, id)
		})
	}
	return m, nil
}

// run 在后台执行操作，同一时间只允许一个
func (m *Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	if m.busy || m.actions == nil {
		return nil
	}
	m.busy = true
	m.status = action + "中..."
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m *Model) refresh() {
	m.snap = m.store.Snapshot()
	if n := len(visibleAlerts(m.snap.Alerts)); m.selected >= n {
		m.selected = max(n-1, 0)
	}
}

// waitForChange 等待状态变化，ctx 结束时返回 nil
func (m *Model) waitForChange() tea.Cmd {
	ctx, c := m.ctx, m.changes
	return func() tea.Msg {
		if err := c.Wait(ctx); err != nil {
			return nil
		}
		return changedMsg{}
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(renderHeader(m.snap, m.now))
	b.WriteString("\n\n")

	left := []string{
		renderAlerts(m.snap.Alerts, m.selected),
		renderTrades(m.snap.Trades),
	}
	right := []string{
		renderRisk(m.snap.Metrics),
		renderMarket(m.snap.Quotes, m.snap.MarketUpdatedAt),
		renderPositions(m.snap.Positions),
	}
	b.WriteString(layout(m.width, left, right))
	b.WriteString("\n\n")

	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ 选择告警  a 确认  r 刷新  m 刷新行情  q 退出"))
	b.WriteString("\n")
	return b.String()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run 启动面板，阻塞到用户退出或 ctx 结束
func Run(ctx context.Context, m *Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
