package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/state"
)

type fakeActions struct {
	loads   int
	market  []bool
	acked   []int64
	ackErr  error
	loadErr error
}

func (f *fakeActions) LoadAll(context.Context) error {
	f.loads++
	return f.loadErr
}

func (f *fakeActions) RefreshMarket(_ context.Context, force bool) error {
	f.market = append(f.market, force)
	return nil
}

func (f *fakeActions) Acknowledge(_ context.Context, id int64) error {
	f.acked = append(f.acked, id)
	return f.ackErr
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T) (*Model, *state.Store, *fakeActions) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := state.NewStore()
	actions := &fakeActions{}
	return New(ctx, store, actions), store, actions
}

// press 发送按键并同步执行返回的命令
func press(t *testing.T, m *Model, k string) {
	t.Helper()
	_, cmd := m.Update(key(k))
	if cmd != nil {
		m.Update(cmd())
	}
}

func sampleAlerts() []domain.Alert {
	return []domain.Alert{
		{ID: 11, LimitType: "POSITION_LIMIT", Trader: "alice", Symbol: "AAPL", Severity: domain.SeverityCritical,
			ActualValue: decimal.NewFromInt(250000), Threshold: decimal.NewFromInt(100000)},
		{ID: 12, LimitType: "NOTIONAL_LIMIT", Trader: "bob", Symbol: "MSFT", Severity: domain.SeverityLow,
			ActualValue: decimal.NewFromInt(1100), Threshold: decimal.NewFromInt(1000)},
	}
}

func TestModel_RendersEveryCard(t *testing.T) {
	m, store, _ := newModel(t)
	store.SetAlerts(sampleAlerts())
	store.SetPositions([]domain.Position{
		{Trader: "alice", Symbol: "AAPL", Quantity: 120},
		{Trader: "alice", Symbol: "TSLA", Quantity: -30},
	})
	store.SetTrades([]domain.Trade{
		{Trader: "carol", Symbol: "NVDA", Quantity: 10, Price: decimal.RequireFromString("120.5"), Side: domain.SideBuy},
		{Trader: "dave", Symbol: "AMZN", Quantity: 2, Price: decimal.NewFromInt(180), Side: domain.SideSell},
	})
	store.SetQuotes([]domain.MarketQuote{{
		Symbol: "AAPL",
		PriceData: domain.PriceData{
			Price:         decimal.RequireFromString("189.25"),
			Change:        decimal.RequireFromString("-1.5"),
			ChangePercent: decimal.RequireFromString("-0.79"),
			Expired:       true,
		},
	}})
	m.Update(changedMsg{})

	view := m.View()
	for _, want := range []string{
		"Sentinel", "Disconnected",
		"Risk Alerts", "2 Active", "POSITION LIMIT", "$250,000", "$100,000",
		"Trader Positions", "2 Positions", "$15,000", "+120", "-30",
		"Risk Metrics", "CRITICAL",
		"Market Data", "$189.25", "-1.50 (-0.79%)", "[过期]",
		"Recent Trades", "$1,205.00", "$360.00",
	} {
		assert.Contains(t, view, want)
	}
}

func TestModel_EmptyState(t *testing.T) {
	m, _, _ := newModel(t)
	view := m.View()
	assert.Contains(t, view, "0 Active")
	assert.Contains(t, view, "暂无持仓")
	assert.Contains(t, view, "暂无成交")
	assert.Contains(t, view, "SAFE")
}

func TestModel_SelectAndAcknowledge(t *testing.T) {
	m, store, actions := newModel(t)
	store.SetAlerts(sampleAlerts())
	m.Update(changedMsg{})

	press(t, m, "down")
	press(t, m, "down")
	assert.Equal(t, 1, m.selected, "不越过最后一条")

	press(t, m, "a")
	assert.Equal(t, []int64{12}, actions.acked)
	assert.Contains(t, m.status, "完成")

	press(t, m, "up")
	press(t, m, "up")
	assert.Equal(t, 0, m.selected)
}

func TestModel_AcknowledgeFailureShowsStatus(t *testing.T) {
	m, store, actions := newModel(t)
	actions.ackErr = errors.New("boom")
	store.SetAlerts(sampleAlerts())
	m.Update(changedMsg{})

	press(t, m, "a")
	assert.Contains(t, m.status, "boom")
	assert.False(t, m.busy)
}

func TestModel_SelectionClampsWhenAlertsShrink(t *testing.T) {
	m, store, _ := newModel(t)
	store.SetAlerts(sampleAlerts())
	m.Update(changedMsg{})
	press(t, m, "down")

	store.Acknowledge(12)
	m.Update(changedMsg{})
	assert.Equal(t, 0, m.selected)
}

func TestModel_RefreshKeys(t *testing.T) {
	m, _, actions := newModel(t)
	press(t, m, "r")
	press(t, m, "m")
	assert.Equal(t, 1, actions.loads)
	assert.Equal(t, []bool{true}, actions.market)
}

func TestModel_OneActionAtATime(t *testing.T) {
	m, _, actions := newModel(t)
	_, first := m.Update(key("r"))
	require.NotNil(t, first)
	_, second := m.Update(key("r"))
	assert.Nil(t, second)

	m.Update(first())
	assert.Equal(t, 1, actions.loads)
	assert.False(t, m.busy)
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := newModel(t)
	quit := false
	m.OnQuit = func() { quit = true }

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, quit)
}

func TestModel_WaitForChange(t *testing.T) {
	m, store, _ := newModel(t)
	cmd := m.waitForChange()

	go store.SetConnected(true)
	select {
	case msg := <-runCmd(cmd):
		assert.IsType(t, changedMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no change")
	}

	m.Update(changedMsg{})
	assert.Contains(t, m.View(), "Connected")
}

func TestModel_WaitForChangeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, state.NewStore(), nil)
	cmd := m.waitForChange()
	cancel()
	assert.Nil(t, cmd())
}

func runCmd(cmd tea.Cmd) <-chan tea.Msg {
	out := make(chan tea.Msg, 1)
	go func() { out <- cmd() }()
	return out
}
