package state

import (
	"slices"
	"sync"
	"time"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/pkg/sigchan"
)

const (
	// MaxTrades 最近成交最多保留条数
	MaxTrades = 10
	// MaxAlerts 本地保留的告警上限，超出的旧告警被丢弃
	MaxAlerts = 500
)

// Snapshot 是 Store 的一致性副本，可以安全地在 goroutine 之间传递
type Snapshot struct {
	Alerts          []domain.Alert       `json:"alerts"`
	Positions       []domain.Position    `json:"positions"`
	Trades          []domain.Trade       `json:"trades"`
	Quotes          []domain.MarketQuote `json:"quotes"`
	Metrics         domain.RiskMetrics   `json:"metrics"`
	Connected       bool                 `json:"connected"`
	LastError       string               `json:"last_error,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at,omitzero"`
	MarketUpdatedAt time.Time            `json:"market_updated_at,omitzero"`
	// Restored 为 true 表示数据来自本地快照，尚未被服务端数据覆盖
	Restored bool `json:"restored,omitempty"`
}

// Store 是面板的状态存储
// REST 加载和实时推送都写入这里，界面只读快照
type Store struct {
	mu sync.RWMutex

	alerts    []domain.Alert
	positions []domain.Position
	trades    []domain.Trade
	quotes    []domain.MarketQuote

	connected       bool
	lastErr         string
	updatedAt       time.Time
	marketUpdatedAt time.Time
	restored        bool

	now       func() time.Time
	listeners []*sigchan.Chan
}

// NewStore 创建空的状态存储
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Changes 注册一个变更通知，每次状态变化都会 Emit
func (s *Store) Changes() *sigchan.Chan {
	c := sigchan.New(1)
	s.mu.Lock()
	s.listeners = append(s.listeners, c)
	s.mu.Unlock()
	return c
}

// update 在写锁内执行 fn，然后通知所有监听者
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	s.updatedAt = s.now()
	listeners := s.listeners
	s.mu.Unlock()

	for _, c := range listeners {
		c.Emit()
	}
}

// SetAlerts 用服务端数据替换告警列表
func (s *Store) SetAlerts(alerts []domain.Alert) {
	s.update(func() {
		s.alerts = capAlerts(slices.Clone(alerts))
		s.restored = false
	})
}

// PrependAlert 新告警插到最前面
func (s *Store) PrependAlert(a domain.Alert) {
	s.update(func() {
		s.alerts = capAlerts(append([]domain.Alert{a}, s.alerts...))
	})
}

func capAlerts(alerts []domain.Alert) []domain.Alert {
	if len(alerts) > MaxAlerts {
		return alerts[:MaxAlerts]
	}
	return alerts
}

// Acknowledge 从本地移除告警，返回是否找到
func (s *Store) Acknowledge(id int64) bool {
	found := false
	s.update(func() {
		before := len(s.alerts)
		s.alerts = slices.DeleteFunc(s.alerts, func(a domain.Alert) bool { return a.ID == id })
		found = len(s.alerts) != before
	})
	return found
}

// SetPositions 整体替换持仓
func (s *Store) SetPositions(positions []domain.Position) {
	s.update(func() {
		s.positions = slices.Clone(positions)
		s.restored = false
	})
}

// SetTrades 替换最近成交，只保留前 MaxTrades 条
func (s *Store) SetTrades(trades []domain.Trade) {
	s.update(func() {
		if len(trades) > MaxTrades {
			trades = trades[:MaxTrades]
		}
		s.trades = slices.Clone(trades)
	})
}

// PrependTrade 新成交插到最前面，只保留 MaxTrades 条
func (s *Store) PrependTrade(t domain.Trade) {
	s.update(func() {
		trades := append([]domain.Trade{t}, s.trades...)
		if len(trades) > MaxTrades {
			trades = trades[:MaxTrades]
		}
		s.trades = trades
	})
}

// SetQuotes 替换行情
func (s *Store) SetQuotes(quotes []domain.MarketQuote) {
	s.update(func() {
		s.quotes = slices.Clone(quotes)
		s.marketUpdatedAt = s.now()
	})
}

// SetConnected 更新实时连接状态，连上时清除错误
func (s *Store) SetConnected(connected bool) {
	s.update(func() {
		s.connected = connected
		if connected {
			s.lastErr = ""
		}
	})
}

// SetError 记录最近一次错误，nil 清除
func (s *Store) SetError(err error) {
	s.update(func() {
		if err == nil {
			s.lastErr = ""
			return
		}
		s.lastErr = err.Error()
	})
}

// Restore 用本地快照填充状态，仅在还没有任何数据时生效
func (s *Store) Restore(snap Snapshot) bool {
	applied := false
	s.update(func() {
		if len(s.alerts) > 0 || len(s.positions) > 0 || len(s.trades) > 0 || len(s.quotes) > 0 {
			return
		}
		s.alerts = capAlerts(slices.Clone(snap.Alerts))
		s.positions = slices.Clone(snap.Positions)
		s.trades = slices.Clone(snap.Trades)
		if len(s.trades) > MaxTrades {
			s.trades = s.trades[:MaxTrades]
		}
		s.quotes = slices.Clone(snap.Quotes)
		s.marketUpdatedAt = snap.MarketUpdatedAt
		s.restored = true
		applied = true
	})
	return applied
}

// Alerts 返回告警副本
func (s *Store) Alerts() []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.alerts)
}

// Connected 返回实时连接状态
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Snapshot 返回当前状态的副本，风险指标按副本计算
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Alerts:          slices.Clone(s.alerts),
		Positions:       slices.Clone(s.positions),
		Trades:          slices.Clone(s.trades),
		Quotes:          slices.Clone(s.quotes),
		Connected:       s.connected,
		LastError:       s.lastErr,
		UpdatedAt:       s.updatedAt,
		MarketUpdatedAt: s.marketUpdatedAt,
		Restored:        s.restored,
	}
	s.mu.RUnlock()

	snap.Metrics = domain.ComputeRiskMetrics(snap.Alerts, snap.Positions)
	return snap
}
