package feeds

import (
	"context"
	"time"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/metrics"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/syncgroup"
)

// DefaultMarketRefresh 行情自动刷新间隔
const DefaultMarketRefresh = 30 * time.Second

// API 是 Loader 用到的 REST 接口
type API interface {
	GetAlerts(ctx context.Context) ([]domain.Alert, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetLatestTrades(ctx context.Context) ([]domain.Trade, error)
	GetMarketOverview(ctx context.Context, refresh bool) ([]domain.MarketQuote, error)
	AcknowledgeAlert(ctx context.Context, id int64) error
}

// Loader 通过 REST 拉取数据写入状态存储
type Loader struct {
	api   API
	store *state.Store
}

// NewLoader 创建 Loader
func NewLoader(api API, store *state.Store) *Loader {
	return &Loader{api: api, store: store}
}

// LoadAll 并发加载告警、持仓、最近成交
// 各块独立：一块失败不影响其他块写入，返回合并后的错误
func (l *Loader) LoadAll(ctx context.Context) error {
	metrics.APIRefreshes.Add(1)
	g := syncgroup.New()
	g.Go("alerts", func() error {
		alerts, err := l.api.GetAlerts(ctx)
		if err != nil {
			return err
		}
		l.store.SetAlerts(alerts)
		return nil
	})
	g.Go("positions", func() error {
		positions, err := l.api.GetPositions(ctx)
		if err != nil {
			return err
		}
		l.store.SetPositions(positions)
		return nil
	})
	g.Go("trades", func() error {
		trades, err := l.api.GetLatestTrades(ctx)
		if err != nil {
			return err
		}
		l.store.SetTrades(trades)
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.APIErrors.Add(1)
		logger.Warnf("[loader] 加载数据失败: %v", err)
		l.store.SetError(err)
		return err
	}
	l.store.SetError(nil)
	logger.Debug("[loader] 数据已加载")
	return nil
}

// RefreshMarket 加载行情，force 时让服务端重新拉取价格
func (l *Loader) RefreshMarket(ctx context.Context, force bool) error {
	quotes, err := l.api.GetMarketOverview(ctx, force)
	if err != nil {
		metrics.APIErrors.Add(1)
		logger.Warnf("[loader] 加载行情失败: %v", err)
		l.store.SetError(err)
		return err
	}
	l.store.SetQuotes(quotes)
	return nil
}

// Acknowledge 在服务端确认告警，成功后从本地移除
func (l *Loader) Acknowledge(ctx context.Context, id int64) error {
	if err := l.api.AcknowledgeAlert(ctx, id); err != nil {
		metrics.APIErrors.Add(1)
		logger.Warnf("[loader] 确认告警 %d 失败: %v", id, err)
		l.store.SetError(err)
		return err
	}
	l.store.Acknowledge(id)
	logger.Infof("[loader] 告警 %d 已确认", id)
	return nil
}

// RunMarketRefresh 立即加载一次行情，之后每隔 interval 刷新，直到 ctx 结束
func (l *Loader) RunMarketRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMarketRefresh
	}
	_ = l.RefreshMarket(ctx, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.RefreshMarket(ctx, false)
		}
	}
}
