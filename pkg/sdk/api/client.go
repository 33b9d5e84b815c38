package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/pkg/cache"
	"github.com/betbot/sentinel/pkg/logger"
	sdkhttp "github.com/betbot/sentinel/pkg/sdk/http"
)

const (
	// DefaultBaseURL 未配置时使用的 Sentinel 服务地址
	DefaultBaseURL = "http://localhost:8080"

	// DefaultMarketCacheTTL 行情概览缓存时长
	DefaultMarketCacheTTL = 10 * time.Second

	// RecentTradesLimit 看板保留的最近成交数
	RecentTradesLimit = 10

	marketOverviewKey = "market-overview"
)

// 接口路径（相对 BaseURL）
const (
	pathHealth              = "/api/health"
	pathAlerts              = "/api/alerts"
	pathPositions           = "/api/positions"
	pathTrades              = "/trades"
	pathMarketOverview      = "/api/live-trading/market-overview"
	pathMarketOverviewFresh = "/api/live-trading/market-overview/refresh"
	pathLivePrice           = "/api/live-trading/price/"
	pathExecute             = "/api/live-trading/execute"
	pathRecentTrades        = "/api/live-trading/trades/"
	pathSymbols             = "/api/live-trading/symbols"
)

// Config REST 客户端配置
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MarketCacheTTL time.Duration
	ProxyURL       string
	// RetryCount 非 nil 时覆盖 HTTP 重试次数
	RetryCount *int
	// RetryWait 覆盖重试基础等待时间
	RetryWait time.Duration
}

// Client Sentinel REST API 客户端
type Client struct {
	BaseURL string

	http        *sdkhttp.Client
	marketCache *cache.InMemoryCache[string, []domain.MarketQuote]
	marketTTL   time.Duration
}

// NewClient 使用默认配置创建客户端
func NewClient(baseURL string) *Client {
	return NewClientWithConfig(Config{BaseURL: baseURL})
}

// NewClientWithConfig 使用自定义配置创建客户端
func NewClientWithConfig(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MarketCacheTTL == 0 {
		cfg.MarketCacheTTL = DefaultMarketCacheTTL
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		BaseURL: baseURL,
		http: sdkhttp.NewClientWithOptions(baseURL, sdkhttp.Options{
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
			RetryWait:  cfg.RetryWait,
			ProxyURL:   cfg.ProxyURL,
		}),
		marketCache: cache.NewInMemoryCache[string, []domain.MarketQuote](cfg.MarketCacheTTL),
		marketTTL:   cfg.MarketCacheTTL,
	}
}

// Close 释放后台资源
func (c *Client) Close() {
	c.marketCache.Close()
}

// do 执行请求，传输失败和非 2xx 响应都转换为错误
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var opt *sdkhttp.RequestOptions
	if body != nil {
		opt = &sdkhttp.RequestOptions{Data: body}
	}
	resp, err := c.http.DoRequest(ctx, method, path, opt, out)
	if err != nil {
		logger.Warnf("[api] %s %s failed: %v", method, path, err)
		return errors.Wrap(err, "sentinel api")
	}
	return checkResponse(method, path, resp)
}

func checkResponse(method, path string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{
		Status: resp.StatusCode(),
		Method: method,
		Path:   path,
		Body:   string(resp.Body()),
	}
	logger.Warnf("[api] %v", apiErr)
	return apiErr
}

// GetHealth 获取服务健康状态
func (c *Client) GetHealth(ctx context.Context) (*domain.Health, error) {
	var h domain.Health
	if err := c.do(ctx, http.MethodGet, pathHealth, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetAlerts 获取当前的超限告警
func (c *Client) GetAlerts(ctx context.Context) ([]domain.Alert, error) {
	var alerts []domain.Alert
	if err := c.do(ctx, http.MethodGet, pathAlerts, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// AcknowledgeAlert 在服务端确认告警
func (c *Client) AcknowledgeAlert(ctx context.Context, id int64) error {
	path := pathAlerts + "/" + strconv.FormatInt(id, 10) + "/acknowledge"
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// GetPositions 获取全部交易员持仓
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	if err := c.do(ctx, http.MethodGet, pathPositions, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetTrades 获取已登记的成交
func (c *Client) GetTrades(ctx context.Context) ([]domain.Trade, error) {
	var trades []domain.Trade
	if err := c.do(ctx, http.MethodGet, pathTrades, nil, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetLatestTrades 返回最多 RecentTradesLimit 条成交，保持服务端的最新优先顺序
func (c *Client) GetLatestTrades(ctx context.Context) ([]domain.Trade, error) {
	trades, err := c.GetTrades(ctx)
	if err != nil {
		return nil, err
	}
	if len(trades) > RecentTradesLimit {
		trades = trades[:RecentTradesLimit]
	}
	return trades, nil
}

// CreateTrade 登记成交，返回服务端保存的记录
func (c *Client) CreateTrade(ctx context.Context, trade domain.Trade) (*domain.Trade, error) {
	var created domain.Trade
	if err := c.do(ctx, http.MethodPost, pathTrades, trade, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetMarketOverview 获取交易品种的行情概览
// 结果会缓存；refresh 为 true 时跳过缓存并让服务端重新拉取价格。
func (c *Client) GetMarketOverview(ctx context.Context, refresh bool) ([]domain.MarketQuote, error) {
	if !refresh && c.marketTTL > 0 {
		if quotes, ok := c.marketCache.Get(marketOverviewKey); ok {
			return quotes, nil
		}
	}

	path := pathMarketOverview
	if refresh {
		path = pathMarketOverviewFresh
	}
	var quotes []domain.MarketQuote
	if err := c.do(ctx, http.MethodGet, path, nil, &quotes); err != nil {
		return nil, err
	}
	if c.marketTTL > 0 {
		c.marketCache.Set(marketOverviewKey, quotes, c.marketTTL)
	}
	return quotes, nil
}

// GetLivePrice 获取单个品种的最新价格
func (c *Client) GetLivePrice(ctx context.Context, symbol string) (*domain.LivePrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Reason: "required"}
	}
	var p domain.LivePrice
	if err := c.do(ctx, http.MethodGet, pathLivePrice+url.PathEscape(symbol), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ExecuteLiveTrade 本地校验 req 后按实时价格提交执行
func (c *Client) ExecuteLiveTrade(ctx context.Context, req domain.LiveTradeRequest) (*domain.Trade, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var executed domain.Trade
	if err := c.do(ctx, http.MethodPost, pathExecute, req, &executed); err != nil {
		return nil, err
	}
	logger.Infof("[api] executed %s %d %s for %s @ %s", executed.Side, executed.Quantity, executed.Symbol, executed.Trader, executed.Price)
	return &executed, nil
}

// GetRecentTrades 获取品种的最近市场成交
func (c *Client) GetRecentTrades(ctx context.Context, symbol string) ([]domain.MarketTrade, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Reason: "required"}
	}
	var trades []domain.MarketTrade
	if err := c.do(ctx, http.MethodGet, pathRecentTrades+url.PathEscape(symbol), nil, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetAvailableSymbols 列出服务端支持交易的品种
func (c *Client) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := c.do(ctx, http.MethodGet, pathSymbols, nil, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}
