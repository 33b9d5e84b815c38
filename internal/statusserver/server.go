// Package statusserver 提供本地 HTTP 状态接口，供脚本和监控查看面板运行情况
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/sentinel/internal/journal"
	"github.com/betbot/sentinel/internal/metrics"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/ratelimit"
	"github.com/betbot/sentinel/pkg/realtime"
)

const (
	shutdownTimeout = 2 * time.Second
	maxPublishBody  = 1 << 20

	// 写接口默认限流：突发 10 次，每秒补充 5 次
	defaultWriteBurst = 10
	defaultWriteRate  = 5
)

// Realtime 是状态接口用到的实时客户端能力
type Realtime interface {
	Status() realtime.Status
	Send(topic string, payload any) error
}

// JournalReader 读取推送日志
type JournalReader interface {
	Recent(ctx context.Context, topic string, limit int) ([]journal.Entry, error)
	Count(ctx context.Context) (map[string]int64, error)
}

// Acknowledger 确认告警
type Acknowledger interface {
	Acknowledge(ctx context.Context, id int64) error
}

// Deps 状态服务依赖，Journal 和 Acknowledger 可以为空
type Deps struct {
	Realtime     Realtime
	Store        *state.Store
	Journal      JournalReader
	Acknowledger Acknowledger
	// WriteLimit 限制确认和发布等写接口，为空时使用默认令牌桶
	WriteLimit ratelimit.RateLimiter
	// Debug 为 true 时挂载 /debug/vars 和 /debug/pprof
	Debug bool
}

// Server 状态服务
type Server struct {
	deps    Deps
	started time.Time
	http    *http.Server
}

// New 创建状态服务
func New(deps Deps) *Server {
	if deps.WriteLimit == nil {
		deps.WriteLimit = ratelimit.NewTokenBucket(defaultWriteBurst, defaultWriteRate)
	}
	return &Server{deps: deps, started: time.Now()}
}

// Router 返回路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/journal", s.handleJournal)
	writes := api.Group("", s.limitWrites)
	writes.POST("/alerts/:id/acknowledge", s.handleAcknowledge)
	writes.POST("/publish", s.handlePublish)

	if s.deps.Debug {
		metrics.Register(r)
	}
	return r
}

// Start 非阻塞地开始监听，ctx 结束时优雅关闭
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[status] 服务异常退出: %v", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	})

	logger.Infof("[status] 状态服务已启动: http://%s", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) limitWrites(c *gin.Context) {
	if !s.deps.WriteLimit.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}
	c.Next()
}

type statusResponse struct {
	Realtime      realtime.Status  `json:"realtime"`
	Connected     bool             `json:"connected"`
	LastError     string           `json:"last_error,omitempty"`
	Alerts        int              `json:"alerts"`
	Positions     int              `json:"positions"`
	Trades        int              `json:"trades"`
	Quotes        int              `json:"quotes"`
	RiskLevel     string           `json:"risk_level"`
	UpdatedAt     time.Time        `json:"updated_at,omitzero"`
	Uptime        string           `json:"uptime"`
	JournalCounts map[string]int64 `json:"journal_counts,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.deps.Store.Snapshot()
	resp := statusResponse{
		Connected: snap.Connected,
		LastError: snap.LastError,
		Alerts:    len(snap.Alerts),
		Positions: len(snap.Positions),
		Trades:    len(snap.Trades),
		Quotes:    len(snap.Quotes),
		RiskLevel: string(snap.Metrics.Level),
		UpdatedAt: snap.UpdatedAt,
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.deps.Realtime != nil {
		resp.Realtime = s.deps.Realtime.Status()
	}
	if s.deps.Journal != nil {
		counts, err := s.deps.Journal.Count(c.Request.Context())
		if err != nil {
			logger.Warnf("[status] 读取日志统计失败: %v", err)
		} else {
			resp.JournalCounts = counts
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.deps.Journal.Recent(c.Request.Context(), c.Query("topic"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	if s.deps.Acknowledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "acknowledge disabled"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if err := s.deps.Acknowledger.Acknowledge(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// handlePublish 把请求体原样作为 JSON 发到 ?topic=，未连接时与客户端一致地静默丢弃
func (s *Server) handlePublish(c *gin.Context) {
	if s.deps.Realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime disabled"})
		return
	}
	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPublishBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be valid json"})
		return
	}
	payload := json.RawMessage(body)
	connected := s.deps.Realtime.Status().Connected
	if err := s.deps.Realtime.Send(topic, payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "sent": connected})
}
