// Package stompws 实现基于 WebSocket 的 STOMP 1.2 传输层
// 对接 Spring 的 /ws 端点（simple broker，/topic 前缀）
package stompws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

const (
	// DefaultURL SockJS 端点的原生 WebSocket 路径
	DefaultURL = "ws://localhost:8080/ws/websocket"

	defaultHandshakeTimeout  = 10 * time.Second
	defaultDisconnectTimeout = 3 * time.Second
	defaultReadBufferSize    = 64 * 1024
	defaultWriteBufferSize   = 16 * 1024

	contentTypeJSON = "application/json"
)

// Config STOMP 传输配置
type Config struct {
	URL              string
	Login            string
	Passcode         string
	Host             string        // STOMP host 头，为空时取 URL 的主机名
	HeartBeat        time.Duration // 心跳间隔，0 表示不使用心跳
	HandshakeTimeout time.Duration
	ProxyURL         string
	Header           http.Header
}

// Transport 实现 realtime.Transport
type Transport struct {
	config Config
}

// New 创建 STOMP 传输
func New(config Config) *Transport {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Transport{config: config}
}

// Dial 建立 WebSocket 连接并完成 STOMP 握手
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	u, err := url.Parse(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("无效的 URL %q: %w", t.config.URL, err)
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   defaultReadBufferSize,
		WriteBufferSize:  defaultWriteBufferSize,
		HandshakeTimeout: t.config.HandshakeTimeout,
	}
	if t.config.ProxyURL != "" {
		proxyURL, err := url.Parse(t.config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
		logger.Infof("[stomp] 使用代理: %s", t.config.ProxyURL)
	}

	headers := make(http.Header)
	for k, v := range t.config.Header {
		headers[k] = append([]string(nil), v...)
	}
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", "sentinel-client/1.0")
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("websocket 连接失败: %w", err)
	}
	rwc := newWSConn(ws)

	host := t.config.Host
	if host == "" {
		host = u.Hostname()
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(t.config.HeartBeat, t.config.HeartBeat),
	}
	if t.config.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(t.config.Login, t.config.Passcode))
	}

	// 握手阶段 ctx 取消时直接关闭底层连接，让 stomp.Connect 返回
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	conn, err := stomp.Connect(rwc, opts...)
	stop()
	if err != nil {
		_ = rwc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stomp 握手失败: %w", err)
	}

	logger.Debugf("[stomp] 已连接 %s (STOMP %s)", u.Redacted(), conn.Version())
	return &session{conn: conn, rwc: rwc}, nil
}

type session struct {
	conn *stomp.Conn
	rwc  *wsConn

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Subscribe(topic string, fn func(body []byte)) (realtime.Handle, error) {
	sub, err := s.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("订阅 %s 失败: %w", topic, err)
	}
	h := &handle{topic: topic, sub: sub}
	go h.pump(fn)
	return h, nil
}

func (s *session) Send(topic string, body []byte) error {
	if err := s.conn.Send(topic, contentTypeJSON, body); err != nil {
		return fmt.Errorf("发送到 %s 失败: %w", topic, err)
	}
	return nil
}

func (s *session) Done() <-chan struct{} { return s.rwc.Done() }

func (s *session) Err() error { return s.rwc.Err() }

// Close 发送 DISCONNECT 并等待回执，超时后直接关闭连接
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.rwc.closing.Store(true)
		done := make(chan error, 1)
		go func() { done <- s.conn.Disconnect() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Debugf("[stomp] DISCONNECT: %v", err)
			}
		case <-time.After(defaultDisconnectTimeout):
			logger.Warnf("[stomp] 等待 DISCONNECT 回执超时")
		}
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

type handle struct {
	topic     string
	sub       *stomp.Subscription
	cancelled atomic.Bool
}

func (h *handle) Topic() string { return h.topic }

// Unsubscribe 立即停止投递，UNSUBSCRIBE 帧在后台发送
func (h *handle) Unsubscribe() error {
	if !h.cancelled.CompareAndSwap(false, true) {
		return fmt.Errorf("订阅 %s 已取消", h.topic)
	}
	go func() {
		if err := h.sub.Unsubscribe(); err != nil {
			logger.Debugf("[stomp] 取消订阅 %s: %v", h.topic, err)
		}
	}()
	return nil
}

// pump 按到达顺序投递一个订阅上的消息
func (h *handle) pump(fn func(body []byte)) {
	for msg := range h.sub.C {
		if msg.Err != nil {
			if !h.cancelled.Load() {
				logger.Debugf("[stomp] 订阅 %s 结束: %v", h.topic, msg.Err)
			}
			return
		}
		if h.cancelled.Load() {
			continue
		}
		fn(msg.Body)
	}
}
