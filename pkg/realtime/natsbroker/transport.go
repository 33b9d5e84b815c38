// Package natsbroker 实现基于 NATS 的传输层
package natsbroker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

const defaultTimeout = 5 * time.Second

// Config NATS 传输配置
type Config struct {
	URL           string
	Name          string
	Username      string
	Password      string
	Token         string
	SubjectPrefix string // 非空时 /topic/alerts -> <prefix>.topic.alerts
	Timeout       time.Duration
}

// Transport 实现 realtime.Transport
type Transport struct {
	config Config
}

// New 创建 NATS 传输
func New(config Config) *Transport {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.Name == "" {
		config.Name = "sentinel-dashboard"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Transport{config: config}
}

// MapSubject 把 STOMP 风格的目的地映射为 NATS subject
func MapSubject(prefix, topic string) string {
	subject := strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// ctxDialer 让建连过程受 ctx 约束
type ctxDialer struct {
	ctx    context.Context
	dialer net.Dialer
}

func (d *ctxDialer) Dial(network, address string) (net.Conn, error) {
	return d.dialer.DialContext(d.ctx, network, address)
}

func (t *Transport) options(ctx context.Context, s *session) []nats.Option {
	opts := []nats.Option{
		nats.Name(t.config.Name),
		nats.Timeout(t.config.Timeout),
		nats.NoReconnect(),
		nats.SetCustomDialer(&ctxDialer{ctx: ctx, dialer: net.Dialer{Timeout: t.config.Timeout}}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.finish(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.finish(nil)
		}),
	}
	if t.config.Username != "" {
		opts = append(opts, nats.UserInfo(t.config.Username, t.config.Password))
	}
	if t.config.Token != "" {
		opts = append(opts, nats.Token(t.config.Token))
	}
	return opts
}

// Dial 连接 NATS 服务器
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	s := &session{
		prefix: t.config.SubjectPrefix,
		done:   make(chan struct{}),
	}
	nc, err := nats.Connect(t.config.URL, t.options(ctx, s)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("nats 连接 %s 失败: %w", t.config.URL, err)
	}
	s.nc = nc
	logger.Debugf("[nats] 已连接 %s", nc.ConnectedAddr())
	return s, nil
}

type session struct {
	nc     *nats.Conn
	prefix string

	once    sync.Once
	done    chan struct{}
	errMu   sync.Mutex
	err     error
	closing atomic.Bool
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		if !s.closing.Load() {
			if err == nil {
				err = realtime.ErrConnectionLost
			}
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		close(s.done)
	})
}

func (s *session) Subscribe(topic string, fn func(body []byte)) (realtime.Handle, error) {
	subject := MapSubject(s.prefix, topic)
	h := &handle{topic: topic}
	sub, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
		if h.cancelled.Load() {
			return
		}
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("订阅 %s 失败: %w", subject, err)
	}
	h.sub = sub
	return h, nil
}

func (s *session) Send(topic string, body []byte) error {
	subject := MapSubject(s.prefix, topic)
	if err := s.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("发布到 %s 失败: %w", subject, err)
	}
	return nil
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.closing.Store(true)
	if err := s.nc.Flush(); err != nil {
		logger.Debugf("[nats] flush: %v", err)
	}
	s.nc.Close()
	s.finish(nil)
	return nil
}

type handle struct {
	topic     string
	sub       *nats.Subscription
	cancelled atomic.Bool
}

func (h *handle) Topic() string { return h.topic }

func (h *handle) Unsubscribe() error {
	if !h.cancelled.CompareAndSwap(false, true) {
		return fmt.Errorf("订阅 %s 已取消", h.topic)
	}
	return h.sub.Unsubscribe()
}
