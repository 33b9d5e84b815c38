package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/sentinel/pkg/logger"
)

// Client 管理到消息代理的连接和订阅
//
// 订阅表（topic -> Handler）代表调用方期望的订阅集合，与连接状态无关；
// 传输层上的实际订阅是订阅表的投影，每次连接成功后全量重建，全部恢复后才进入 Connected。
// 所有回调（消息处理、onConnected、onError）串行执行，互不并发。
//
// mu 不跨传输层 I/O 持有；消息投递只读 regMu 和 live，不等待 mu。
// 需要同时持有时先 mu 后 regMu。
type Client struct {
	transport Transport
	config    *Config
	scheduler Scheduler

	mu sync.Mutex
	// 连接相关
	state      State
	session    Session
	generation uint64 // Disconnect 时递增，用于丢弃过期的拨号和重连
	dialCancel context.CancelFunc
	lastErr    error
	handles    map[string]Handle // 当前会话上的订阅句柄

	// 订阅表
	regMu         sync.RWMutex
	subscriptions map[string]Handler

	// 当前会话，供消息投递判断是否过期
	live atomic.Pointer[liveSession]

	// 重连状态
	reconnectAttempts int
	retry             Timer

	// 回调串行化
	dispatchMu sync.Mutex
}

type liveSession struct {
	sess Session
}

// Option 客户端选项
type Option func(*Client)

// WithScheduler 替换重连调度器
func WithScheduler(s Scheduler) Option {
	return func(c *Client) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// NewClient 使用默认配置创建客户端
func NewClient(transport Transport, opts ...Option) *Client {
	return NewClientWithConfig(transport, DefaultConfig(), opts...)
}

// NewClientWithConfig 使用自定义配置创建客户端
func NewClientWithConfig(transport Transport, config *Config, opts ...Option) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.normalize()

	c := &Client{
		transport:     transport,
		config:        &cfg,
		scheduler:     SystemScheduler(),
		state:         StateDisconnected,
		subscriptions: make(map[string]Handler),
		handles:       make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect 异步建立连接
// 成功时补订订阅表中的全部 topic 后调用 onConnected；失败时调用 onError 并按线性退避自动重连。
// 已在连接中或已连接时忽略本次调用。
func (c *Client) Connect(onConnected func(), onError func(error)) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		logger.Debugf("[realtime] 当前状态为 %s，忽略 Connect", state)
		return
	}
	// 手动连接取代尚未触发的自动重连
	c.stopRetryLocked()
	ctx, gen := c.beginDialLocked()
	c.mu.Unlock()

	go c.dial(ctx, gen, onConnected, onError)
}

// beginDialLocked 进入连接中状态，调用方必须持有 c.mu
func (c *Client) beginDialLocked() (context.Context, uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	c.state = StateConnecting
	c.dialCancel = cancel
	return ctx, c.generation
}

func (c *Client) dial(ctx context.Context, gen uint64, onConnected func(), onError func(error)) {
	sess, err := c.transport.Dial(ctx)

	c.mu.Lock()
	if gen != c.generation {
		// 拨号期间调用了 Disconnect，丢弃结果
		c.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	if err != nil {
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()

		logger.Errorf("[realtime] 连接失败: %v", err)
		c.notifyError(onError, err)
		c.scheduleReconnect(gen, onConnected, onError)
		return
	}

	// 订阅全部恢复前保持 Connecting，Send 在此期间不发送
	c.setSessionLocked(sess)
	c.handles = make(map[string]Handle)
	c.mu.Unlock()

	restored, err := c.resubscribe(gen, sess)
	if errors.Is(err, errStaleSession) {
		return
	}
	if err != nil {
		c.failSession(gen, sess, err, onConnected, onError)
		return
	}

	logger.Infof("[realtime] 已连接，恢复订阅 %d 个", restored)
	go c.watch(gen, sess, onConnected, onError)

	if onConnected != nil {
		c.deliver(onConnected)
	}
}

// errStaleSession 会话在恢复订阅期间被 Disconnect 取代
var errStaleSession = errors.New("realtime: stale session")

// resubscribe 在新会话上重建订阅表中的全部订阅，不持锁做传输层 I/O
// 恢复期间新增的 topic 也会补订；全部成功后进入 Connected 并清零重连计数。
func (c *Client) resubscribe(gen uint64, sess Session) (int, error) {
	restored := 0
	for {
		c.mu.Lock()
		if gen != c.generation || c.session != sess {
			c.mu.Unlock()
			return restored, errStaleSession
		}
		pending := c.pendingTopicsLocked()
		if len(pending) == 0 {
			c.state = StateConnected
			c.reconnectAttempts = 0
			c.lastErr = nil
			c.mu.Unlock()
			return restored, nil
		}
		c.mu.Unlock()

		for _, topic := range pending {
			h, err := sess.Subscribe(topic, c.messageHandler(sess, topic))
			if err != nil {
				return restored, fmt.Errorf("%w %s: %v", ErrResubscribe, topic, err)
			}
			installed, err := c.installHandle(gen, sess, topic, h)
			if err != nil {
				return restored, err
			}
			if installed {
				restored++
			}
		}
	}
}

// pendingTopicsLocked 订阅表中还没有会话句柄的 topic，调用方必须持有 c.mu
func (c *Client) pendingTopicsLocked() []string {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	var pending []string
	for topic := range c.subscriptions {
		if _, ok := c.handles[topic]; !ok {
			pending = append(pending, topic)
		}
	}
	sort.Strings(pending)
	return pending
}

// installHandle 登记会话上新建的订阅句柄
// 会话已过期或 topic 已被取消订阅时撤销该订阅；替换旧句柄时取消旧订阅。
func (c *Client) installHandle(gen uint64, sess Session, topic string, h Handle) (bool, error) {
	c.mu.Lock()
	if gen != c.generation || c.session != sess {
		c.mu.Unlock()
		unsubscribeQuietly(h)
		return false, errStaleSession
	}
	c.regMu.RLock()
	_, wanted := c.subscriptions[topic]
	c.regMu.RUnlock()
	if !wanted {
		c.mu.Unlock()
		unsubscribeQuietly(h)
		return false, nil
	}
	old := c.handles[topic]
	c.handles[topic] = h
	c.mu.Unlock()

	if old != nil {
		unsubscribeQuietly(old)
	}
	return true, nil
}

func unsubscribeQuietly(h Handle) {
	if err := h.Unsubscribe(); err != nil {
		logger.Debugf("[realtime] 取消订阅 %s 失败: %v", h.Topic(), err)
	}
}

// messageHandler 传输层回调，消息交给 dispatch
func (c *Client) messageHandler(sess Session, topic string) func(body []byte) {
	return func(body []byte) {
		c.dispatch(sess, topic, body)
	}
}

// setSessionLocked 切换当前会话，调用方必须持有 c.mu
func (c *Client) setSessionLocked(sess Session) {
	c.session = sess
	if sess == nil {
		c.live.Store(nil)
		return
	}
	c.live.Store(&liveSession{sess: sess})
}

// failSession 恢复订阅失败按连接错误处理：关闭会话并进入重连流程
func (c *Client) failSession(gen uint64, sess Session, err error, onConnected func(), onError func(error)) {
	c.mu.Lock()
	if gen != c.generation || c.session != sess {
		c.mu.Unlock()
		return
	}
	c.setSessionLocked(nil)
	c.handles = make(map[string]Handle)
	c.state = StateDisconnected
	c.lastErr = err
	c.mu.Unlock()

	_ = sess.Close()
	logger.Errorf("[realtime] 恢复订阅失败，关闭连接: %v", err)
	c.notifyError(onError, err)
	c.scheduleReconnect(gen, onConnected, onError)
}

// watch 等待会话结束，被动断开时触发重连
func (c *Client) watch(gen uint64, sess Session, onConnected func(), onError func(error)) {
	<-sess.Done()

	c.mu.Lock()
	if gen != c.generation || c.session != sess {
		c.mu.Unlock()
		return
	}
	err := sess.Err()
	if err == nil {
		err = ErrConnectionLost
	}
	c.setSessionLocked(nil)
	c.handles = make(map[string]Handle)
	c.state = StateDisconnected
	c.lastErr = err
	c.mu.Unlock()

	logger.Warnf("[realtime] 连接断开: %v", err)
	c.notifyError(onError, err)
	c.scheduleReconnect(gen, onConnected, onError)
}

// scheduleReconnect 按线性退避安排下一次重连
func (c *Client) scheduleReconnect(gen uint64, onConnected func(), onError func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// onError 回调里可能已经手动 Connect 或 Disconnect
	if gen != c.generation || c.state != StateDisconnected || c.retry != nil {
		return
	}

	if c.reconnectAttempts >= c.config.MaxReconnectAttempts {
		logger.Errorf("[realtime] 达到最大重连次数 (%d)，停止自动重连", c.config.MaxReconnectAttempts)
		return
	}

	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	delay := c.config.ReconnectDelayFor(attempt)
	logger.Infof("[realtime] %v 后重连 (尝试 %d/%d)...", delay, attempt, c.config.MaxReconnectAttempts)

	c.retry = c.scheduler.AfterFunc(delay, func() {
		c.retryConnect(gen, onConnected, onError)
	})
}

func (c *Client) retryConnect(gen uint64, onConnected func(), onError func(error)) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	ctx, gen := c.beginDialLocked()
	c.mu.Unlock()

	c.dial(ctx, gen, onConnected, onError)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// Subscribe 订阅 topic，同一 topic 重复订阅会覆盖之前的 Handler
// 已连接时立即在传输层订阅并返回句柄；未连接时只保存到订阅表（连接后自动补订），返回 nil。
func (c *Client) Subscribe(topic string, handler Handler) Handle {
	if handler == nil {
		logger.Warnf("[realtime] 订阅 %s 的 handler 为空，忽略", topic)
		return nil
	}

	c.mu.Lock()
	c.regMu.Lock()
	c.subscriptions[topic] = handler
	c.regMu.Unlock()

	if c.state != StateConnected || c.session == nil {
		state := c.state
		c.mu.Unlock()
		if state == StateDisconnected {
			logger.Warnf("[realtime] 未连接，订阅 %s 已保存，连接后自动订阅", topic)
		}
		return nil
	}
	sess, gen := c.session, c.generation
	c.mu.Unlock()

	h, err := sess.Subscribe(topic, c.messageHandler(sess, topic))
	if err != nil {
		logger.Warnf("[realtime] 订阅 %s 失败，将在重连后重试: %v", topic, err)
		return nil
	}
	installed, err := c.installHandle(gen, sess, topic, h)
	if err != nil || !installed {
		return nil
	}
	logger.Debugf("[realtime] 已订阅 %s", topic)
	return h
}

// Unsubscribe 从订阅表移除 topic，并取消当前会话上的订阅
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	c.regMu.Lock()
	delete(c.subscriptions, topic)
	c.regMu.Unlock()
	h := c.handles[topic]
	delete(c.handles, topic)
	c.mu.Unlock()

	if h != nil {
		unsubscribeQuietly(h)
	}
}

// Send 将 payload 序列化为 JSON 后发送到 topic
// 未连接时不发送，只记录警告并返回 nil；仅在 payload 无法序列化时返回错误。
func (c *Client) Send(topic string, payload any) error {
	c.mu.Lock()
	sess := c.session
	connected := c.state == StateConnected && sess != nil
	c.mu.Unlock()

	if !connected {
		logger.Warnf("[realtime] 未连接，无法发送消息到 %s", topic)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodePayload, err)
	}

	if err := sess.Send(topic, body); err != nil {
		// 连接问题交给 watch/重连处理，不向调用方抛出
		logger.Warnf("[realtime] 发送到 %s 失败: %v", topic, err)
	}
	return nil
}

// Disconnect 关闭连接并清空订阅表，同时取消尚未触发的重连
// 之后需要重新 Subscribe 才能恢复订阅。
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.stopRetryLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	sess := c.session
	c.setSessionLocked(nil)
	c.regMu.Lock()
	c.subscriptions = make(map[string]Handler)
	c.regMu.Unlock()
	c.handles = make(map[string]Handle)
	c.state = StateDisconnected
	c.reconnectAttempts = 0
	c.lastErr = nil
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			logger.Debugf("[realtime] 关闭会话: %v", err)
		}
		logger.Info("[realtime] 已断开连接")
	}
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State 返回当前连接状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts 返回当前连续重连次数
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

// Topics 返回订阅表中的 topic（已排序）
func (c *Client) Topics() []string {
	c.regMu.RLock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.regMu.RUnlock()
	sort.Strings(topics)
	return topics
}

// Status 返回客户端状态快照
func (c *Client) Status() Status {
	topics := c.Topics()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:             c.state.String(),
		Connected:         c.state == StateConnected,
		ReconnectAttempts: c.reconnectAttempts,
		MaxAttempts:       c.config.MaxReconnectAttempts,
		Topics:            topics,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// dispatch 校验并投递一条消息
// 解析失败只丢弃这一条，不影响连接和订阅表。
func (c *Client) dispatch(sess Session, topic string, body []byte) {
	c.regMu.RLock()
	handler, ok := c.subscriptions[topic]
	c.regMu.RUnlock()
	live := c.live.Load()
	current := live != nil && live.sess == sess

	if !ok || !current {
		logger.Debugf("[realtime] 丢弃 %s 的消息（已取消订阅或会话已过期）", topic)
		return
	}

	if !json.Valid(body) {
		logger.Errorf("[realtime] 解析消息失败 topic=%s: %s", topic, preview(body))
		return
	}

	msg := Message{
		Topic:      topic,
		Payload:    json.RawMessage(append([]byte(nil), body...)),
		ReceivedAt: time.Now(),
	}
	c.deliver(func() { handler(msg) })
}

func (c *Client) notifyError(onError func(error), err error) {
	if onError == nil {
		return
	}
	c.deliver(func() { onError(err) })
}

// deliver 串行执行回调，回调 panic 只记录日志
func (c *Client) deliver(fn func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[realtime] 回调 panic: %v", r)
		}
	}()
	fn()
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > maxPayloadPreview {
		s = s[:maxPayloadPreview] + "..."
	}
	return s
}
