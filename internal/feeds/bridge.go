package feeds

import (
	"encoding/json"
	"time"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/metrics"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

// Recorder 记录收到的原始推送（例如消息日志）
type Recorder interface {
	Record(topic string, payload json.RawMessage, receivedAt time.Time) error
}

// Client 是 Bridge 需要的实时客户端能力
type Client interface {
	Subscriber
	Connect(onConnected func(), onError func(error))
	Disconnect()
}

// Bridge 把实时推送写入状态存储
//
// 告警插到最前面，持仓整体替换，成交插到最前面并只保留最近 10 条。
type Bridge struct {
	client   Client
	store    *state.Store
	recorder Recorder

	// OnConnected 连接成功（含重连）后调用，可用于补拉 REST 数据
	OnConnected func()
}

// BridgeOption 配置 Bridge
type BridgeOption func(*Bridge)

// WithRecorder 额外把每条推送交给 r
func WithRecorder(r Recorder) BridgeOption {
	return func(b *Bridge) { b.recorder = r }
}

// NewBridge 创建 Bridge
func NewBridge(client Client, store *state.Store, opts ...BridgeOption) *Bridge {
	b := &Bridge{client: client, store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start 注册订阅并发起连接
// 订阅先进入订阅表，连接成功后由客户端统一补订。
func (b *Bridge) Start() {
	SubscribeAlerts(b, func(a domain.Alert) {
		logger.Infof("[feeds] 新告警 %s %s/%s", a.EffectiveSeverity(), a.Trader, a.Symbol)
		b.store.PrependAlert(a)
	})
	SubscribePositions(b, b.store.SetPositions)
	SubscribeTrades(b, b.store.PrependTrade)

	b.client.Connect(b.handleConnected, b.handleError)
}

// Stop 断开连接，订阅表随之清空
func (b *Bridge) Stop() {
	b.client.Disconnect()
	b.store.SetConnected(false)
}

func (b *Bridge) handleConnected() {
	logger.Info("[feeds] 实时推送已连接")
	b.store.SetConnected(true)
	if b.OnConnected != nil {
		b.OnConnected()
	}
}

func (b *Bridge) handleError(err error) {
	metrics.FeedErrors.Add(1)
	logger.Warnf("[feeds] 实时推送错误: %v", err)
	b.store.SetConnected(false)
	b.store.SetError(err)
}

// Subscribe 在订阅前先经过 Recorder，Bridge 因此也是一个 Subscriber
func (b *Bridge) Subscribe(topic string, handler realtime.Handler) realtime.Handle {
	return b.client.Subscribe(topic, func(msg realtime.Message) {
		metrics.FeedMessages.Add(topic, 1)
		b.record(msg)
		handler(msg)
	})
}

func (b *Bridge) record(msg realtime.Message) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Record(msg.Topic, msg.Payload, msg.ReceivedAt); err != nil {
		metrics.JournalErrors.Add(1)
		logger.Warnf("[feeds] 记录 %s 消息失败: %v", msg.Topic, err)
		return
	}
	metrics.JournalWrites.Add(1)
}
