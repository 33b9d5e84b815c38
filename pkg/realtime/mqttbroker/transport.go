// Package mqttbroker 实现基于 MQTT 的传输层
// paho 自带的自动重连被关闭，断线后的重连策略由 realtime.Client 统一负责
package mqttbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

const (
	defaultBroker         = "tcp://localhost:1883"
	defaultTopicPrefix    = "sentinel"
	defaultConnectTimeout = 10 * time.Second
	defaultOpTimeout      = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	defaultQuiesce        = 250 // 毫秒
	defaultQoS            = 1
)

var errOpTimeout = errors.New("mqtt: 操作超时")

// Config MQTT 传输配置
type Config struct {
	Broker      string // 例如 tcp://localhost:1883
	ClientID    string // 为空时自动生成
	Username    string
	Password    string
	TopicPrefix string // /topic/alerts -> <prefix>/topic/alerts
	QoS         byte
}

// Transport 实现 realtime.Transport
type Transport struct {
	config Config
}

// New 创建 MQTT 传输
func New(config Config) *Transport {
	if config.Broker == "" {
		config.Broker = defaultBroker
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaultTopicPrefix
	}
	if config.QoS > 2 {
		config.QoS = defaultQoS
	}
	return &Transport{config: config}
}

// MapTopic 把 STOMP 风格的目的地映射为 MQTT topic
func MapTopic(prefix, topic string) string {
	topic = strings.TrimPrefix(topic, "/")
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

func (t *Transport) buildOptions(s *session) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(t.config.Broker)

	clientID := t.config.ClientID
	if clientID == "" {
		clientID = "sentinel-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if t.config.Username != "" {
		opts.SetUsername(t.config.Username)
		opts.SetPassword(t.config.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.finish(err)
	})
	return opts
}

// Dial 连接 MQTT broker
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	s := &session{
		prefix: t.config.TopicPrefix,
		qos:    t.config.QoS,
		done:   make(chan struct{}),
	}
	s.client = pahomqtt.NewClient(t.buildOptions(s))

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		s.client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt 连接 %s 失败: %w", t.config.Broker, err)
	}

	logger.Debugf("[mqtt] 已连接 %s", t.config.Broker)
	return s, nil
}

type session struct {
	client pahomqtt.Client
	prefix string
	qos    byte

	once    sync.Once
	done    chan struct{}
	errMu   sync.Mutex
	err     error
	closing atomic.Bool
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		if !s.closing.Load() {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		close(s.done)
	})
}

func (s *session) Subscribe(topic string, fn func(body []byte)) (realtime.Handle, error) {
	h := &handle{topic: topic, mqttTopic: MapTopic(s.prefix, topic), client: s.client}
	token := s.client.Subscribe(h.mqttTopic, s.qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
		if h.cancelled.Load() {
			return
		}
		fn(m.Payload())
	})
	if err := wait(token); err != nil {
		return nil, fmt.Errorf("订阅 %s 失败: %w", h.mqttTopic, err)
	}
	return h, nil
}

func (s *session) Send(topic string, body []byte) error {
	mqttTopic := MapTopic(s.prefix, topic)
	if err := wait(s.client.Publish(mqttTopic, s.qos, false, body)); err != nil {
		return fmt.Errorf("发布到 %s 失败: %w", mqttTopic, err)
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
	s.client.Disconnect(defaultQuiesce)
	s.finish(nil)
	return nil
}

type handle struct {
	topic     string
	mqttTopic string
	client    pahomqtt.Client
	cancelled atomic.Bool
}

func (h *handle) Topic() string { return h.topic }

func (h *handle) Unsubscribe() error {
	if !h.cancelled.CompareAndSwap(false, true) {
		return fmt.Errorf("订阅 %s 已取消", h.topic)
	}
	go func() {
		if err := wait(h.client.Unsubscribe(h.mqttTopic)); err != nil {
			logger.Debugf("[mqtt] 取消订阅 %s: %v", h.mqttTopic, err)
		}
	}()
	return nil
}

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultOpTimeout) {
		return errOpTimeout
	}
	return token.Error()
}
