// Package realtime 提供带自动重连的发布/订阅客户端
// 维护到消息代理的单一长连接，按 topic 管理订阅，连接恢复后自动补订全部订阅
package realtime

import (
	"encoding/json"
	"time"
)

const (
	// 重连设置（与 Web 端保持一致：1s 基础延迟，最多 5 次）
	defaultReconnectDelay       = 1 * time.Second
	defaultMaxReconnectAttempts = 5

	// 日志中消息预览的最大长度
	maxPayloadPreview = 120
)

// State 表示连接状态
type State int

const (
	StateDisconnected State = iota // 未连接
	StateConnecting                // 连接中
	StateConnected                 // 已连接
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Message 是投递给订阅者的一条消息
// Payload 保证是合法的 JSON
type Message struct {
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Decode 将消息体解析到 v
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler 是消息处理函数
type Handler func(msg Message)

// Status 是客户端状态快照（用于状态接口和界面展示）
type Status struct {
	State             string   `json:"state"`
	Connected         bool     `json:"connected"`
	ReconnectAttempts int      `json:"reconnect_attempts"`
	MaxAttempts       int      `json:"max_reconnect_attempts"`
	Topics            []string `json:"topics"`
	LastError         string   `json:"last_error,omitempty"`
}

// Config 是订阅客户端配置
type Config struct {
	// ReconnectDelay 基础重连延迟，第 N 次重连等待 N*ReconnectDelay（线性退避）
	ReconnectDelay time.Duration
	// MaxReconnectAttempts 连续失败后的最大自动重连次数，达到后停止自动重连
	MaxReconnectAttempts int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
	}
}

func (c *Config) normalize() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
}

// ReconnectDelayFor 返回第 attempt 次重连的等待时间
func (c *Config) ReconnectDelayFor(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return c.ReconnectDelay * time.Duration(attempt)
}
