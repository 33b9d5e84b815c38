// Package feeds 定义实时推送的 topic 约定，并把推送接到面板状态
package feeds

import (
	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/metrics"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

// 服务端广播的 topic
const (
	TopicAlerts    = "/topic/alerts"
	TopicPositions = "/topic/positions"
	TopicTrades    = "/topic/trades"
)

// AllTopics 面板默认订阅的全部 topic
var AllTopics = []string{TopicAlerts, TopicPositions, TopicTrades}

// Subscriber 是 realtime.Client 的订阅能力
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) realtime.Handle
}

// Subscribe 订阅 topic 并把消息解析为 T
// 解析失败的消息记录日志后丢弃，不影响后续消息
func Subscribe[T any](client Subscriber, topic string, fn func(T)) realtime.Handle {
	return client.Subscribe(topic, func(msg realtime.Message) {
		var v T
		if err := msg.Decode(&v); err != nil {
			metrics.FeedErrors.Add(1)
			logger.Warnf("[feeds] %s 消息结构不匹配，已丢弃: %v", topic, err)
			return
		}
		fn(v)
	})
}

// SubscribeAlerts 订阅新告警
func SubscribeAlerts(client Subscriber, fn func(domain.Alert)) realtime.Handle {
	return Subscribe(client, TopicAlerts, fn)
}

// SubscribePositions 订阅持仓全量推送
func SubscribePositions(client Subscriber, fn func([]domain.Position)) realtime.Handle {
	return Subscribe(client, TopicPositions, fn)
}

// SubscribeTrades 订阅新成交
func SubscribeTrades(client Subscriber, fn func(domain.Trade)) realtime.Handle {
	return Subscribe(client, TopicTrades, fn)
}
