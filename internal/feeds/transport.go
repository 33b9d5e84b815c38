package feeds

import (
	"fmt"

	"github.com/betbot/sentinel/pkg/config"
	"github.com/betbot/sentinel/pkg/realtime"
	"github.com/betbot/sentinel/pkg/realtime/mqttbroker"
	"github.com/betbot/sentinel/pkg/realtime/natsbroker"
	"github.com/betbot/sentinel/pkg/realtime/stompws"
)

// NewTransport 按配置创建实时传输，proxyURL 只对 STOMP over WebSocket 生效
func NewTransport(cfg config.RealtimeConfig, proxyURL string) (realtime.Transport, error) {
	switch cfg.Transport {
	case config.TransportSTOMP, "":
		return stompws.New(stompws.Config{
			URL:       cfg.URL,
			Login:     cfg.Username,
			Passcode:  cfg.Password,
			HeartBeat: cfg.HeartBeat,
			ProxyURL:  proxyURL,
		}), nil
	case config.TransportMQTT:
		return mqttbroker.New(mqttbroker.Config{
			Broker:      cfg.URL,
			Username:    cfg.Username,
			Password:    cfg.Password,
			TopicPrefix: cfg.TopicPrefix,
			QoS:         1,
		}), nil
	case config.TransportNATS:
		return natsbroker.New(natsbroker.Config{
			URL:           cfg.URL,
			Username:      cfg.Username,
			Password:      cfg.Password,
			SubjectPrefix: cfg.TopicPrefix,
		}), nil
	default:
		return nil, fmt.Errorf("未知的实时传输类型: %s", cfg.Transport)
	}
}

// ClientConfig 把配置里的重连参数转换为 realtime.Config
func ClientConfig(cfg config.RealtimeConfig) *realtime.Config {
	c := realtime.DefaultConfig()
	if cfg.ReconnectDelay > 0 {
		c.ReconnectDelay = cfg.ReconnectDelay
	}
	c.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	return c
}
