package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/sentinel/internal/feeds"
	"github.com/betbot/sentinel/pkg/config"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

// outbound 连接成功后要发送的一条消息
type outbound struct {
	topic string
	body  json.RawMessage
}

// line 输出的一行 JSON
type line struct {
	Topic      string          `json:"topic"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

func parseSend(v string) (outbound, error) {
	topic, body, ok := strings.Cut(v, "=")
	topic = strings.TrimSpace(topic)
	if !ok || topic == "" {
		return outbound{}, fmt.Errorf("格式应为 topic=json: %q", v)
	}
	if !json.Valid([]byte(body)) {
		return outbound{}, fmt.Errorf("%s 的消息不是合法 JSON", topic)
	}
	return outbound{topic: topic, body: json.RawMessage(body)}, nil
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	topicList := flag.String("topics", "", "订阅的 topic（逗号分隔），默认取配置")
	var sends []outbound
	flag.Func("send", "连接成功后发送一条消息，格式 topic=json，可重复", func(v string) error {
		o, err := parseSend(v)
		if err != nil {
			return err
		}
		sends = append(sends, o)
		return nil
	})
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// stdout 只输出消息，日志写文件
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/feedtail.log"
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: logFile, MaxSize: 20, MaxBackups: 2, Quiet: true}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	topics := cfg.Realtime.Topics
	if *topicList != "" {
		topics = nil
		for _, t := range strings.Split(*topicList, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 {
		topics = feeds.AllTopics
	}

	proxyURL := ""
	if cfg.Proxy != nil {
		proxyURL = cfg.Proxy.URL()
	}
	transport, err := feeds.NewTransport(cfg.Realtime, proxyURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := realtime.NewClientWithConfig(transport, feeds.ClientConfig(cfg.Realtime))
	tail(ctx, client, topics, sends, json.NewEncoder(os.Stdout))
}

// tail 订阅 topics 并把每条消息写成一行 JSON，直到 ctx 结束
func tail(ctx context.Context, client *realtime.Client, topics []string, sends []outbound, enc *json.Encoder) {
	var mu sync.Mutex
	for _, topic := range topics {
		client.Subscribe(topic, func(msg realtime.Message) {
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(line{Topic: msg.Topic, ReceivedAt: msg.ReceivedAt, Payload: msg.Payload}); err != nil {
				logger.Warnf("[feedtail] 输出失败: %v", err)
			}
		})
	}

	var sendOnce sync.Once
	client.Connect(func() {
		logger.Infof("[feedtail] 已连接，订阅 %s", strings.Join(topics, ", "))
		sendOnce.Do(func() {
			for _, o := range sends {
				if err := client.Send(o.topic, o.body); err != nil {
					logger.Warnf("[feedtail] 发送到 %s 失败: %v", o.topic, err)
				}
			}
		})
	}, func(err error) {
		logger.Warnf("[feedtail] 连接错误: %v", err)
	})

	<-ctx.Done()
	client.Disconnect()
}
