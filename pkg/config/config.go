package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 环境变量前缀
const envPrefix = "SENTINEL_"

// 传输类型
const (
	TransportSTOMP = "stomp"
	TransportMQTT  = "mqtt"
	TransportNATS  = "nats"
)

// 快照存储类型
const (
	SnapshotBackendBadger = "badger"
	SnapshotBackendJSON   = "json"
)

// 默认值（与 Web 端保持一致）
const (
	defaultAPIBaseURL            = "http://localhost:8080"
	defaultRealtimeURL           = "ws://localhost:8080/ws/websocket"
	defaultMQTTURL               = "tcp://localhost:1883"
	defaultNATSURL               = "nats://localhost:4222"
	defaultReconnectDelayMs      = 1000
	defaultMaxReconnectAttempts  = 5
	defaultMarketRefreshSeconds  = 30
	defaultMarketCacheTTLSeconds = 10
	defaultAPITimeoutSeconds     = 15
	defaultLogLevel              = "info"
)

// DefaultTopics 默认订阅的 topic
var DefaultTopics = []string{"/topic/alerts", "/topic/positions", "/topic/trades"}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Host string
	Port int
}

// URL 返回代理地址
func (p *ProxyConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// APIConfig REST 接口配置
type APIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MarketCacheTTL time.Duration // 行情概览缓存时间
}

// RealtimeConfig 实时推送配置
type RealtimeConfig struct {
	Transport            string // stomp | mqtt | nats
	URL                  string
	Username             string
	Password             string
	TopicPrefix          string // MQTT/NATS 的 topic 前缀
	HeartBeat            time.Duration
	ReconnectDelay       time.Duration // 基础重连延迟，第 N 次重连等待 N 倍
	MaxReconnectAttempts int
	Topics               []string
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	SnapshotDir     string // 快照目录，为空表示不保存快照
	SnapshotBackend string // badger | json
	JournalPath string // sqlite 文件，为空表示不记录消息日志
}

// Config 应用配置
type Config struct {
	API                   APIConfig
	Realtime              RealtimeConfig
	Storage               StorageConfig
	Proxy                 *ProxyConfig
	MarketRefreshInterval time.Duration // 行情自动刷新间隔
	StatusAddr            string        // 本地状态接口监听地址，为空表示不启动
	LogLevel              string
	LogFile               string
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	API struct {
		BaseURL               string `yaml:"base_url" json:"base_url"`
		TimeoutSeconds        int    `yaml:"timeout_seconds" json:"timeout_seconds"`
		MarketCacheTTLSeconds int    `yaml:"market_cache_ttl_seconds" json:"market_cache_ttl_seconds"`
	} `yaml:"api" json:"api"`
	Realtime struct {
		Transport            string   `yaml:"transport" json:"transport"`
		URL                  string   `yaml:"url" json:"url"`
		Username             string   `yaml:"username" json:"username"`
		Password             string   `yaml:"password" json:"password"`
		TopicPrefix          string   `yaml:"topic_prefix" json:"topic_prefix"`
		HeartBeatSeconds     int      `yaml:"heartbeat_seconds" json:"heartbeat_seconds"`
		ReconnectDelayMs     int      `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
		MaxReconnectAttempts *int     `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
		Topics               []string `yaml:"topics" json:"topics"`
	} `yaml:"realtime" json:"realtime"`
	Storage struct {
		SnapshotDir     string `yaml:"snapshot_dir" json:"snapshot_dir"`
		SnapshotBackend string `yaml:"snapshot_backend" json:"snapshot_backend"`
		JournalPath     string `yaml:"journal_path" json:"journal_path"`
	} `yaml:"storage" json:"storage"`
	Proxy struct {
		Host string `yaml:"host" json:"host"`
		Port int    `yaml:"port" json:"port"`
	} `yaml:"proxy" json:"proxy"`
	MarketRefreshSeconds int    `yaml:"market_refresh_seconds" json:"market_refresh_seconds"`
	StatusAddr           string `yaml:"status_addr" json:"status_addr"`
	LogLevel             string `yaml:"log_level" json:"log_level"`
	LogFile              string `yaml:"log_file" json:"log_file"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        defaultAPIBaseURL,
			Timeout:        defaultAPITimeoutSeconds * time.Second,
			MarketCacheTTL: defaultMarketCacheTTLSeconds * time.Second,
		},
		Realtime: RealtimeConfig{
			Transport:            TransportSTOMP,
			URL:                  defaultRealtimeURL,
			TopicPrefix:          "sentinel",
			ReconnectDelay:       defaultReconnectDelayMs * time.Millisecond,
			MaxReconnectAttempts: defaultMaxReconnectAttempts,
			Topics:               append([]string(nil), DefaultTopics...),
		},
		Storage:               StorageConfig{SnapshotBackend: SnapshotBackendBadger},
		MarketRefreshInterval: defaultMarketRefreshSeconds * time.Second,
		LogLevel:              defaultLogLevel,
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	config := Default()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		applyConfigFile(config, configFile)
	}

	applyEnv(config)
	config.Realtime.fillDefaultURL()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// applyConfigFile 用配置文件中的非零值覆盖默认值
func applyConfigFile(c *Config, cf *ConfigFile) {
	if cf.API.BaseURL != "" {
		c.API.BaseURL = cf.API.BaseURL
	}
	if cf.API.TimeoutSeconds > 0 {
		c.API.Timeout = time.Duration(cf.API.TimeoutSeconds) * time.Second
	}
	if cf.API.MarketCacheTTLSeconds > 0 {
		c.API.MarketCacheTTL = time.Duration(cf.API.MarketCacheTTLSeconds) * time.Second
	}

	rt := cf.Realtime
	if rt.Transport != "" {
		c.Realtime.Transport = strings.ToLower(rt.Transport)
	}
	if rt.URL != "" {
		c.Realtime.URL = rt.URL
	}
	if rt.Username != "" {
		c.Realtime.Username = rt.Username
		c.Realtime.Password = rt.Password
	}
	if rt.TopicPrefix != "" {
		c.Realtime.TopicPrefix = rt.TopicPrefix
	}
	if rt.HeartBeatSeconds > 0 {
		c.Realtime.HeartBeat = time.Duration(rt.HeartBeatSeconds) * time.Second
	}
	if rt.ReconnectDelayMs > 0 {
		c.Realtime.ReconnectDelay = time.Duration(rt.ReconnectDelayMs) * time.Millisecond
	}
	// 0 是合法值（关闭自动重连），所以用指针区分未配置
	if rt.MaxReconnectAttempts != nil {
		c.Realtime.MaxReconnectAttempts = *rt.MaxReconnectAttempts
	}
	if len(rt.Topics) > 0 {
		c.Realtime.Topics = append([]string(nil), rt.Topics...)
	}

	if cf.Storage.SnapshotDir != "" {
		c.Storage.SnapshotDir = cf.Storage.SnapshotDir
	}
	if cf.Storage.SnapshotBackend != "" {
		c.Storage.SnapshotBackend = strings.ToLower(cf.Storage.SnapshotBackend)
	}
	if cf.Storage.JournalPath != "" {
		c.Storage.JournalPath = cf.Storage.JournalPath
	}
	if cf.Proxy.Host != "" && cf.Proxy.Port > 0 {
		c.Proxy = &ProxyConfig{Host: cf.Proxy.Host, Port: cf.Proxy.Port}
	}
	if cf.MarketRefreshSeconds > 0 {
		c.MarketRefreshInterval = time.Duration(cf.MarketRefreshSeconds) * time.Second
	}
	if cf.StatusAddr != "" {
		c.StatusAddr = cf.StatusAddr
	}
	if cf.LogLevel != "" {
		c.LogLevel = cf.LogLevel
	}
	if cf.LogFile != "" {
		c.LogFile = cf.LogFile
	}
}

// applyEnv 用 SENTINEL_* 环境变量覆盖
func applyEnv(c *Config) {
	c.API.BaseURL = getEnv("API_URL", c.API.BaseURL)
	c.API.Timeout = parseDurationEnv("API_TIMEOUT_SECONDS", c.API.Timeout, time.Second)
	c.API.MarketCacheTTL = parseDurationEnv("MARKET_CACHE_TTL_SECONDS", c.API.MarketCacheTTL, time.Second)

	c.Realtime.Transport = strings.ToLower(getEnv("REALTIME_TRANSPORT", c.Realtime.Transport))
	c.Realtime.URL = getEnv("REALTIME_URL", c.Realtime.URL)
	c.Realtime.Username = getEnv("REALTIME_USERNAME", c.Realtime.Username)
	c.Realtime.Password = getEnv("REALTIME_PASSWORD", c.Realtime.Password)
	c.Realtime.TopicPrefix = getEnv("REALTIME_TOPIC_PREFIX", c.Realtime.TopicPrefix)
	c.Realtime.HeartBeat = parseDurationEnv("REALTIME_HEARTBEAT_SECONDS", c.Realtime.HeartBeat, time.Second)
	c.Realtime.ReconnectDelay = parseDurationEnv("RECONNECT_DELAY_MS", c.Realtime.ReconnectDelay, time.Millisecond)
	c.Realtime.MaxReconnectAttempts = parseIntEnv("MAX_RECONNECT_ATTEMPTS", c.Realtime.MaxReconnectAttempts)
	if topics := parseList(getEnv("TOPICS", "")); len(topics) > 0 {
		c.Realtime.Topics = topics
	}

	c.Storage.SnapshotDir = getEnv("SNAPSHOT_DIR", c.Storage.SnapshotDir)
	c.Storage.SnapshotBackend = strings.ToLower(getEnv("SNAPSHOT_BACKEND", c.Storage.SnapshotBackend))
	c.Storage.JournalPath = getEnv("JOURNAL_PATH", c.Storage.JournalPath)

	if host := getEnv("PROXY_HOST", ""); host != "" {
		if port := parseIntEnv("PROXY_PORT", 0); port > 0 {
			c.Proxy = &ProxyConfig{Host: host, Port: port}
		}
	}

	c.MarketRefreshInterval = parseDurationEnv("MARKET_REFRESH_SECONDS", c.MarketRefreshInterval, time.Second)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// fillDefaultURL 非 STOMP 传输沿用了 STOMP 默认地址时换成对应的默认地址
func (r *RealtimeConfig) fillDefaultURL() {
	if r.URL != "" && r.URL != defaultRealtimeURL {
		return
	}
	switch r.Transport {
	case TransportMQTT:
		r.URL = defaultMQTTURL
	case TransportNATS:
		r.URL = defaultNATSURL
	default:
		r.URL = defaultRealtimeURL
	}
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API base_url 未配置")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API base_url 无效: %s", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API 超时时间必须大于 0")
	}

	switch c.Realtime.Transport {
	case TransportSTOMP, TransportMQTT, TransportNATS:
	default:
		return fmt.Errorf("未知的实时传输类型: %s (支持 stomp, mqtt, nats)", c.Realtime.Transport)
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("实时推送 url 未配置")
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return fmt.Errorf("重连延迟必须大于 0")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return fmt.Errorf("最大重连次数不能为负数")
	}
	for _, topic := range c.Realtime.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("topic 不能为空")
		}
	}

	switch c.Storage.SnapshotBackend {
	case SnapshotBackendBadger, SnapshotBackendJSON:
	default:
		return fmt.Errorf("未知的快照存储类型: %s (支持 badger, json)", c.Storage.SnapshotBackend)
	}

	if c.MarketRefreshInterval <= 0 {
		return fmt.Errorf("行情刷新间隔必须大于 0")
	}
	if c.API.MarketCacheTTL < 0 {
		return fmt.Errorf("行情缓存时间不能为负数")
	}
	return nil
}

// parseList 解析逗号分隔的列表
func parseList(str string) []string {
	if str == "" {
		return nil
	}
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析以 unit 为单位的整数环境变量
func parseDurationEnv(key string, defaultValue time.Duration, unit time.Duration) time.Duration {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return time.Duration(parsed) * unit
}
