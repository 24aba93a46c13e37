package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Client ClientConfig
	AI     AIConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.Client.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Log.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port      string `env:"PORT" envDefault:"8080"`
	Addr      string `env:"-"`
	JWTSecret string `env:"ASSISTANT_JWT_SECRET"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// ClientConfig 描述助手客户端配置。
type ClientConfig struct {
	BaseURL        string        `env:"ASSISTANT_BASE_URL" envDefault:"http://localhost:8080/api/assistant"`
	Token          string        `env:"ASSISTANT_TOKEN"`
	ConnectTimeout time.Duration `env:"ASSISTANT_CONNECT_TIMEOUT" envDefault:"10s"`
	IdleTimeout    time.Duration `env:"ASSISTANT_IDLE_TIMEOUT" envDefault:"0s"`
	HistoryLimit   int           `env:"ASSISTANT_HISTORY_LIMIT" envDefault:"0"`
	FeedAddr       string        `env:"ASSISTANT_FEED_ADDR"`
}

// ChatURL 返回流式对话端点。
func (c ClientConfig) ChatURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/chat/stream"
}

// StatusURL 返回状态探测端点。
func (c ClientConfig) StatusURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/status"
}

func (c ClientConfig) validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("invalid ASSISTANT_BASE_URL value: %q", c.BaseURL)
	}
	if c.ConnectTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("assistant timeouts must not be negative")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("invalid ASSISTANT_HISTORY_LIMIT value: %d", c.HistoryLimit)
	}
	return nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string   `env:"ARK_API_KEY"`
	AccessKey    string   `env:"ARK_ACCESS_KEY"`
	SecretKey    string   `env:"ARK_SECRET_KEY"`
	Model        string   `env:"ARK_MODEL"`
	BaseURL      string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region       string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature  *float32 `env:"ARK_TEMPERATURE"`
	TopP         *float32 `env:"ARK_TOP_P"`
	MaxTokens    *int     `env:"ARK_MAX_TOKENS"`
	SystemPrompt string   `env:"ASSISTANT_SYSTEM_PROMPT" envDefault:"You are the CRM assistant. Answer questions about orders, vendors and payments concisely."`
	HistoryLimit int      `env:"AI_HISTORY_LIMIT" envDefault:"10"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL, or an AK/SK pair")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
	})
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

func (c LogConfig) validate() error {
	switch c.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("invalid LOG_FORMAT value: %q", c.Format)
	}
}
