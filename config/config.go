package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 网关总配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Agent   AgentConfig   `yaml:"agent"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig HTTP/gRPC 监听配置
type ServerConfig struct {
	Port int `yaml:"port"`

	// gRPC 健康检查地址，为空时不启动
	GRPCAddr string `yaml:"grpc_addr"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CORS CORSConfig `yaml:"cors"`
}

// Addr 返回 HTTP 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
	AllowHeaders []string `yaml:"allow_headers"`
}

// ModelConfig 推理端点配置
type ModelConfig struct {
	// 为空时 predict 路由返回 503，而不是启动失败
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig Agent 服务配置
type AgentConfig struct {
	BackendURL string `yaml:"backend_url"`
	APIKey     string `yaml:"api_key"`

	// run 会调用慢模型，按分钟计
	RunTimeout time.Duration `yaml:"run_timeout"`

	// history / delete / health
	ShortTimeout time.Duration `yaml:"short_timeout"`
}

// MongoConfig 文档库配置
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MetricsConfig Prometheus metrics 配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load 加载配置文件，文件不存在时使用默认配置，最后应用环境变量
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded := expandEnvVars(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ShutdownTimeout: 5 * time.Second,
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			},
		},
		Model: ModelConfig{
			Timeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			BackendURL:   "http://localhost:7860",
			RunTimeout:   2 * time.Minute,
			ShortTimeout: 10 * time.Second,
		},
		Mongo: MongoConfig{
			Database:       "pharmai",
			ConnectTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 无效: %d", c.Server.Port)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout 必须大于 0")
	}
	if c.Agent.RunTimeout <= 0 || c.Agent.ShortTimeout <= 0 {
		return fmt.Errorf("agent 超时必须大于 0")
	}
	if c.Mongo.ConnectTimeout <= 0 {
		return fmt.Errorf("mongo.connect_timeout 必须大于 0")
	}

	u, err := url.Parse(c.Agent.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent.backend_url 无效: %q", c.Agent.BackendURL)
	}
	if c.Model.URL != "" {
		if u, err := url.Parse(c.Model.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("model.url 无效: %q", c.Model.URL)
		}
	}
	return nil
}

// expandEnvVars 替换 ${VAR}，未设置的变量替换为空串
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyEnv(cfg *Config) {
	if v := getEnvInt("PORT", 0); v != 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}

	if v := os.Getenv("HF_MODEL_URL"); v != "" {
		cfg.Model.URL = v
	}
	// HF_API_KEY 优先，HF_API_TOKEN 兼容旧名
	if v := getEnv("HF_API_KEY", os.Getenv("HF_API_TOKEN")); v != "" {
		cfg.Model.APIKey = v
	}

	if v := os.Getenv("PYTHON_BACKEND_URL"); v != "" {
		cfg.Agent.BackendURL = v
	}
	cfg.Agent.BackendURL = strings.TrimRight(cfg.Agent.BackendURL, "/")
	if v := os.Getenv("AGENT_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}

	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
