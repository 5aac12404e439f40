package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存 HTTP API 及外部相依的執行設定。
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	DB      DBConfig      `yaml:"db"`
	Auth    AuthConfig    `yaml:"auth"`
	Monitor MonitorConfig `yaml:"monitor"`
	Queue   QueueConfig   `yaml:"queue"`
	Push    PushConfig    `yaml:"push"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DBConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
	Secret   string        `yaml:"secret"`
}

// MonitorConfig 為監控循環的參數。
type MonitorConfig struct {
	AutoStart          bool          `yaml:"auto_start"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	EventMinImportance float64       `yaml:"event_min_importance"`
	EventBatchLimit    int           `yaml:"event_batch_limit"`
}

// QueueConfig 為通知佇列的參數。
type QueueConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	BatchSize     int           `yaml:"batch_size"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxSize       int           `yaml:"max_size"`
}

// PushConfig 為推播服務的連線設定；未啟用時送達僅寫入日誌。
type PushConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	BundleID  string        `yaml:"bundle_id"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoadFromFile 從 YAML 組態檔載入設定。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 5
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 2
	}
	if cfg.DB.MaxIdleTime == 0 {
		cfg.DB.MaxIdleTime = 15 * time.Minute
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = "dev-secret-change-me"
	}
	if cfg.Monitor.CheckInterval == 0 {
		cfg.Monitor.CheckInterval = 60 * time.Second
	}
	if cfg.Monitor.FetchTimeout == 0 {
		cfg.Monitor.FetchTimeout = 10 * time.Second
	}
	if cfg.Monitor.EventMinImportance == 0 {
		cfg.Monitor.EventMinImportance = 80
	}
	if cfg.Monitor.EventBatchLimit == 0 {
		cfg.Monitor.EventBatchLimit = 10
	}
	if cfg.Queue.DrainInterval == 0 {
		cfg.Queue.DrainInterval = 5 * time.Second
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 10
	}
	if cfg.Queue.DedupeWindow == 0 {
		cfg.Queue.DedupeWindow = 300 * time.Second
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = 10 * time.Second
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.HTTP.Addr = ":" + val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("AUTH_SECRET"); val != "" {
		cfg.Auth.Secret = val
	}
	if val := os.Getenv("MONITOR_AUTO_START"); val != "" {
		cfg.Monitor.AutoStart = (val == "true")
	}
	if val := os.Getenv("MONITOR_CHECK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Monitor.CheckInterval = d
		}
	}
	if val := os.Getenv("QUEUE_DRAIN_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Queue.DrainInterval = d
		}
	}
	if val := os.Getenv("QUEUE_MAX_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Queue.MaxSize = n
		}
	}
	if val := os.Getenv("PUSH_ENABLED"); val != "" {
		cfg.Push.Enabled = (val == "true")
	}
	if val := os.Getenv("PUSH_BASE_URL"); val != "" {
		cfg.Push.BaseURL = val
	}
	if val := os.Getenv("PUSH_AUTH_TOKEN"); val != "" {
		cfg.Push.AuthToken = val
	}
	if val := os.Getenv("PUSH_BUNDLE_ID"); val != "" {
		cfg.Push.BundleID = val
	}
	return cfg
}
