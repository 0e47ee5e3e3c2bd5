// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"` // empty: in-memory stores
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty: no cross-process caches
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// BackendConfig declares one inference backend known at boot. Backends can
// also be registered and removed at runtime through the API.
type BackendConfig struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"` // standard | serverless
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Kinds    []string `yaml:"kinds"`  // image, video; empty: both
	Models   []string `yaml:"models"` // empty: any model
}

type SchedulerConfig struct {
	Tick                  time.Duration `yaml:"tick"`
	Workers               int           `yaml:"workers"`
	PerBackendConcurrency int           `yaml:"per_backend_concurrency"`
	MaxJobDuration        time.Duration `yaml:"max_job_duration"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	PollTimeout           time.Duration `yaml:"poll_timeout"`
	HealthMaxAge          time.Duration `yaml:"health_max_age"`
	WeightActive          float64       `yaml:"weight_active"`
	WeightQueue           float64       `yaml:"weight_queue"`
	WeightFailure         float64       `yaml:"weight_failure"`
}

type EnhancerConfig struct {
	Provider  string `yaml:"provider"` // openai | gemini | none
	OpenAIKey string `yaml:"openai_key"`
	GeminiKey string `yaml:"gemini_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"` // prompt token budget
}

type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Enhancer  EnhancerConfig  `yaml:"enhancer"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Backends  []BackendConfig `yaml:"backends"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.HTTP.JWTSecret == "" {
		return nil, errors.New("http.jwt_secret is required")
	}
	for i, b := range cfg.Backends {
		if b.Endpoint == "" {
			return nil, fmt.Errorf("backends[%d].endpoint is required", i)
		}
		if b.Kind != "standard" && b.Kind != "serverless" {
			return nil, fmt.Errorf("backends[%d].kind must be standard or serverless", i)
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	s := &cfg.Scheduler
	if s.Tick <= 0 {
		s.Tick = 500 * time.Millisecond
	}
	if s.Workers <= 0 {
		s.Workers = 8
	}
	if s.PerBackendConcurrency <= 0 {
		s.PerBackendConcurrency = 2
	}
	if s.MaxJobDuration <= 0 {
		s.MaxJobDuration = 20 * time.Minute
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 2 * time.Second
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = 15 * time.Minute
	}
	if s.HealthMaxAge <= 0 {
		s.HealthMaxAge = 30 * time.Second
	}
	if s.WeightActive == 0 {
		s.WeightActive = 1.0
	}
	if s.WeightQueue == 0 {
		s.WeightQueue = 0.5
	}
	if s.WeightFailure == 0 {
		s.WeightFailure = 10.0
	}

	if cfg.Enhancer.Model == "" {
		cfg.Enhancer.Model = "gpt-4o-mini"
	}
	if cfg.Enhancer.MaxTokens <= 0 {
		cfg.Enhancer.MaxTokens = 512
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
