// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port          int           `yaml:"port"`
	PublicBaseURL string        `yaml:"public_base_url"` // used to build absolute return links
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PaymentAPIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"` // per status request
}

type ChannelConfig struct {
	URL          string        `yaml:"url"` // ws(s)://host[:port]; empty disables push
	PingInterval time.Duration `yaml:"ping_interval"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Namespaces   struct {
		Subscription string `yaml:"subscription"`
		Order        string `yaml:"order"`
	} `yaml:"namespaces"`
}

// FlowConfig bounds one kind of reconciliation session.
type FlowConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type ReconcileConfig struct {
	Subscription FlowConfig `yaml:"subscription"` // background dialog flow
	Return       FlowConfig `yaml:"return"`       // dedicated payment-return page
	Workers      int        `yaml:"workers"`      // outcome dispatch workers
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	Token string `yaml:"token"` // empty disables DMs
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type HandoffConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	CookieName   string        `yaml:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type RateLimitConfig struct {
	AwaitPerMinute int `yaml:"await_per_minute"`
}

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	PaymentAPI PaymentAPIConfig `yaml:"payment_api"`
	Channel    ChannelConfig    `yaml:"channel"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Auth       AuthConfig       `yaml:"auth"`
	Handoff    HandoffConfig    `yaml:"handoff"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies .env / environment
// overrides for secrets, fills defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load(".env")

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse is LoadConfig without the file system; env overrides still apply.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.PaymentAPI.BaseURL == "" {
		return nil, errors.New("payment_api.base_url is required")
	}
	if cfg.Reconcile.Return.MaxAttempts <= 0 {
		return nil, errors.New("reconcile.return.max_attempts must be positive")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Auth.JWTSecret, "JWT_SECRET")
	override(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	override(&cfg.PaymentAPI.Token, "PAYMENT_API_TOKEN")
	override(&cfg.PaymentAPI.BaseURL, "PAYMENT_API_BASE_URL")
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	// The await endpoints hold the connection for a whole session.
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.PaymentAPI.Timeout <= 0 {
		cfg.PaymentAPI.Timeout = 10 * time.Second
	}
	if cfg.Channel.PingInterval <= 0 {
		cfg.Channel.PingInterval = 25 * time.Second
	}
	if cfg.Channel.DialTimeout <= 0 {
		cfg.Channel.DialTimeout = 5 * time.Second
	}
	if cfg.Channel.Namespaces.Subscription == "" {
		cfg.Channel.Namespaces.Subscription = "/subscription-payments"
	}
	if cfg.Channel.Namespaces.Order == "" {
		cfg.Channel.Namespaces.Order = "/order-payments"
	}

	if cfg.Reconcile.Subscription.PollInterval <= 0 {
		cfg.Reconcile.Subscription.PollInterval = 5 * time.Second
	}
	if cfg.Reconcile.Subscription.MaxAttempts <= 0 {
		cfg.Reconcile.Subscription.MaxAttempts = 120
	}
	if cfg.Reconcile.Return.PollInterval <= 0 {
		cfg.Reconcile.Return.PollInterval = time.Second
	}
	if cfg.Reconcile.Return.MaxAttempts == 0 {
		cfg.Reconcile.Return.MaxAttempts = 10
	}
	if cfg.Reconcile.Workers <= 0 {
		cfg.Reconcile.Workers = 4
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "payment.reconciled"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "cleanhouse"
	}
	if cfg.Handoff.TTL <= 0 {
		cfg.Handoff.TTL = 30 * time.Minute
	}
	if cfg.Handoff.CookieName == "" {
		cfg.Handoff.CookieName = "payment_handoff"
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = time.Minute
	}
	if cfg.Sweeper.StaleAfter <= 0 {
		cfg.Sweeper.StaleAfter = 30 * time.Minute
	}
	if cfg.RateLimit.AwaitPerMinute <= 0 {
		cfg.RateLimit.AwaitPerMinute = 30
	}
}
