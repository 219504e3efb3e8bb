// Package config предоставялет структуры и функции для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Окружения запуска.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config общая структура для хранения настроек
type Config struct {
	Env          string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer   `yaml:"http_server"`
	Storage      Storage         `yaml:"storage"`
	Redis        RedisConnection `yaml:"redis_connection"`
	RabbitMQ     RabbitMQ        `yaml:"rabbitmq"`
	AI           AI              `yaml:"ai"`
	Ledger       Ledger          `yaml:"ledger"`
	Subscription Subscription    `yaml:"subscription"`
	Payment      Payment         `yaml:"payment"`
	JWTToken     JWTToken        `yaml:"jwttoken"`
	Telegram     Telegram        `yaml:"telegram"`
	Scheduler    Scheduler       `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"60s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"120s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"20"`
	RateBurst   int           `yaml:"rate_burst" env-default:"40"`
}

// Storage настройки хранилища. Driver: postgres или memory.
type Storage struct {
	Driver           string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	ConnectionString string `yaml:"connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath   string `yaml:"migrations_path" env-default:"./migrations"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	Addr        string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	User        string        `yaml:"user"`
	DB          int           `yaml:"db"`
	MaxRetries  int           `yaml:"max_retries"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Timeout     time.Duration `yaml:"timeoutredis"`
	ProfileTTL  time.Duration `yaml:"profile_ttl" env-default:"5m"`
}

// RabbitMQ настройки подключения к брокеру уведомлений.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// AI настройки провайдеров. Provider: chatgpt, deepseek или perplexity.
type AI struct {
	Provider       string        `yaml:"provider" env:"AI_PROVIDER" env-default:"chatgpt"`
	Model          string        `yaml:"model" env:"AI_MODEL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"30s"`
	RefundTimeout  time.Duration `yaml:"refund_timeout" env-default:"5s"`
	MaxTokens      int           `yaml:"max_tokens" env-default:"1000"`
	Temperature    float64       `yaml:"temperature" env-default:"0.7"`
	OpenAIKey      string        `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	DeepSeekKey    string        `yaml:"deepseek_api_key" env:"DEEPSEEK_API_KEY"`
	PerplexityKey  string        `yaml:"perplexity_api_key" env:"PERPLEXITY_API_KEY"`
}

// Ledger настройки учёта бесплатных сообщений.
type Ledger struct {
	DefaultTrialMessages int `yaml:"default_trial_messages" env:"TRIAL_MESSAGE_LIMIT" env-default:"10"`
}

// Subscription настройки жизненного цикла подписок.
type Subscription struct {
	PremiumPeriodDays int `yaml:"premium_period_days" env-default:"30"`
}

// Payment настройки приёма платежей.
type Payment struct {
	Provider      string `yaml:"provider" env-default:"telegram"`
	WebhookSecret string `yaml:"webhook_secret" env:"PAYMENT_WEBHOOK_SECRET"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Telegram настройки бота.
type Telegram struct {
	Token      string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	BackendURL string        `yaml:"backend_url" env:"BACKEND_URL" env-default:"http://localhost:8080"`
	Timeout    time.Duration `yaml:"timeout" env-default:"45s"`
	Debug      bool          `yaml:"debug"`
}

// Scheduler настройки периодических задач.
type Scheduler struct {
	SweepSchedule string        `yaml:"sweep_schedule" env-default:"0 * * * *"`
	LockTTL       time.Duration `yaml:"lock_ttl" env-default:"5m"`
	// MetricsAddress адрес /metrics процесса планировщика, пустой отключает.
	MetricsAddress string `yaml:"metrics_address" env-default:":9091"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH, при ошибке завершает процесс.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и переменных окружения.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "memory" {
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.ConnectionString == "" {
		return nil, fmt.Errorf("%s: storage connection_string is required for postgres", op)
	}
	if cfg.Ledger.DefaultTrialMessages < 0 {
		return nil, fmt.Errorf("%s: default_trial_messages must not be negative", op)
	}
	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Storage: %s\n"+
			"Redis: %s\n"+
			"HTTPServer: %s (timeout %s, idle %s)\n"+
			"AI: %s/%s (timeout %s)\n"+
			"TrialMessages: %d\n"+
			"PremiumPeriodDays: %d\n",
		c.Env,
		c.Storage.Driver,
		c.Redis.Addr,
		c.AddressHTTP, c.TimeoutHTTP, c.IdleTimeout,
		c.AI.Provider, c.AI.Model, c.AI.RequestTimeout,
		c.Ledger.DefaultTrialMessages,
		c.Subscription.PremiumPeriodDays,
	)
}
