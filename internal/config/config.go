package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Comma-delimited defaults cannot live in go-env tags, which split on commas.
const (
	DefaultChannelIDs         = "10,20,30,40,50,60,70"
	DefaultChannelNames       = "email,sms,dingDingRobot,weChatServiceAccount,push,feiShuRobot,enterpriseWeChatRobot"
	DefaultRawContentChannels = "20,40"
	DefaultChannelTTLs        = "10:300000,20:60000,30:120000,40:120000,50:60000,60:120000,70:120000"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DatabaseMaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	DatabaseMaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	DatabaseConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=1h"`

	RabbitMQExchange      string `env:"RABBITMQ_EXCHANGE,default=dispatch.direct"`
	RabbitMQQueue         string `env:"RABBITMQ_QUEUE,default=dispatch.send"`
	RabbitMQRoutingKey    string `env:"RABBITMQ_ROUTING_KEY,default=dispatch.send"`
	RabbitMQDelayExchange string `env:"RABBITMQ_DELAY_EXCHANGE,default=dispatch.delay"`
	RabbitMQPrefetch      int    `env:"RABBITMQ_PREFETCH,default=16"`

	ChannelIDs         string `env:"CHANNEL_IDS"`
	ChannelNames       string `env:"CHANNEL_NAMES"`
	RawContentChannels string `env:"RAW_CONTENT_CHANNELS"`
	ChannelTTLs        string `env:"CHANNEL_TTLS"`
	ChannelFile        string `env:"CHANNEL_FILE"`

	WorkerPools        string `env:"WORKER_POOLS"`
	WorkerDefaultSize  int    `env:"WORKER_DEFAULT_SIZE,default=8"`
	WorkerDefaultQueue int    `env:"WORKER_DEFAULT_QUEUE,default=256"`
	DispatchConsumers  int    `env:"DISPATCH_CONSUMERS,default=1"`

	RetryLimit     int           `env:"RETRY_LIMIT,default=3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY,default=0s"`
	RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY,default=10m"`

	IdempotencyTTL      time.Duration `env:"IDEMPOTENCY_TTL,default=10m"`
	IdempotencyKeyKind  string        `env:"IDEMPOTENCY_KEY_KIND,default=user"`
	IdempotencyKeyExpr  string        `env:"IDEMPOTENCY_KEY_EXPR"`
	RateLimitPerSec     int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	RateLimitKeyKind    string        `env:"RATE_LIMIT_KEY_KIND,default=ip"`
	ProviderRateLimit   int           `env:"PROVIDER_RATE_LIMIT_PER_SEC,default=0"`
	CronRefreshInterval time.Duration `env:"CRON_REFRESH_INTERVAL,default=1m"`

	WebhookEndpoints string `env:"WEBHOOK_ENDPOINTS"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL"`
	TelegramChannels string `env:"TELEGRAM_CHANNELS"`

	TracingEndpoint    string  `env:"TRACING_OTLP_ENDPOINT"`
	TracingSampleRatio float64 `env:"TRACING_SAMPLE_RATIO,default=1"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ChannelIDs = withDefault(cfg.ChannelIDs, DefaultChannelIDs)
	cfg.ChannelNames = withDefault(cfg.ChannelNames, DefaultChannelNames)
	cfg.RawContentChannels = withDefault(cfg.RawContentChannels, DefaultRawContentChannels)
	cfg.ChannelTTLs = withDefault(cfg.ChannelTTLs, DefaultChannelTTLs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"DATABASE_DSN": c.DatabaseDSN,
		"RABBITMQ_URL": c.RabbitMQURL,
		"REDIS_URL":    c.RedisURL,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("RETRY_LIMIT must not be negative")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.DispatchConsumers <= 0 {
		return fmt.Errorf("DISPATCH_CONSUMERS must be positive")
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within (0, 1]")
	}
	if c.RabbitMQPrefetch <= 0 {
		return fmt.Errorf("RABBITMQ_PREFETCH must be positive")
	}
	return nil
}

// WebhookEndpointTable parses WEBHOOK_ENDPOINTS, a list of channel=url
// pairs. The channel is a numeric id or a channel name.
func (c *Config) WebhookEndpointTable() (map[string]string, error) {
	table := make(map[string]string)
	for _, pair := range strings.Split(c.WebhookEndpoints, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, endpoint, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		endpoint = strings.TrimSpace(endpoint)
		if !ok || key == "" || endpoint == "" {
			return nil, fmt.Errorf("invalid WEBHOOK_ENDPOINTS entry %q", pair)
		}
		table[key] = endpoint
	}
	return table, nil
}

// TelegramChannelList returns the channels routed to the Telegram sender.
func (c *Config) TelegramChannelList() []string {
	var out []string
	for _, item := range strings.Split(c.TelegramChannels, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func withDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
