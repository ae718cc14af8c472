package config

import "time"

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"30m"`
}

// StripeConfig holds the payment provider secrets and checkout settings.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	Currency         string        `env:"STRIPE_CURRENCY" default:"usd"`
	// AppURL is the public base URL used for success/cancel redirects.
	AppURL string `env:"APP_URL"`
}

// AuthConfig configures verification of identity-provider bearer tokens.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	Issuer    string `env:"AUTH_JWT_ISSUER" default:""`
}

// RedisConfig enables the shared balance cache. An empty Addr keeps the
// cache in process memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:""`
	Password string `env:"REDIS_PASSWORD" default:""`
	DB       int    `env:"REDIS_DB" default:"0"`
}

type ChatConfig struct {
	APIURL          string        `env:"CHAT_API_URL" default:"https://api.x.ai/v1/chat/completions"`
	APIKey          string        `env:"CHAT_API_KEY"`
	Timeout         time.Duration `env:"CHAT_API_TIMEOUT" default:"60s"`
	RefundOnFailure bool          `env:"REFUND_ON_CHAT_FAILURE" default:"true"`
}

type ReconcileConfig struct {
	// DedupWindow bounds the (user, amount) fallback match used when an event
	// carries no checkout session id.
	DedupWindow time.Duration `env:"WEBHOOK_DEDUP_WINDOW" default:"1h"`
	// PendingTimeout is how long a PENDING record may block redeliveries of
	// the same session before it is considered abandoned.
	PendingTimeout time.Duration `env:"WEBHOOK_PENDING_TIMEOUT" default:"10m"`
}

// BalanceCacheConfig controls the presentation cache. PollInterval is both
// the entry TTL and the refresh interval advertised to clients.
type BalanceCacheConfig struct {
	PollInterval time.Duration `env:"BALANCE_POLL_INTERVAL" default:"60s"`
}
