package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Escrow       EscrowConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Escrow.PendingExpiryWindow <= c.Gateway.SessionTimeout {
		return fmt.Errorf("%s (%s) must exceed %s (%s)",
			EnvEscrowPendingExpiry, c.Escrow.PendingExpiryWindow,
			EnvGatewaySessionTimeout, c.Gateway.SessionTimeout)
	}
	switch c.Eventing.Sink {
	case EventSinkPubSub, EventSinkKafka:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvEventingSink, EventSinkPubSub, EventSinkKafka)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"EVTRADE_APP_ENV" required:"true"`
	Port         string `envconfig:"EVTRADE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"EVTRADE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVTRADE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"EVTRADE_LOG_FORMAT" default:"json"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"EVTRADE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVTRADE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVTRADE_DB_DSN"`
	Driver string `envconfig:"EVTRADE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"EVTRADE_DB_HOST"`
	Port     int    `envconfig:"EVTRADE_DB_PORT" default:"5432"`
	User     string `envconfig:"EVTRADE_DB_USER"`
	Password string `envconfig:"EVTRADE_DB_PASSWORD"`
	Name     string `envconfig:"EVTRADE_DB_NAME"`
	SSLMode  string `envconfig:"EVTRADE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVTRADE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVTRADE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVTRADE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVTRADE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"EVTRADE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVTRADE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EVTRADE_REDIS_ADDR"`
	Password     string        `envconfig:"EVTRADE_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVTRADE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVTRADE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVTRADE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVTRADE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVTRADE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVTRADE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"EVTRADE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"EVTRADE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"EVTRADE_JWT_EXPIRATION_MINUTES" default:"60"`
	// Leeway absorbs clock skew against the identity service that mints tokens.
	Leeway time.Duration `envconfig:"EVTRADE_JWT_LEEWAY" default:"30s"`
}

type RateLimitConfig struct {
	PaymentWindow    time.Duration `envconfig:"EVTRADE_RATE_LIMIT_PAYMENT_WINDOW" default:"1m"`
	PaymentUserLimit int           `envconfig:"EVTRADE_RATE_LIMIT_PAYMENT_USER_LIMIT" default:"10"`
	PaymentIPLimit   int           `envconfig:"EVTRADE_RATE_LIMIT_PAYMENT_IP_LIMIT" default:"60"`
	GatewayWindow    time.Duration `envconfig:"EVTRADE_RATE_LIMIT_GATEWAY_WINDOW" default:"1m"`
	GatewayIPLimit   int           `envconfig:"EVTRADE_RATE_LIMIT_GATEWAY_IP_LIMIT" default:"300"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"EVTRADE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"EVTRADE_AUTO_MIGRATE" default:"false"`
	MockPayment bool `envconfig:"EVTRADE_FEATURE_MOCK_PAYMENT" default:"false"`
}

// GatewayConfig holds the merchant credentials and URLs used to talk to the
// VNPay-style payment gateway.
type GatewayConfig struct {
	TmnCode        string        `envconfig:"EVTRADE_GATEWAY_TMN_CODE" required:"true"`
	HashSecret     string        `envconfig:"EVTRADE_GATEWAY_HASH_SECRET" required:"true"`
	PayURL         string        `envconfig:"EVTRADE_GATEWAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL      string        `envconfig:"EVTRADE_GATEWAY_RETURN_URL" required:"true"`
	IPNURL         string        `envconfig:"EVTRADE_GATEWAY_IPN_URL"`
	Version        string        `envconfig:"EVTRADE_GATEWAY_VERSION" default:"2.1.0"`
	Command        string        `envconfig:"EVTRADE_GATEWAY_COMMAND" default:"pay"`
	CurrCode       string        `envconfig:"EVTRADE_GATEWAY_CURR_CODE" default:"VND"`
	Locale         string        `envconfig:"EVTRADE_GATEWAY_LOCALE" default:"vn"`
	OrderType      string        `envconfig:"EVTRADE_GATEWAY_ORDER_TYPE" default:"other"`
	SessionTimeout time.Duration `envconfig:"EVTRADE_GATEWAY_SESSION_TIMEOUT" default:"15m"`
}

// EscrowConfig controls settlement timing. Money ratios are fixed in pkg/money.
type EscrowConfig struct {
	PendingExpiryWindow time.Duration `envconfig:"EVTRADE_ESCROW_PENDING_EXPIRY_WINDOW" default:"2h"`
	ReleaseInterval     time.Duration `envconfig:"EVTRADE_ESCROW_RELEASE_INTERVAL" default:"24h"`
	ExpiryInterval      time.Duration `envconfig:"EVTRADE_ESCROW_EXPIRY_INTERVAL" default:"1h"`
	BatchSize           int           `envconfig:"EVTRADE_ESCROW_BATCH_SIZE" default:"200"`
}

type EventingConfig struct {
	Sink                 string        `envconfig:"EVTRADE_EVENTING_SINK" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"EVTRADE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"EVTRADE_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"EVTRADE_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"EVTRADE_PUBSUB_DOMAIN_TOPIC" default:"evtrade-domain-events"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"EVTRADE_KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"EVTRADE_KAFKA_TOPIC" default:"evtrade.domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EVTRADE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EVTRADE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EVTRADE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// ensureDSN assembles a postgres URL from the discrete EVTRADE_DB_* parts
// when no DSN is set.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	var missing []string
	for _, part := range []struct{ env, value string }{
		{EnvDBHost, db.Host},
		{EnvDBUser, db.User},
		{EnvDBName, db.Name},
	} {
		if part.value == "" {
			missing = append(missing, part.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s not set and %s missing", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.Password != "" {
		dsn.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
