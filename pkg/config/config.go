package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig namespace shared by every Attendly binary.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Consumer     ConsumerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ATTENDLY_APP_ENV" required:"true"`
	Port         string `envconfig:"ATTENDLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ATTENDLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ATTENDLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// ServiceConfig identifies which of the deployable services this process is.
type ServiceConfig struct {
	Kind string `envconfig:"ATTENDLY_SERVICE_KIND" default:"identity"`
}

type DBConfig struct {
	DSN    string `envconfig:"ATTENDLY_DB_DSN"`
	Driver string `envconfig:"ATTENDLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ATTENDLY_DB_HOST"`
	LegacyPort     int    `envconfig:"ATTENDLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ATTENDLY_DB_USER"`
	LegacyPassword string `envconfig:"ATTENDLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"ATTENDLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"ATTENDLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ATTENDLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATTENDLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATTENDLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATTENDLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either ATTENDLY_DB_DSN or host/user/name must be set")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"ATTENDLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ATTENDLY_REDIS_ADDR"`
	Password     string        `envconfig:"ATTENDLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATTENDLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATTENDLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATTENDLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATTENDLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATTENDLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATTENDLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ATTENDLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ATTENDLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ATTENDLY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ATTENDLY_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ATTENDLY_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ATTENDLY_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ATTENDLY_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ATTENDLY_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ATTENDLY_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ATTENDLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ATTENDLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ATTENDLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig maps the flat topic names to Pub/Sub resources. Each service
// sets only the subscriptions it consumes; the relay needs only topics.
type PubSubConfig struct {
	UserRegisteredTopic        string `envconfig:"ATTENDLY_PUBSUB_USER_REGISTERED_TOPIC" default:"user-registered"`
	UserRegisteredSubscription string `envconfig:"ATTENDLY_PUBSUB_USER_REGISTERED_SUBSCRIPTION"`
	UserDeletedTopic           string `envconfig:"ATTENDLY_PUBSUB_USER_DELETED_TOPIC" default:"user-deleted"`
	UserDeletedSubscription    string `envconfig:"ATTENDLY_PUBSUB_USER_DELETED_SUBSCRIPTION"`
	StaffChangedTopic          string `envconfig:"ATTENDLY_PUBSUB_STAFF_CHANGED_TOPIC" default:"notification-push"`
	StaffChangedSubscription   string `envconfig:"ATTENDLY_PUBSUB_STAFF_CHANGED_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ATTENDLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ATTENDLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ATTENDLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type ConsumerConfig struct {
	IdempotencyTTL time.Duration `envconfig:"ATTENDLY_CONSUMER_IDEMPOTENCY_TTL" default:"720h"`
}
