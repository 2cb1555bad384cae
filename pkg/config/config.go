package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ntd"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "NTD_DB_DSN"
	EnvDBHost = "NTD_DB_HOST"
	EnvDBUser = "NTD_DB_USER"
	EnvDBName = "NTD_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Stripe  StripeConfig
	Retry   RetryConfig
	Webhook WebhookConfig
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
	Env          string `envconfig:"NTD_APP_ENV" required:"true"`
	Port         string `envconfig:"NTD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NTD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NTD_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"NTD_APP_AUTO_MIGRATE" default:"false"`

	CORSOrigins []string `envconfig:"NTD_APP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NTD_DB_DSN"`
	Driver string `envconfig:"NTD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NTD_DB_HOST"`
	LegacyPort     int    `envconfig:"NTD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NTD_DB_USER"`
	LegacyPassword string `envconfig:"NTD_DB_PASSWORD"`
	LegacyName     string `envconfig:"NTD_DB_NAME"`
	LegacySSLMode  string `envconfig:"NTD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NTD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NTD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NTD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NTD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NTD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NTD_REDIS_ADDR"`
	Password     string        `envconfig:"NTD_REDIS_PASSWORD"`
	DB           int           `envconfig:"NTD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NTD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NTD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NTD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NTD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NTD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"NTD_STRIPE_API_KEY"`
	Secret string `envconfig:"NTD_STRIPE_SECRET"`
	Env    string `envconfig:"NTD_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// RetryConfig tunes the retry engine used around database and webhook work.
type RetryConfig struct {
	DBMaxRetries   int           `envconfig:"NTD_RETRY_DB_MAX_RETRIES" default:"3"`
	DBTimeout      time.Duration `envconfig:"NTD_RETRY_DB_TIMEOUT" default:"10s"`
	DBInitialDelay time.Duration `envconfig:"NTD_RETRY_DB_INITIAL_DELAY" default:"100ms"`
	MaxDelay       time.Duration `envconfig:"NTD_RETRY_MAX_DELAY" default:"30s"`
}

// WebhookConfig tunes webhook processing and event deduplication.
type WebhookConfig struct {
	MaxRetries    int           `envconfig:"NTD_WEBHOOK_MAX_RETRIES" default:"2"`
	Timeout       time.Duration `envconfig:"NTD_WEBHOOK_TIMEOUT" default:"25s"`
	InitialDelay  time.Duration `envconfig:"NTD_WEBHOOK_INITIAL_DELAY" default:"250ms"`
	EventGuardTTL time.Duration `envconfig:"NTD_WEBHOOK_EVENT_GUARD_TTL" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
