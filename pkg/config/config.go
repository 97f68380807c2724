package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Eventing EventingConfig
	Outbox   OutboxConfig
	Cron     CronConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
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
	Env          string `envconfig:"CREDITSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CREDITSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITSYNC_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"CREDITSYNC_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITSYNC_DB_DSN"`
	Driver string `envconfig:"CREDITSYNC_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CREDITSYNC_DB_HOST"`
	Port     int    `envconfig:"CREDITSYNC_DB_PORT" default:"5432"`
	User     string `envconfig:"CREDITSYNC_DB_USER"`
	Password string `envconfig:"CREDITSYNC_DB_PASSWORD"`
	Name     string `envconfig:"CREDITSYNC_DB_NAME"`
	SSLMode  string `envconfig:"CREDITSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CREDITSYNC_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITSYNC_REDIS_URL"`
	Address      string        `envconfig:"CREDITSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITSYNC_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"CREDITSYNC_REDIS_WRITE_TIMEOUT" default:"2s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"CREDITSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CREDITSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CREDITSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"CREDITSYNC_STRIPE_API_KEY"`
	Secret        string        `envconfig:"CREDITSYNC_STRIPE_SECRET"`
	Env           string        `envconfig:"CREDITSYNC_STRIPE_ENV" default:"test"`
	Tolerance     time.Duration `envconfig:"CREDITSYNC_STRIPE_TOLERANCE" default:"5m"`
	LookupTimeout time.Duration `envconfig:"CREDITSYNC_STRIPE_LOOKUP_TIMEOUT" default:"10s"`
	MaxBodyBytes  int64         `envconfig:"CREDITSYNC_STRIPE_MAX_BODY_BYTES" default:"1048576"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type EventingConfig struct {
	EventMarkerTTL time.Duration `envconfig:"CREDITSYNC_EVENTING_MARKER_TTL" default:"72h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CREDITSYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CREDITSYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CREDITSYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CREDITSYNC_CRON_INTERVAL" default:"1h"`
	OutboxRetention time.Duration `envconfig:"CREDITSYNC_CRON_OUTBOX_RETENTION" default:"720h"`
	BacklogWarn     int64         `envconfig:"CREDITSYNC_CRON_OUTBOX_BACKLOG_WARN" default:"1000"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CREDITSYNC_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"CREDITSYNC_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	EntitlementsTopic string        `envconfig:"CREDITSYNC_PUBSUB_ENTITLEMENTS_TOPIC" default:"entitlement-events"`
	PublishDelay      time.Duration `envconfig:"CREDITSYNC_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishBatchSize  int           `envconfig:"CREDITSYNC_PUBSUB_PUBLISH_BATCH_SIZE" default:"100"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
