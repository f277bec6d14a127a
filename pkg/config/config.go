package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "COURSEMGMT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "COURSEMGMT_DB_DSN"
	EnvDBHost = "COURSEMGMT_DB_HOST"
	EnvDBUser = "COURSEMGMT_DB_USER"
	EnvDBName = "COURSEMGMT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Worker        WorkerConfig
	Queues        QueuesConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
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
	Env          string `envconfig:"COURSEMGMT_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"COURSEMGMT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COURSEMGMT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COURSEMGMT_SERVICE_KIND" default:"notification-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"COURSEMGMT_DB_DSN"`
	Driver string `envconfig:"COURSEMGMT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COURSEMGMT_DB_HOST"`
	LegacyPort     int    `envconfig:"COURSEMGMT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COURSEMGMT_DB_USER"`
	LegacyPassword string `envconfig:"COURSEMGMT_DB_PASSWORD"`
	LegacyName     string `envconfig:"COURSEMGMT_DB_NAME"`
	LegacySSLMode  string `envconfig:"COURSEMGMT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEMGMT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEMGMT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEMGMT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEMGMT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEMGMT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COURSEMGMT_REDIS_ADDR"`
	Password     string        `envconfig:"COURSEMGMT_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURSEMGMT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURSEMGMT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEMGMT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEMGMT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEMGMT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEMGMT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COURSEMGMT_AUTO_MIGRATE" default:"false"`
}

type WorkerConfig struct {
	OpsPort         string        `envconfig:"COURSEMGMT_WORKER_OPS_PORT" default:"9090"`
	ShutdownTimeout time.Duration `envconfig:"COURSEMGMT_WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// QueuesConfig tunes the delivery queue workers. Retry and retention policy
// per queue is fixed in code; only operational knobs live in the environment.
type QueuesConfig struct {
	PollInterval time.Duration `envconfig:"COURSEMGMT_QUEUE_POLL_INTERVAL" default:"250ms"`
	Concurrency  int           `envconfig:"COURSEMGMT_QUEUE_CONCURRENCY" default:"1"`
}

type SchedulerConfig struct {
	ScanInterval    time.Duration `envconfig:"COURSEMGMT_SCHEDULER_SCAN_INTERVAL" default:"24h"`
	HygieneInterval time.Duration `envconfig:"COURSEMGMT_SCHEDULER_HYGIENE_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"COURSEMGMT_SCHEDULER_LOCK_TTL" default:"20h"`
}

type NotificationsConfig struct {
	RetentionDays int           `envconfig:"COURSEMGMT_NOTIFICATION_RETENTION_DAYS" default:"30"`
	JobMaxAge     time.Duration `envconfig:"COURSEMGMT_QUEUE_JOB_MAX_AGE" default:"24h"`
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
