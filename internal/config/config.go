// Package config loads application configuration from the environment.  A
// .env file, when present, is read first so local runs need no exports.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the runtime settings of meetupd.  Each field maps to one
// environment variable; defaults cover a local development setup.
type Config struct {
	Env      string `envconfig:"APP_ENV"  default:"dev"`
	Port     string `envconfig:"APP_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// StorageDriver selects "mysql" or "memory".
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"mysql"`
	DBUser        string `envconfig:"DB_USER" default:"root"`
	DBPass        string `envconfig:"DB_PASS"`
	DBHost        string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort        string `envconfig:"DB_PORT" default:"3306"`
	DBName        string `envconfig:"DB_NAME" default:"meetup"`
	DBMigrate     bool   `envconfig:"DB_MIGRATE" default:"true"`
	// MemorySeedFile is a JSON array of participants loaded when
	// StorageDriver is "memory".
	MemorySeedFile string `envconfig:"MEMORY_SEED_FILE"`

	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	AccessTTLMin int    `envconfig:"ACCESS_TOKEN_TTL_MIN" default:"60"`

	// RabbitURL enables the broker-backed notification gateway.  Empty
	// means notifications are only logged.
	RabbitURL         string `envconfig:"RABBITMQ_URL"`
	NotificationQueue string `envconfig:"NOTIFICATION_QUEUE" default:"schedule.notifications"`
	NotificationLog   string `envconfig:"NOTIFICATION_LOG" default:"logs/notifications.log"`
	RunConsumer       bool   `envconfig:"RUN_NOTIFICATION_CONSUMER" default:"true"`

	NotifyWorkers     int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyQueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	NotifySendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"10s"`

	// DistributedLock guards schedule mutations with Redis when more than
	// one instance shares the database.
	DistributedLock bool          `envconfig:"SCHEDULE_DISTRIBUTED_LOCK" default:"false"`
	LockTTL         time.Duration `envconfig:"SCHEDULE_LOCK_TTL" default:"10s"`

	DeadlineFireTimeout time.Duration `envconfig:"DEADLINE_FIRE_TIMEOUT" default:"30s"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load reads .env (if any) and binds the environment onto Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations envconfig cannot express.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: want mysql or memory", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.AccessTTLMin <= 0 {
		return errors.New("ACCESS_TOKEN_TTL_MIN must be positive")
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		return errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	return nil
}
