package config

import (
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is read once at startup from the environment and an optional .env file.
type Config struct {
	Env      string
	LogLevel string
	DataDir  string

	// DBDriver selects sqlite files under DataDir or a postgres server at
	// DatabaseURL for both the app database and the local document stores.
	DBDriver         string
	DatabaseURL      string
	LocalCompression string

	RemoteURL      string
	RemoteOrigin   string
	RemoteUsername string
	RemotePassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPPort string

	SyncTimeout      time.Duration
	TransferTimeout  time.Duration
	BootstrapTimeout time.Duration
	BootstrapIdle    time.Duration

	IndexRepairSchedule string

	DeviceID   string
	DeviceName string
	UserID     string
}

// LoadConfig reads the configuration. Variables already set in the
// environment take precedence over the .env file.
func LoadConfig() *Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	return &Config{
		Env:                 getEnv("ENV", "dev"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DataDir:             getEnv("DATA_DIR", "./.data"),
		DBDriver:            getEnv("DB_DRIVER", DriverSQLite),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		LocalCompression:    getEnv("LOCAL_COMPRESSION", "gzip"),
		RemoteURL:           getEnv("REMOTE_URL", ""),
		RemoteOrigin:        getEnv("REMOTE_ORIGIN", ""),
		RemoteUsername:      getEnv("REMOTE_USERNAME", ""),
		RemotePassword:      getEnv("REMOTE_PASSWORD", ""),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getInt("REDIS_DB", 0),
		HTTPPort:            getEnv("HTTP_PORT", "4030"),
		SyncTimeout:         getDuration("SYNC_TIMEOUT", 30*time.Second),
		TransferTimeout:     getDuration("TRANSFER_TIMEOUT", 60*time.Second),
		BootstrapTimeout:    getDuration("BOOTSTRAP_TIMEOUT", 90*time.Second),
		BootstrapIdle:       getDuration("BOOTSTRAP_IDLE", 3*time.Second),
		IndexRepairSchedule: getEnv("INDEX_REPAIR_SCHEDULE", "@every 5m"),
		DeviceID:            getEnv("DEVICE_ID", hostname),
		DeviceName:          getEnv("DEVICE_NAME", hostname),
		UserID:              getEnv("USER_ID", ""),
	}
}

// Validate checks the configuration before anything is opened.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Env, validation.Required, validation.In("dev", "test", "prod")),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.DBDriver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DataDir, validation.When(c.DBDriver == DriverSQLite, validation.Required)),
		validation.Field(&c.DatabaseURL, validation.When(c.DBDriver == DriverPostgres, validation.Required)),
		validation.Field(&c.LocalCompression, validation.In("none", "gzip", "brotli", "lz4")),
		validation.Field(&c.HTTPPort, validation.Required),
		validation.Field(&c.SyncTimeout, validation.Min(time.Second)),
		validation.Field(&c.TransferTimeout, validation.Min(time.Second)),
		validation.Field(&c.BootstrapTimeout, validation.Min(time.Second)),
		validation.Field(&c.BootstrapIdle, validation.Min(100*time.Millisecond)),
		validation.Field(&c.IndexRepairSchedule, validation.Required),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
