package config

import (
	"context"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SYNC_TIMEOUT", "5s")
	t.Setenv("BOOTSTRAP_IDLE", "not-a-duration")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DEVICE_NAME", "Laptop")

	cfg := LoadConfig()
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 5*time.Second, cfg.SyncTimeout)
	assert.Equal(t, 3*time.Second, cfg.BootstrapIdle)
	assert.Equal(t, 60*time.Second, cfg.TransferTimeout)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "Laptop", cfg.DeviceName)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:                 "dev",
			LogLevel:            "info",
			DataDir:             "./.data",
			DBDriver:            DriverSQLite,
			LocalCompression:    "gzip",
			HTTPPort:            "4030",
			SyncTimeout:         30 * time.Second,
			TransferTimeout:     60 * time.Second,
			BootstrapTimeout:    90 * time.Second,
			BootstrapIdle:       3 * time.Second,
			IndexRepairSchedule: "@every 5m",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown env", mutate: func(c *Config) { c.Env = "staging" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: true},
		{name: "postgres without url", mutate: func(c *Config) { c.DBDriver = DriverPostgres }, wantErr: true},
		{name: "postgres with url", mutate: func(c *Config) {
			c.DBDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/storysync"
		}},
		{name: "unknown compression", mutate: func(c *Config) { c.LocalCompression = "zstd" }, wantErr: true},
		{name: "tiny timeout", mutate: func(c *Config) { c.SyncTimeout = time.Millisecond }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalOpener(t *testing.T) {
	cfg := &Config{Env: "test", DataDir: t.TempDir(), DBDriver: DriverSQLite, LocalCompression: "lz4"}

	s, err := LocalOpener(cfg)(context.Background(), "storysync-a")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "storysync-a", s.Name())
	_, err = s.Put(context.Background(), &model.Document{ID: "A", Fields: map[string]any{"title": "A", "chapters": []any{}}})
	require.NoError(t, err)

	db, err := GetDb(cfg)
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
}

func TestTablePrefix(t *testing.T) {
	assert.Equal(t, "storysync_a_b_", tablePrefix("storysync-a$b"))
}
