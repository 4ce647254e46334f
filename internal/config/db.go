package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emrgen/storysync/internal/compress"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const appDatabase = "storysync"

// GetDb opens the app database holding the audit log.
func GetDb(cfg *Config) (*gorm.DB, error) {
	return open(cfg, appDatabase, "")
}

// LocalOpener returns the opener the store manager uses on user switches.
// Each name is a sqlite file {DataDir}/{name}.db, or a set of tables
// prefixed {name}_ on postgres.
func LocalOpener(cfg *Config) store.LocalOpener {
	return func(ctx context.Context, name string) (store.Store, error) {
		compressor, err := compress.New(cfg.LocalCompression)
		if err != nil {
			return nil, err
		}

		db, err := open(cfg, name, tablePrefix(name))
		if err != nil {
			return nil, err
		}

		s := store.NewGormStore(name, db, compressor, cfg.LocalCompression)
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}

		logrus.Infof("opened local database %s", name)
		return s, nil
	}
}

func open(cfg *Config, name, prefix string) (*gorm.DB, error) {
	d, err := dialector(cfg, name)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if cfg.Env == "prod" {
		level = logger.Error
	}

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(level)}
	if prefix != "" && cfg.DBDriver == DriverPostgres {
		gormConfig.NamingStrategy = schema.NamingStrategy{TablePrefix: prefix}
	}

	db, err := gorm.Open(d, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open %s database %s: %w", cfg.DBDriver, name, err)
	}

	return db, nil
}

func dialector(cfg *Config, name string) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case DriverPostgres:
		return postgres.Open(cfg.DatabaseURL), nil
	case DriverSQLite, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.Open(filepath.Join(cfg.DataDir, name+".db")), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

// postgres identifiers cannot carry every character database names allow
func tablePrefix(name string) string {
	out := make([]rune, 0, len(name)+1)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out) + "_"
}
