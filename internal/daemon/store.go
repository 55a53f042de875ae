package daemon

import (
	"fmt"

	"github.com/zulandar/ticketbooth/internal/config"
	"github.com/zulandar/ticketbooth/internal/db"
	"github.com/zulandar/ticketbooth/internal/store"
	"go.uber.org/zap"
)

// OpenStore opens the configured store backend. The returned close function
// releases the SQL connection pool, if any.
func OpenStore(cfg config.StoreConfig, log *zap.Logger) (*store.Store, func() error, error) {
	backend, closeFn, err := OpenBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.New(backend, log), closeFn, nil
}

// OpenBackend opens the configured store backend, migrating SQL schemas.
func OpenBackend(cfg config.StoreConfig) (store.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverFile, "":
		return store.NewFileBackend(cfg.Path), noop, nil
	case config.DriverSQLite, config.DriverMySQL:
		gormDB, err := db.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("daemon: sql handle: %w", err)
		}
		if err := db.AutoMigrate(gormDB); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		backend := store.NewSQLBackend(gormDB)
		if cfg.Driver == config.DriverSQLite {
			backend.WithLockFile(cfg.Path + ".lock")
		}
		return backend, sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("daemon: unknown store driver %q", cfg.Driver)
	}
}
