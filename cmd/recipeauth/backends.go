package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ra "github.com/panyam/recipeauth"
	"github.com/panyam/recipeauth/config"
	"github.com/panyam/recipeauth/stores/fs"
	"github.com/panyam/recipeauth/stores/gae"
	gormstore "github.com/panyam/recipeauth/stores/gorm"
	"github.com/panyam/recipeauth/stores/memory"
	redisstore "github.com/panyam/recipeauth/stores/redis"
)

// expirer is implemented by ephemeral stores that do not expire entries on
// their own
type expirer interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// backends holds the opened stores and whatever must be closed on exit
type backends struct {
	users     ra.IdentityStore
	ephemeral ra.EphemeralStore
	health    map[string]ra.Pinger
	closers   []func() error

	db        *gorm.DB
	datastore *datastore.Client
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *backends, err error) {
	b := &backends{health: map[string]ra.Pinger{}}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	switch cfg.Storage.IdentityBackend {
	case "fs":
		b.users = fs.NewIdentityStore(cfg.Storage.Path)
	case "gorm":
		db, err := b.openDB(cfg)
		if err != nil {
			return nil, err
		}
		b.users = gormstore.NewIdentityStore(db)
	case "datastore":
		client, err := b.openDatastore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := gae.NewIdentityStore(client, cfg.Storage.DatastoreNamespace)
		b.users = store
		b.health["datastore"] = store
	default:
		return nil, fmt.Errorf("unknown identity store %q", cfg.Storage.IdentityBackend)
	}

	switch cfg.Storage.EphemeralBackend {
	case "memory":
		b.ephemeral = memory.NewStore()
	case "fs":
		b.ephemeral = fs.NewEphemeralStore(cfg.Storage.Path)
	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.ConnectConfig{
			URL:            cfg.Storage.RedisURL,
			RetryAttempts:  5,
			RetryInterval:  2 * time.Second,
			ConnectTimeout: 30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		store := redisstore.NewStore(client, cfg.Storage.RedisPrefix)
		b.ephemeral = store
		b.health["redis"] = store
	case "gorm":
		db, err := b.openDB(cfg)
		if err != nil {
			return nil, err
		}
		b.ephemeral = gormstore.NewEphemeralStore(db)
	case "datastore":
		client, err := b.openDatastore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := gae.NewEphemeralStore(client, cfg.Storage.DatastoreNamespace)
		b.ephemeral = store
		if _, ok := b.health["datastore"]; !ok {
			b.health["datastore"] = store
		}
	default:
		return nil, fmt.Errorf("unknown ephemeral store %q", cfg.Storage.EphemeralBackend)
	}

	log.Info("storage ready",
		"identity", cfg.Storage.IdentityBackend,
		"ephemeral", cfg.Storage.EphemeralBackend)
	return b, nil
}

// openDB opens the shared database once and migrates it
func (b *backends) openDB(cfg *config.Config) (*gorm.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	var dialector gorm.Dialector
	switch cfg.Storage.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.Storage.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.Storage.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Storage.DBDriver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, sqlDB.Close)
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	b.db = db
	b.health["database"] = pingFunc(sqlDB.PingContext)
	return db, nil
}

func (b *backends) openDatastore(ctx context.Context, cfg *config.Config) (*datastore.Client, error) {
	if b.datastore != nil {
		return b.datastore, nil
	}
	client, err := datastore.NewClient(ctx, cfg.Storage.DatastoreProject)
	if err != nil {
		return nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	b.closers = append(b.closers, client.Close)
	b.datastore = client
	return client, nil
}

// purgeExpired removes expired ephemeral entries from stores that need it
func purgeExpired(ctx context.Context, store ra.EphemeralStore, log *slog.Logger) error {
	e, ok := store.(expirer)
	if !ok {
		log.Info("ephemeral store expires entries on its own, nothing to purge")
		return nil
	}
	n, err := e.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging expired entries: %w", err)
	}
	log.Info("purged expired entries", "count", n)
	return nil
}
