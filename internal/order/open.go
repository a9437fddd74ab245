package order

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/noah-isme/solpay-gateway/internal/obs"
)

// BackendConfig selects and configures the order database.
type BackendConfig struct {
	Driver          string
	DatabaseURL     string
	SQLitePath      string
	ApplicationName string
	MaxConns        int32
	// Migrate applies pending migrations after connecting.
	Migrate bool
}

// Backend is an opened order store together with its probe and closer.
type Backend struct {
	Store Store
	ping  func(context.Context) error
	close func()
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return ErrStoreUnavailable
	}
	return b.ping(ctx)
}

// Close releases the underlying connections.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects to the configured driver and returns a ready store.
func OpenBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "":
		return openPostgres(ctx, cfg)
	case DriverSQLite:
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("order: unsupported driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		err := Migrate(db, DriverPostgres)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Backend{Store: NewPGStore(pool), ping: pool.Ping, close: pool.Close}, nil
}

func openSQLite(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	db, err := OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serializing connections keeps transitions atomic.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.Migrate {
		if err := Migrate(db, DriverSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Backend{
		Store: NewSQLiteStore(db),
		ping:  db.PingContext,
		close: func() { _ = db.Close() },
	}, nil
}

// OpenMigrationDB opens a database/sql handle suitable for Migrate.
func OpenMigrationDB(driver, databaseURL, sqlitePath string) (*sql.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "":
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	case DriverSQLite:
		return OpenSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("order: unsupported driver %q", driver)
	}
}
