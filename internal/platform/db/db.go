package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Database wraps a gorm handle for either Postgres or SQLite.
type Database struct {
	DB     *gorm.DB
	Driver string
}

type Options struct {
	// Tracing installs the gorm OpenTelemetry plugin.
	Tracing bool
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
}

func Connect(dsn string, opts Options) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	database := &Database{DB: db, Driver: "postgres"}
	if err := database.init(opts); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// OpenSQLite opens an embedded database, e.g. "file::memory:?cache=shared".
// SQLite allows one writer, so the pool is capped at a single connection.
func OpenSQLite(path string, opts Options) (*Database, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open gorm sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite sql db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	database := &Database{DB: db, Driver: "sqlite"}
	if err := database.init(opts); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

func (d *Database) init(opts Options) error {
	if !opts.Tracing {
		return nil
	}
	if err := d.DB.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return fmt.Errorf("install gorm tracing: %w", err)
	}
	return nil
}

// Migrate creates or updates the tables of the given models.
func (d *Database) Migrate(models ...any) error {
	if err := d.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
