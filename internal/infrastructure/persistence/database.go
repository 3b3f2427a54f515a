package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erp/reconciler/internal/infrastructure/config"
	zaplogger "github.com/erp/reconciler/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the reconciler's PostgreSQL handle. Repositories share DB.
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// NewDatabase connects using cfg and routes statement logs into log.
func NewDatabase(cfg *config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	return open(postgres.Open(cfg.DSN()), cfg, zaplogger.NewStoreLogger(log, zaplogger.ParseStoreLevel(cfg.LogLevel)))
}

// statementTTL evicts prepared statements that have gone unused, e.g. an
// IN-list length seen once.
const statementTTL = time.Hour

func open(dialector gorm.Dialector, cfg *config.DatabaseConfig, statementLog logger.Interface) (*Database, error) {
	// Unique violations come back as gorm.ErrDuplicatedKey so the repositories
	// can map them to shared.ErrAlreadyExists.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 statementLog,
		TranslateError:         true,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		PrepareStmtMaxSize:     cfg.StatementCacheSize,
		PrepareStmtTTL:         statementTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	configurePool(pool, cfg)

	if err := pool.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{DB: db, sql: pool}, nil
}

func configurePool(pool *sql.DB, cfg *config.DatabaseConfig) {
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

// SQL exposes the connection pool, e.g. for the Prometheus pool collector.
func (d *Database) SQL() *sql.DB {
	return d.sql
}

// Ping backs the readiness check.
func (d *Database) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.sql.Close()
}

// Transaction runs fn in a transaction bound to ctx.
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}
