package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// DB wraps sqlx.DB with transaction propagation and retry
type DB struct {
	*sqlx.DB
	logger     *logger.Logger
	maxRetries int
	baseDelay  time.Duration
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return Wrap(db, log, cfg.TxMaxRetries, cfg.TxRetryBaseDelay), nil
}

// Wrap adopts an existing connection. Tests use it with sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger, maxRetries int, baseDelay time.Duration) *DB {
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}
	return &DB{
		DB:         db,
		logger:     log.WithComponent("database"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Close closes the connection pool
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the database and reports pool usage
func (db *DB) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := db.Stats()
	status := map[string]string{
		"status": "up",
		"open":   strconv.Itoa(stats.OpenConnections),
		"in_use": strconv.Itoa(stats.InUse),
	}
	if stats.MaxOpenConnections > 0 {
		status["max_open"] = strconv.Itoa(stats.MaxOpenConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction runs fn in a single attempt. InTx builds retries on top of it.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
