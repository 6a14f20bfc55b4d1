package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/phrazzld/agent-infra/internal/config"
	"github.com/phrazzld/agent-infra/internal/redact"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// pingTimeout bounds connection checks.
const pingTimeout = 5 * time.Second

// Open connects to PostgreSQL, sizes the pool from cfg and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open(DriverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(1, maxOpen/2))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("database.connection.initialized",
		"url", redact.URL(cfg.URL),
		"max_open_conns", maxOpen)
	return db, nil
}

// Ping runs SELECT 1 against db.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var one int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("database ping timed out after %v: %w", pingTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("network error connecting to database: %w", err)
	}
	return fmt.Errorf("failed to ping database: %w", err)
}

// Checker adapts a *sql.DB to the health check interface.
type Checker struct {
	DB *sql.DB
}

// Ping implements the health check.
func (c Checker) Ping(ctx context.Context) error {
	if c.DB == nil {
		return errors.New("database not configured")
	}
	return Ping(ctx, c.DB)
}
