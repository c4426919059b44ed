// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS clearing_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			base_limit NUMERIC(40, 0) NOT NULL,
			max_limit NUMERIC(40, 0) NOT NULL,
			growth_factor_bp BIGINT NOT NULL,
			interest_rate_bp BIGINT NOT NULL,
			accrual_interval_seconds BIGINT NOT NULL,
			rep_factor_min DECIMAL(10, 4) NOT NULL,
			rep_factor_max DECIMAL(10, 4) NOT NULL,
			rep_lookback_blocks BIGINT NOT NULL,
			onboard_poll_interval_ms BIGINT NOT NULL,
			onboard_timeout_ms BIGINT NOT NULL,
			CONSTRAINT uq_clearing_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_clearing_parameters_config_active ON clearing_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS operation_log (
			record_id SERIAL PRIMARY KEY,
			op_id VARCHAR(64) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			identity VARCHAR(255) NOT NULL,
			amount NUMERIC(40, 0),
			outcome VARCHAR(16) NOT NULL,
			error_text TEXT,
			tx_ref VARCHAR(128),
			op_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_operation_log_timestamp ON operation_log(op_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_operation_log_identity ON operation_log(identity);
		CREATE INDEX IF NOT EXISTS idx_operation_log_kind ON operation_log(kind);

		CREATE TABLE IF NOT EXISTS account_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			identity VARCHAR(255) NOT NULL,
			principal NUMERIC(40, 0) NOT NULL,
			debt NUMERIC(40, 0) NOT NULL,
			credit_limit NUMERIC(40, 0) NOT NULL,
			available NUMERIC(40, 0) NOT NULL,
			frozen BOOLEAN NOT NULL,
			active BOOLEAN NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_account_snapshots_identity_time ON account_snapshots(identity, captured_at DESC);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
