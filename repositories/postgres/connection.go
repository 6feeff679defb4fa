package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// NewFromConn wraps an already-open connection pool. Used by tests and
// tools that manage the pool themselves.
func NewFromConn(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Users table
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Service accounts table (machine principals with access keys)
		CREATE TABLE IF NOT EXISTS service_accounts (
			access_key_id VARCHAR(128) PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE,
			secret_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Groups table
		CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Group membership
		CREATE TABLE IF NOT EXISTS user_groups (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, group_id)
		);

		-- Policies table
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE,
			document JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Policy attachments
		CREATE TABLE IF NOT EXISTS user_policies (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, policy_id)
		);

		CREATE TABLE IF NOT EXISTS group_policies (
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			PRIMARY KEY (group_id, policy_id)
		);

		CREATE TABLE IF NOT EXISTS service_account_policies (
			service_account VARCHAR(64) NOT NULL REFERENCES service_accounts(name) ON DELETE CASCADE,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			PRIMARY KEY (service_account, policy_id)
		);

		-- Audit trail
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			operation VARCHAR(100) NOT NULL,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request JSONB,
			response JSONB,
			error_code VARCHAR(64)
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
		CREATE INDEX IF NOT EXISTS idx_user_groups_group_id ON user_groups(group_id);
		CREATE INDEX IF NOT EXISTS idx_user_policies_policy_id ON user_policies(policy_id);
		CREATE INDEX IF NOT EXISTS idx_group_policies_policy_id ON group_policies(policy_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_operation ON audit_logs(operation);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit database schema (audit_logs only).
// Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			operation VARCHAR(100) NOT NULL,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request JSONB,
			response JSONB,
			error_code VARCHAR(64)
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_operation ON audit_logs(operation);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	db.logger.Info("audit schema initialized successfully")
	return nil
}
