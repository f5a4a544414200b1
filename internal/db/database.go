// Package db provides PostgreSQL database access for octabot: connection
// pooling, schema migration, and the Task/Project/User stores that back
// the engine's Task Store contract and the HTTP API's CRUD surface.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a pooled *sql.DB shared across the scheduler driver and
// every worker job, and across the HTTP API handlers.
type Database struct {
	db *sql.DB
}

// validateConfig validates database configuration to prevent SQL injection
// via connection-string field substitution.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a pooled connection to Postgres.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. sqlmock) for tests.
// Not for production use.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate applies the octabot schema: users, projects, tasks, and the
// updated_at trigger function shared by all three.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			username VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE,
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_ci ON users (LOWER(username))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_ci ON users (LOWER(email)) WHERE email IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR(36) PRIMARY KEY,
			code VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			options JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_code_ci ON projects (LOWER(code))`,
		`CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'new',
			project_id VARCHAR(36) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			retries INT NOT NULL DEFAULT 0,
			external_id VARCHAR(255) UNIQUE,
			external_modified_at TIMESTAMPTZ,
			schedule VARCHAR(100),
			start_at BIGINT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			locked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks(external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_start_at ON tasks(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_locked_at ON tasks(locked_at)`,
		// acquire_batch's predicate filters on (status, start_at, locked_at)
		// together; this composite index keeps the lease query a single
		// index scan under load.
		`CREATE INDEX IF NOT EXISTS idx_tasks_lease_candidates ON tasks(status, start_at, locked_at)`,

		`CREATE OR REPLACE FUNCTION set_updated_at() RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS trg_users_updated_at ON users`,
		`CREATE TRIGGER trg_users_updated_at BEFORE UPDATE ON users
			FOR EACH ROW EXECUTE FUNCTION set_updated_at()`,
		`DROP TRIGGER IF EXISTS trg_projects_updated_at ON projects`,
		`CREATE TRIGGER trg_projects_updated_at BEFORE UPDATE ON projects
			FOR EACH ROW EXECUTE FUNCTION set_updated_at()`,
		`DROP TRIGGER IF EXISTS trg_tasks_updated_at ON tasks`,
		`CREATE TRIGGER trg_tasks_updated_at BEFORE UPDATE ON tasks
			FOR EACH ROW EXECUTE FUNCTION set_updated_at()`,
	}

	for _, stmt := range migrations {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, stmt)
		}
	}

	return nil
}
