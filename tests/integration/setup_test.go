// Package integration contains integration tests for the scalping bot.
//
// These tests verify component interaction against a real PostgreSQL
// instance: repository persistence, optimistic locking, order lifecycle
// storage. Without a reachable database the tests skip themselves, so
// the unit suite stays runnable everywhere.
//
// Configure via TEST_DB_* environment variables (see getTestConfig).
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// TestConfig contains database configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "scalper_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection, skipping when unreachable
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil, func() {}
	}

	cleanup := func() {
		cleanupTestTables(db)
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// initTestTables creates the schema used by the trading core
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS pairs (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) UNIQUE NOT NULL,
			base VARCHAR(10) NOT NULL,
			quote VARCHAR(10) NOT NULL,
			qty_step DECIMAL(20, 8) NOT NULL,
			price_step DECIMAL(20, 8) NOT NULL,
			min_qty DECIMAL(20, 8) NOT NULL,
			max_qty DECIMAL(20, 8) NOT NULL,
			min_notional DECIMAL(20, 8) NOT NULL,
			active BOOLEAN DEFAULT true,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			client_token VARCHAR(64) UNIQUE NOT NULL,
			exchange_order_id VARCHAR(64) DEFAULT '',
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			type VARCHAR(20) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			executed_qty DECIMAL(20, 8) DEFAULT 0,
			price DECIMAL(20, 8),
			avg_fill_price DECIMAL(20, 8) DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			attempts INT DEFAULT 0,
			error_message TEXT DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			executed_at TIMESTAMP,
			cancelled_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			current_price DECIMAL(20, 8) DEFAULT 0,
			stop_loss_price DECIMAL(20, 8) DEFAULT 0,
			take_profit_price DECIMAL(20, 8) DEFAULT 0,
			trailing_stop_pct DECIMAL(10, 4) DEFAULT 0,
			realized_pnl DECIMAL(20, 8) DEFAULT 0,
			unrealized_pnl DECIMAL(20, 8) DEFAULT 0,
			commission DECIMAL(20, 8) DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			close_reason VARCHAR(30) DEFAULT '',
			max_holding_time_ms BIGINT DEFAULT 0,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			version BIGINT DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			order_id INT REFERENCES orders(id) ON DELETE CASCADE,
			client_token VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			commission DECIMAL(20, 8) DEFAULT 0,
			kind VARCHAR(20) NOT NULL,
			realized_pnl DECIMAL(20, 8) DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP DEFAULT NOW(),
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(10) DEFAULT 'info',
			symbol VARCHAR(20) DEFAULT '',
			message TEXT NOT NULL,
			meta JSONB
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

func cleanupTestTables(db *sql.DB) {
	tables := []string{
		"trades",
		"orders",
		"positions",
		"notifications",
		"pairs",
	}

	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}
