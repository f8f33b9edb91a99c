package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
)

// Open creates a connection pool for the queue database and verifies it answers
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// DSN maps the configuration to a database/sql driver name and data source name
func DSN(cfg config.DatabaseConfig) (string, string, error) {
	switch cfg.Connection {
	case "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database), nil
	case "pgsql", "postgres":
		return "postgres", fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database), nil
	default:
		return "", "", fmt.Errorf("unsupported database connection: %s", cfg.Connection)
	}
}
