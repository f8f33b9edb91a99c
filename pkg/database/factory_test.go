package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		Database: "functions",
		Username: "app",
		Password: "secret",
	}

	cfg.Connection = "pgsql"
	driver, dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=functions sslmode=disable", dsn)

	cfg.Connection = "mysql"
	cfg.Port = "3306"
	driver, dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Equal(t, "app:secret@tcp(db:3306)/functions?parseTime=true&loc=Local", dsn)

	cfg.Connection = "oracle"
	_, _, err = DSN(cfg)
	assert.Error(t, err)
}
