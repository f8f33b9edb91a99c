package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// DatabasePoisonSink implements queue.PoisonSink using a SQL table
type DatabasePoisonSink struct {
	db         *sql.DB
	table      string
	connection string
	postgres   bool
}

// NewDatabasePoisonSink creates a new sink writing to tableName
func NewDatabasePoisonSink(db *sql.DB, tableName string, connection string) *DatabasePoisonSink {
	if tableName == "" {
		tableName = "poison_messages"
	}
	return &DatabasePoisonSink{
		db:         db,
		table:      tableName,
		connection: connection,
		postgres:   dialect(connection) == "postgres",
	}
}

// Poison records the message with the error that exhausted it
func (p *DatabasePoisonSink) Poison(ctx context.Context, queueName string, msg *queue.Message, cause error) error {
	query := rebind(`
		INSERT INTO `+p.table+` (connection, queue, payload, exception, failed_at)
		VALUES (?, ?, ?, ?, ?)`, p.postgres)

	exception := ""
	if cause != nil {
		exception = cause.Error()
	}
	_, err := p.db.ExecContext(ctx, query, p.connection, queueName, msg.Body, exception, time.Now())
	return err
}
