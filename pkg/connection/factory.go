package connection

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/database"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/amqp"
	databasedriver "github.com/mostefaiamine-25/aspire-functions/pkg/driver/database"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/emulator"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/kafka"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/memory"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/redis"
	sqsdriver "github.com/mostefaiamine-25/aspire-functions/pkg/driver/sqs"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// Connection is an open queue backend together with its poison sink
type Connection struct {
	Name   string
	Driver queue.Driver
	Poison queue.PoisonSink

	closers []func() error
}

// Close releases the resources held by the backend
func (c *Connection) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// NewDriver opens the queue backend selected by cfg.Queue.Driver
func NewDriver(ctx context.Context, cfg *config.Config) (*Connection, error) {
	visibility := cfg.Host.VisibilityTimeout
	conn := &Connection{Name: cfg.Queue.Driver}

	switch cfg.Queue.Driver {
	case "", "memory":
		conn.Name = "memory"
		conn.Driver = memory.NewMemoryDriver(nil, visibility)

	case "emulator":
		d := emulator.NewEmulatorDriver(cfg.Emulator.URL, &http.Client{Timeout: 10 * time.Second}, visibility)
		if err := d.Health(ctx); err != nil {
			return nil, fmt.Errorf("storage emulator at %s: %w", cfg.Emulator.URL, err)
		}
		conn.Driver = d

	case "redis":
		d := redis.NewRedisDriver(cfg.Redis)
		if err := d.Client.Ping(ctx).Err(); err != nil {
			d.Client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		conn.Driver = d
		conn.closers = append(conn.closers, d.Client.Close)

	case "sqs":
		client, err := config.LoadSQSClient(ctx, cfg.SQS)
		if err != nil {
			return nil, fmt.Errorf("loading sqs client: %w", err)
		}
		conn.Driver = sqsdriver.NewSQSDriver(client, cfg.SQS.QueueUrl, cfg.SQS.Wait, visibility)

	case "database", "mysql", "pgsql", "postgres":
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		d := databasedriver.NewDatabaseDriver(cfg.Database, db)
		d.SetVisibility(visibility)
		conn.Driver = d
		conn.Poison = databasedriver.NewDatabasePoisonSink(db, cfg.Database.PoisonTable, cfg.Database.Connection)
		conn.closers = append(conn.closers, db.Close)

	case "kafka":
		d := kafka.NewKafkaDriver(cfg.Kafka)
		conn.Driver = d
		conn.closers = append(conn.closers, d.Close)

	case "amqp", "rabbitmq":
		d, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, err
		}
		conn.Driver = d
		conn.closers = append(conn.closers, d.Close)

	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}

	if conn.Poison == nil {
		conn.Poison = queue.NewPoisonQueue(conn.Driver)
	}
	return conn, nil
}
