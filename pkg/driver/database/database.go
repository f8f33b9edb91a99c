package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// DatabaseDriver implements queue.Driver for SQL databases.
//
// Expected table layout:
//
//	id BIGINT PRIMARY KEY, queue VARCHAR, payload BLOB/BYTEA, attempts INT,
//	reserved_at BIGINT NULL, available_at BIGINT, created_at BIGINT
type DatabaseDriver struct {
	db         *sql.DB
	table      string
	visibility time.Duration
	pollEvery  time.Duration

	mu     sync.RWMutex
	driver string // "mysql" or "postgres"
}

// NewDatabaseDriver creates a new database driver
func NewDatabaseDriver(cfg config.DatabaseConfig, db *sql.DB) *DatabaseDriver {
	tableName := cfg.Table
	if tableName == "" {
		tableName = "queue_messages"
	}
	return &DatabaseDriver{
		db:         db,
		table:      tableName,
		visibility: 30 * time.Second,
		pollEvery:  time.Second,
		driver:     dialect(cfg.Connection),
	}
}

// SetVisibility changes how long a popped message stays reserved
func (d *DatabaseDriver) SetVisibility(v time.Duration) {
	if v > 0 {
		d.visibility = v
	}
}

func dialect(connection string) string {
	switch connection {
	case "pgsql", "postgres", "pq":
		return "postgres"
	default:
		return "mysql"
	}
}

// rebind converts ? placeholders into $n for postgres
func (d *DatabaseDriver) rebind(query string) string {
	d.mu.RLock()
	pg := d.driver == "postgres"
	d.mu.RUnlock()
	return rebind(query, pg)
}

func rebind(query string, postgres bool) string {
	if !postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// detect switches to postgres placeholders when the server reports a pq error
func (d *DatabaseDriver) detect(err error) {
	if err == nil || !strings.HasPrefix(err.Error(), "pq:") {
		return
	}
	d.mu.Lock()
	d.driver = "postgres"
	d.mu.Unlock()
}

// Pop polls until a visible message can be reserved or the context ends
func (d *DatabaseDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	msg, err := d.popJob(ctx, queueName)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// SQL doesn't block like Redis: poll once more after a short wait
	timer := time.NewTimer(d.pollEvery)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	msg, err = d.popJob(ctx, queueName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEmpty
	}
	return msg, err
}

func (d *DatabaseDriver) popJob(ctx context.Context, queueName string) (*queue.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := d.rebind(fmt.Sprintf(`
		SELECT id, payload, attempts, created_at
		FROM %s
		WHERE queue = ?
		AND (reserved_at IS NULL OR reserved_at <= ?)
		AND available_at <= ?
		ORDER BY id ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`, d.table))

	now := time.Now()
	expired := now.Add(-d.visibility).Unix()

	var (
		id        int64
		payload   []byte
		attempts  int
		createdAt int64
	)
	err = tx.QueryRowContext(ctx, query, queueName, expired, now.Unix()).Scan(&id, &payload, &attempts, &createdAt)
	if err != nil {
		d.detect(err)
		return nil, err
	}

	update := d.rebind(fmt.Sprintf("UPDATE %s SET reserved_at = ?, attempts = attempts + 1 WHERE id = ?", d.table))
	if _, err := tx.ExecContext(ctx, update, now.Unix(), id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &queue.Message{
		ID:           strconv.FormatInt(id, 10),
		Queue:        queueName,
		Body:         payload,
		DequeueCount: attempts + 1,
		InsertedAt:   time.Unix(createdAt, 0).UTC(),
	}, nil
}

// Push adds a message to the database
func (d *DatabaseDriver) Push(ctx context.Context, queueName string, body []byte) error {
	query := d.rebind(fmt.Sprintf(`
		INSERT INTO %s (queue, payload, attempts, available_at, created_at)
		VALUES (?, ?, 0, ?, ?)`, d.table))

	now := time.Now().Unix()
	_, err := d.db.ExecContext(ctx, query, queueName, body, now, now)
	d.detect(err)
	return err
}

// Ack deletes the reserved row
func (d *DatabaseDriver) Ack(ctx context.Context, msg *queue.Message) error {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	_, err = d.db.ExecContext(ctx, d.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", d.table)), id)
	return err
}

// Release clears the reservation so the row is visible again
func (d *DatabaseDriver) Release(ctx context.Context, msg *queue.Message) error {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	query := d.rebind(fmt.Sprintf("UPDATE %s SET reserved_at = NULL, available_at = ? WHERE id = ?", d.table))
	_, err = d.db.ExecContext(ctx, query, time.Now().Unix(), id)
	return err
}

// Extend moves the reservation so the row stays hidden for visibility from now
func (d *DatabaseDriver) Extend(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	reservedAt := time.Now().Add(visibility - d.visibility).Unix()
	query := d.rebind(fmt.Sprintf("UPDATE %s SET reserved_at = ? WHERE id = ?", d.table))
	_, err = d.db.ExecContext(ctx, query, reservedAt, id)
	return err
}

// Len counts rows belonging to the queue
func (d *DatabaseDriver) Len(ctx context.Context, queueName string) (int, error) {
	var n int
	query := d.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue = ?", d.table))
	err := d.db.QueryRowContext(ctx, query, queueName).Scan(&n)
	return n, err
}
