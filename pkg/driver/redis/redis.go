package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// envelope is the list item format written by this driver.
// Items pushed by other producers are accepted as raw bodies.
type envelope struct {
	ID           string    `json:"id"`
	DequeueCount int       `json:"dequeueCount"`
	InsertedAt   time.Time `json:"insertedAt"`
	Body         []byte    `json:"body"`
}

type RedisDriver struct {
	Client      *goredis.Client
	prefix      string
	pollTimeout time.Duration
}

// NewRedisDriver creates a new Redis driver instance
func NewRedisDriver(cfg config.RedisConfig) *RedisDriver {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisDriverWithClient(rdb, cfg.Prefix, cfg.PollTimeout)
}

// NewRedisDriverWithClient wraps an existing client
func NewRedisDriverWithClient(client *goredis.Client, prefix string, pollTimeout time.Duration) *RedisDriver {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisDriver{Client: client, prefix: prefix, pollTimeout: pollTimeout}
}

func (r *RedisDriver) key(queueName string) string {
	return r.prefix + queueName
}

// Pop blocks for up to the poll timeout until a message is available
func (r *RedisDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	// BLPOP returns [key, value]; go-redis respects the context deadline
	result, err := r.Client.BLPop(ctx, r.pollTimeout, r.key(queueName)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, queue.ErrEmpty
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, queue.ErrEmpty
	}

	env := decodeItem([]byte(result[1]))
	return &queue.Message{
		ID:           env.ID,
		Queue:        queueName,
		Body:         env.Body,
		DequeueCount: env.DequeueCount + 1,
		InsertedAt:   env.InsertedAt,
	}, nil
}

// Push adds a message to the queue
func (r *RedisDriver) Push(ctx context.Context, queueName string, body []byte) error {
	item, err := json.Marshal(envelope{
		ID:         uuid.NewString(),
		InsertedAt: time.Now().UTC(),
		Body:       body,
	})
	if err != nil {
		return err
	}
	return r.Client.RPush(ctx, r.key(queueName), item).Err()
}

// Ack is a no-op: BLPOP already removed the item
func (r *RedisDriver) Ack(ctx context.Context, msg *queue.Message) error {
	return nil
}

// Release pushes the message back to the tail of the list, keeping its dequeue count
func (r *RedisDriver) Release(ctx context.Context, msg *queue.Message) error {
	item, err := json.Marshal(envelope{
		ID:           msg.ID,
		DequeueCount: msg.DequeueCount,
		InsertedAt:   msg.InsertedAt,
		Body:         msg.Body,
	})
	if err != nil {
		return err
	}
	return r.Client.RPush(ctx, r.key(msg.Queue), item).Err()
}

// Len returns the list length
func (r *RedisDriver) Len(ctx context.Context, queueName string) (int, error) {
	n, err := r.Client.LLen(ctx, r.key(queueName)).Result()
	return int(n), err
}

func decodeItem(item []byte) envelope {
	var env envelope
	if err := json.Unmarshal(item, &env); err != nil || env.ID == "" || env.Body == nil {
		return envelope{ID: uuid.NewString(), Body: item}
	}
	return env
}
