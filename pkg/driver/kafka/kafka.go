package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// DequeueHeader carries the delivery count across republished messages
const DequeueHeader = "dequeue-count"

// Reader is the part of kafka.Reader used by the driver
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the part of kafka.Writer used by the driver
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDriver implements queue.Driver on Kafka topics; a queue name is a topic.
// Failed messages are republished to the tail of their topic.
type KafkaDriver struct {
	writer      Writer
	newReader   func(topic string) Reader
	pollTimeout time.Duration

	mu      sync.Mutex
	readers map[string]Reader
	pending map[string]kafka.Message
}

// NewKafkaDriver creates a driver with one consumer group reader per topic
func NewKafkaDriver(cfg config.KafkaConfig) *KafkaDriver {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	newReader := func(topic string) Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return NewKafkaDriverWith(writer, newReader, 5*time.Second)
}

// NewKafkaDriverWith builds a driver from explicit reader and writer constructors
func NewKafkaDriverWith(writer Writer, newReader func(topic string) Reader, pollTimeout time.Duration) *KafkaDriver {
	return &KafkaDriver{
		writer:      writer,
		newReader:   newReader,
		pollTimeout: pollTimeout,
		readers:     make(map[string]Reader),
		pending:     make(map[string]kafka.Message),
	}
}

func (k *KafkaDriver) reader(topic string) Reader {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.readers[topic]
	if !ok {
		r = k.newReader(topic)
		k.readers[topic] = r
	}
	return r
}

// Pop fetches the next message of the topic without committing it
func (k *KafkaDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, k.pollTimeout)
	defer cancel()

	m, err := k.reader(queueName).FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, queue.ErrEmpty
		}
		return nil, err
	}

	id := messageID(m)
	k.mu.Lock()
	k.pending[id] = m
	k.mu.Unlock()

	return &queue.Message{
		ID:           id,
		Queue:        queueName,
		Body:         m.Value,
		DequeueCount: dequeueCount(m.Headers) + 1,
		InsertedAt:   m.Time,
	}, nil
}

// Push writes a message to the topic
func (k *KafkaDriver) Push(ctx context.Context, queueName string, body []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: queueName, Value: body})
}

// Ack commits the message offset
func (k *KafkaDriver) Ack(ctx context.Context, msg *queue.Message) error {
	m, err := k.take(msg)
	if err != nil {
		return err
	}
	return k.reader(msg.Queue).CommitMessages(ctx, m)
}

// Release republishes the message with its delivery count, then commits the original
func (k *KafkaDriver) Release(ctx context.Context, msg *queue.Message) error {
	m, err := k.take(msg)
	if err != nil {
		return err
	}

	retry := kafka.Message{
		Topic: msg.Queue,
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: DequeueHeader, Value: []byte(strconv.Itoa(msg.DequeueCount))},
		},
	}
	if err := k.writer.WriteMessages(ctx, retry); err != nil {
		k.mu.Lock()
		k.pending[msg.ID] = m
		k.mu.Unlock()
		return err
	}
	return k.reader(msg.Queue).CommitMessages(ctx, m)
}

// MaxConcurrency is one: offsets of a partition must be committed in fetch order
func (k *KafkaDriver) MaxConcurrency() int {
	return 1
}

// Close closes every reader and the writer
func (k *KafkaDriver) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var firstErr error
	for _, r := range k.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := k.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (k *KafkaDriver) take(msg *queue.Message) (kafka.Message, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.pending[msg.ID]
	if !ok {
		return kafka.Message{}, fmt.Errorf("unknown kafka message %s", msg.ID)
	}
	delete(k.pending, msg.ID)
	return m, nil
}

func messageID(m kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

func dequeueCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key != DequeueHeader {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil {
			return n
		}
	}
	return 0
}
