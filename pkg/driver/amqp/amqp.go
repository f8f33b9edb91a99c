package amqp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// DequeueHeader carries the delivery count across republished messages
const DequeueHeader = "x-dequeue-count"

// Channel is the part of amqp.Channel used by the driver
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueInspect(name string) (amqp.Queue, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Close() error
}

// AMQPDriver implements queue.Driver on durable RabbitMQ queues
type AMQPDriver struct {
	conn *amqp.Connection

	mu       sync.Mutex
	ch       Channel
	declared map[string]bool
	pending  map[string]amqp.Delivery
}

// Dial connects to the broker and opens the channel used by the driver
func Dial(url string) (*AMQPDriver, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	d := NewAMQPDriver(ch)
	d.conn = conn
	return d, nil
}

// NewAMQPDriver creates a driver on an open channel
func NewAMQPDriver(ch Channel) *AMQPDriver {
	return &AMQPDriver{
		ch:       ch,
		declared: make(map[string]bool),
		pending:  make(map[string]amqp.Delivery),
	}
}

// declare must be called with d.mu held
func (d *AMQPDriver) declare(name string) error {
	if d.declared[name] {
		return nil
	}
	_, err := d.ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("QueueDeclare %s: %w", name, err)
	}
	d.declared[name] = true
	return nil
}

// Pop gets one message without auto ack
func (d *AMQPDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.declare(queueName); err != nil {
		return nil, err
	}
	delivery, ok, err := d.ch.Get(queueName, false)
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", queueName, err)
	}
	if !ok {
		return nil, queue.ErrEmpty
	}

	id := strconv.FormatUint(delivery.DeliveryTag, 10)
	d.pending[id] = delivery

	return &queue.Message{
		ID:           id,
		Queue:        queueName,
		Body:         delivery.Body,
		DequeueCount: dequeueCount(delivery.Headers) + 1,
		InsertedAt:   delivery.Timestamp,
	}, nil
}

// Push publishes a persistent message to the queue
func (d *AMQPDriver) Push(ctx context.Context, queueName string, body []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.declare(queueName); err != nil {
		return err
	}
	return d.publish(queueName, body, 0)
}

// Ack acknowledges the delivery
func (d *AMQPDriver) Ack(ctx context.Context, msg *queue.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery, err := d.take(msg)
	if err != nil {
		return err
	}
	return d.ch.Ack(delivery.DeliveryTag, false)
}

// Release republishes the message with its delivery count and acknowledges the original
func (d *AMQPDriver) Release(ctx context.Context, msg *queue.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery, err := d.take(msg)
	if err != nil {
		return err
	}
	if err := d.publish(msg.Queue, delivery.Body, msg.DequeueCount); err != nil {
		d.pending[msg.ID] = delivery
		return err
	}
	return d.ch.Ack(delivery.DeliveryTag, false)
}

// Len returns the number of ready messages
func (d *AMQPDriver) Len(ctx context.Context, queueName string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, err := d.ch.QueueInspect(queueName)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close closes the channel and the connection
func (d *AMQPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.ch.Close()
	if d.conn != nil {
		if cerr := d.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// publish must be called with d.mu held
func (d *AMQPDriver) publish(queueName string, body []byte, count int) error {
	msg := amqp.Publishing{
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if count > 0 {
		msg.Headers = amqp.Table{DequeueHeader: int32(count)}
	}

	err := d.ch.Publish(
		"",
		queueName,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("Publish %s: %w", queueName, err)
	}
	return nil
}

// take must be called with d.mu held
func (d *AMQPDriver) take(msg *queue.Message) (amqp.Delivery, error) {
	delivery, ok := d.pending[msg.ID]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("unknown delivery %s", msg.ID)
	}
	delete(d.pending, msg.ID)
	return delivery, nil
}

func dequeueCount(headers amqp.Table) int {
	switch v := headers[DequeueHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
