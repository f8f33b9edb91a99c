package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Driver.Pop when no message is currently visible.
var ErrEmpty = errors.New("queue is empty")

// Message represents a message retrieved from a queue
type Message struct {
	ID           string    // Driver specific identity (message id, row id, delivery tag...)
	Receipt      string    // Token required by Ack and Release on visibility based backends
	Queue        string    // Queue the message was popped from
	Body         []byte    // Message text as stored on the queue
	Data         []byte    // Decoded content handed to triggers
	DequeueCount int       // Number of times the message has been delivered, including this one
	InsertedAt   time.Time // Zero when the backend does not expose it
}

// Handler is the function signature for processing a message
type Handler func(ctx context.Context, msg *Message) error

// Driver defines the interface for queue backends
type Driver interface {
	// Pop retrieves a message from the queue. It returns ErrEmpty when nothing is visible.
	Pop(ctx context.Context, queueName string) (*Message, error)
	// Push adds a message body to the queue
	Push(ctx context.Context, queueName string, body []byte) error
	// Ack removes a successfully processed message
	Ack(ctx context.Context, msg *Message) error
	// Release makes a failed message visible again for another attempt
	Release(ctx context.Context, msg *Message) error
}

// Counter is implemented by drivers able to report an approximate queue depth
type Counter interface {
	Len(ctx context.Context, queueName string) (int, error)
}

// Extender is implemented by drivers whose popped messages become visible again after a timeout.
// Extend hides msg for another visibility period and may update its Receipt.
type Extender interface {
	Extend(ctx context.Context, msg *Message, visibility time.Duration) error
}

// ConcurrencyLimiter is implemented by drivers that cannot serve a queue from many listeners at once
type ConcurrencyLimiter interface {
	MaxConcurrency() int
}
