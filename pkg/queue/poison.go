package queue

import (
	"context"
)

// PoisonSuffix is appended to a queue name to build its poison queue
const PoisonSuffix = "-poison"

// PoisonSink receives messages that exhausted their dequeue attempts
type PoisonSink interface {
	// Poison records a message that could not be processed
	Poison(ctx context.Context, queueName string, msg *Message, cause error) error
}

// PoisonQueueName returns the poison queue that belongs to queueName
func PoisonQueueName(queueName string) string {
	return queueName + PoisonSuffix
}

// PoisonQueue moves poison messages onto a sibling queue of the same driver
type PoisonQueue struct {
	driver Driver
}

// NewPoisonQueue creates a PoisonSink pushing to "<queue>-poison"
func NewPoisonQueue(driver Driver) *PoisonQueue {
	return &PoisonQueue{driver: driver}
}

// Poison pushes the original message text to the poison queue
func (p *PoisonQueue) Poison(ctx context.Context, queueName string, msg *Message, cause error) error {
	return p.driver.Push(ctx, PoisonQueueName(queueName), msg.Body)
}
