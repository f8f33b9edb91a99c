package memory

import (
	"context"
	"time"

	"github.com/mostefaiamine-25/aspire-functions/pkg/emulator"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// MemoryDriver implements queue.Driver on an in-process emulator store.
// Queues are created on first use.
type MemoryDriver struct {
	store      *emulator.Store
	visibility time.Duration
}

// NewMemoryDriver creates a driver over store
func NewMemoryDriver(store *emulator.Store, visibility time.Duration) *MemoryDriver {
	if store == nil {
		store = emulator.NewStore()
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryDriver{store: store, visibility: visibility}
}

// Store returns the backing store
func (d *MemoryDriver) Store() *emulator.Store {
	return d.store
}

// Pop dequeues the oldest visible message
func (d *MemoryDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.store.CreateQueue(queueName); err != nil {
		return nil, err
	}

	m, err := d.store.Get(queueName, d.visibility)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, queue.ErrEmpty
	}

	return &queue.Message{
		ID:           m.ID,
		Receipt:      m.PopReceipt,
		Queue:        queueName,
		Body:         []byte(m.Text),
		DequeueCount: m.DequeueCount,
		InsertedAt:   m.InsertedAt,
	}, nil
}

// Push adds a message to the queue
func (d *MemoryDriver) Push(ctx context.Context, queueName string, body []byte) error {
	if err := d.store.CreateQueue(queueName); err != nil {
		return err
	}
	_, err := d.store.Put(queueName, string(body), 0)
	return err
}

// Ack deletes the message
func (d *MemoryDriver) Ack(ctx context.Context, msg *queue.Message) error {
	return d.store.Delete(msg.Queue, msg.ID, msg.Receipt)
}

// Release makes the message visible again immediately
func (d *MemoryDriver) Release(ctx context.Context, msg *queue.Message) error {
	m, err := d.store.Update(msg.Queue, msg.ID, msg.Receipt, 0)
	if err != nil {
		return err
	}
	msg.Receipt = m.PopReceipt
	return nil
}

// Extend hides the message for another visibility period
func (d *MemoryDriver) Extend(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	m, err := d.store.Update(msg.Queue, msg.ID, msg.Receipt, visibility)
	if err != nil {
		return err
	}
	msg.Receipt = m.PopReceipt
	return nil
}

// Len returns the number of messages held for the queue
func (d *MemoryDriver) Len(ctx context.Context, queueName string) (int, error) {
	if !d.store.HasQueue(queueName) {
		return 0, nil
	}
	return d.store.Len(queueName)
}
