package emulator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrReceiptMismatch = errors.New("pop receipt does not match")
	ErrInvalidName     = errors.New("invalid queue name")
)

// Message is a queue message as held by the emulator
type Message struct {
	ID           string    `json:"id"`
	PopReceipt   string    `json:"popReceipt,omitempty"`
	Text         string    `json:"messageText"`
	DequeueCount int       `json:"dequeueCount"`
	InsertedAt   time.Time `json:"insertionTime"`
	VisibleAt    time.Time `json:"timeNextVisible"`
}

type queueState struct {
	messages []*Message
}

// Store keeps queues and their messages in memory
type Store struct {
	mu     sync.Mutex
	queues map[string]*queueState
	now    func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		queues: make(map[string]*queueState),
		now:    time.Now,
	}
}

// CreateQueue creates a queue; creating an existing queue is a no-op
func (s *Store) CreateQueue(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		s.queues[name] = &queueState{}
	}
	return nil
}

// DeleteQueue removes a queue and all its messages
func (s *Store) DeleteQueue(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		return ErrQueueNotFound
	}
	delete(s.queues, name)
	return nil
}

// HasQueue reports whether the queue exists
func (s *Store) HasQueue(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[name]
	return ok
}

// Queues lists queue names in lexical order
func (s *Store) Queues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put appends a message that becomes visible after delay
func (s *Store) Put(queueName, text string, delay time.Duration) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueName]
	if !ok {
		return nil, ErrQueueNotFound
	}
	now := s.now()
	m := &Message{
		ID:         uuid.NewString(),
		Text:       text,
		InsertedAt: now,
		VisibleAt:  now.Add(delay),
	}
	q.messages = append(q.messages, m)
	cp := *m
	return &cp, nil
}

// Get dequeues the oldest visible message and hides it for visibility.
// It returns nil without error when nothing is visible.
func (s *Store) Get(queueName string, visibility time.Duration) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueName]
	if !ok {
		return nil, ErrQueueNotFound
	}
	now := s.now()
	for _, m := range q.messages {
		if m.VisibleAt.After(now) {
			continue
		}
		m.DequeueCount++
		m.PopReceipt = uuid.NewString()
		m.VisibleAt = now.Add(visibility)
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

// Peek returns up to n visible messages without changing them
func (s *Store) Peek(queueName string, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueName]
	if !ok {
		return nil, ErrQueueNotFound
	}
	now := s.now()
	out := make([]Message, 0, n)
	for _, m := range q.messages {
		if len(out) == n {
			break
		}
		if m.VisibleAt.After(now) {
			continue
		}
		cp := *m
		cp.PopReceipt = ""
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes a message previously returned by Get
func (s *Store) Delete(queueName, id, popReceipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, idx, err := s.find(queueName, id, popReceipt)
	if err != nil {
		return err
	}
	q.messages = append(q.messages[:idx], q.messages[idx+1:]...)
	return nil
}

// Update changes the visibility of a dequeued message and returns its new pop receipt
func (s *Store) Update(queueName, id, popReceipt string, visibility time.Duration) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, idx, err := s.find(queueName, id, popReceipt)
	if err != nil {
		return nil, err
	}
	m := q.messages[idx]
	m.PopReceipt = uuid.NewString()
	m.VisibleAt = s.now().Add(visibility)
	cp := *m
	return &cp, nil
}

// Len returns the number of messages in the queue, visible or not
func (s *Store) Len(queueName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueName]
	if !ok {
		return 0, ErrQueueNotFound
	}
	return len(q.messages), nil
}

// Clear removes every message from the queue
func (s *Store) Clear(queueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueName]
	if !ok {
		return ErrQueueNotFound
	}
	q.messages = nil
	return nil
}

// find must be called with s.mu held
func (s *Store) find(queueName, id, popReceipt string) (*queueState, int, error) {
	q, ok := s.queues[queueName]
	if !ok {
		return nil, 0, ErrQueueNotFound
	}
	for i, m := range q.messages {
		if m.ID != id {
			continue
		}
		if m.PopReceipt != popReceipt {
			return nil, 0, ErrReceiptMismatch
		}
		return q, i, nil
	}
	return nil, 0, ErrMessageNotFound
}
