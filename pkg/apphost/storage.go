package apphost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/emulator"
	storage "github.com/mostefaiamine-25/aspire-functions/pkg/emulator"
)

// StorageResource runs the storage emulator inside the application host
type StorageResource struct {
	name    string
	server  *storage.Server
	builder *Builder

	mu       sync.RWMutex
	endpoint *Endpoint
}

// NewStorageResource creates an emulator resource with an empty store
func NewStorageResource(name string, logger zerolog.Logger) *StorageResource {
	return &StorageResource{
		name:   name,
		server: storage.NewServer(storage.NewStore(), logger.With().Str("resource", name).Logger()),
	}
}

func (s *StorageResource) Name() string {
	return s.name
}

func (s *StorageResource) bindEndpoint(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = &ep
}

// URL returns the base URL of the emulator queue endpoint
func (s *StorageResource) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.URL()
}

// Store returns the emulator store
func (s *StorageResource) Store() *storage.Store {
	return s.server.Store()
}

// Environment points referencing projects at the emulator
func (s *StorageResource) Environment() map[string]string {
	return map[string]string{
		"QUEUE_DRIVER":       "emulator",
		"QUEUE_EMULATOR_URL": s.URL(),
	}
}

// Run serves the emulator API until ctx is cancelled
func (s *StorageResource) Run(ctx context.Context, rc RunContext) error {
	if rc.Endpoint == nil {
		return errors.New("storage emulator requires an http endpoint")
	}
	return s.server.ListenAndServe(ctx, rc.Endpoint.Address())
}

// CheckHealth pings the emulator
func (s *StorageResource) CheckHealth(ctx context.Context) error {
	return s.driver().Health(ctx)
}

func (s *StorageResource) driver() *emulator.EmulatorDriver {
	return emulator.NewEmulatorDriver(s.URL(), &http.Client{Timeout: 2 * time.Second}, 0)
}

// AddQueue declares a queue on the emulator. The queue resource waits for the emulator.
func (s *StorageResource) AddQueue(name, queueName string, opts ...Option) *QueueResource {
	q := &QueueResource{name: name, queueName: queueName, storage: s}
	if s.builder != nil {
		s.builder.Add(q, append([]Option{WaitFor(s)}, opts...)...)
	}
	return q
}

// QueueResource is a queue provisioned on a StorageResource
type QueueResource struct {
	name      string
	queueName string
	storage   *StorageResource
}

func (q *QueueResource) Name() string {
	return q.name
}

// Environment carries the emulator connection and the queue name
func (q *QueueResource) Environment() map[string]string {
	env := q.storage.Environment()
	env["QUEUE_NAME"] = q.queueName
	return env
}

// Run creates the queue and stays up until ctx is cancelled
func (q *QueueResource) Run(ctx context.Context, rc RunContext) error {
	if err := q.storage.driver().EnsureQueue(ctx, q.queueName); err != nil {
		return fmt.Errorf("creating queue %s: %w", q.queueName, err)
	}
	rc.Logger.Info().Str("queue", q.queueName).Msg("Queue created")

	<-ctx.Done()
	return nil
}

// CheckHealth reports healthy once the queue exists
func (q *QueueResource) CheckHealth(ctx context.Context) error {
	ok, err := q.storage.driver().HasQueue(ctx, q.queueName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("queue %s does not exist yet", q.queueName)
	}
	return nil
}
