package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher handles sending messages to a queue
type Publisher struct {
	driver   Driver
	encoding Encoding
}

// NewPublisher creates a new Publisher instance
func NewPublisher(driver Driver, encoding Encoding) *Publisher {
	return &Publisher{driver: driver, encoding: encoding}
}

// Publish serializes v as JSON and pushes it to the named queue
func (p *Publisher) Publish(ctx context.Context, queueName string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return p.PublishRaw(ctx, queueName, data)
}

// PublishRaw pushes already serialized content to the named queue
func (p *Publisher) PublishRaw(ctx context.Context, queueName string, data []byte) error {
	return p.driver.Push(ctx, queueName, p.encoding.Encode(data))
}
