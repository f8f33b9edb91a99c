package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Bind adapts a typed function into a Handler.
// The decoded message content is unmarshalled from JSON into T before fn is called.
func Bind[T any](fn func(ctx context.Context, v T) error) Handler {
	return func(ctx context.Context, msg *Message) error {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return fmt.Errorf("binding message %s: %w", msg.ID, err)
		}
		return fn(ctx, v)
	}
}
