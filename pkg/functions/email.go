package functions

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mostefaiamine-25/aspire-functions/pkg/contracts"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

const (
	// EmailFunctionName is the name the function is registered under
	EmailFunctionName = "EmailFunction"
	// EmailQueue is the queue that triggers EmailFunction
	EmailQueue = "emails"
)

// EmailFunction records every email request delivered on the emails queue.
// No email is actually sent.
type EmailFunction struct {
	logger zerolog.Logger
}

// NewEmailFunction creates the function with its logger
func NewEmailFunction(logger zerolog.Logger) *EmailFunction {
	return &EmailFunction{logger: logger}
}

// Run handles one delivered message
func (f *EmailFunction) Run(ctx context.Context, msg contracts.EmailMessage) error {
	f.logger.Info().
		Str("to", msg.To).
		Str("body", msg.Body).
		Msgf("Sending an email to %s with body %s", msg.To, msg.Body)
	return nil
}

// Register binds fn to the emails queue trigger
func Register(registry *queue.Registry, fn *EmailFunction) {
	registry.Register(EmailFunctionName, EmailQueue, queue.Bind(fn.Run))
}
