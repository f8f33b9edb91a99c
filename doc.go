// Package aspirefunctions hosts queue triggered functions and the local application
// host that runs them next to a storage emulator and a client API.
//
// An EmailMessage published on the "emails" queue is delivered to EmailFunction,
// which logs the recipient and the body. Messages failing more than the maximum
// dequeue count are moved to the "emails-poison" queue.
//
// Key subpackages:
//
//	github.com/mostefaiamine-25/aspire-functions/pkg/functions   - Queue triggered functions
//	github.com/mostefaiamine-25/aspire-functions/pkg/queue       - Driver interface, trigger registry, binding, encoding
//	github.com/mostefaiamine-25/aspire-functions/pkg/worker      - Functions host listeners, retries and poison handling
//	github.com/mostefaiamine-25/aspire-functions/pkg/driver      - Queue drivers (memory, emulator, redis, sqs, database, kafka, amqp)
//	github.com/mostefaiamine-25/aspire-functions/pkg/apphost     - Resource composition (WaitFor, WithReference, endpoints)
//	github.com/mostefaiamine-25/aspire-functions/pkg/emulator    - In-memory queue service with an HTTP API
//	github.com/mostefaiamine-25/aspire-functions/pkg/config      - Configuration structs
//
// Example Usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/rs/zerolog/log"
//
//		"github.com/mostefaiamine-25/aspire-functions/pkg/driver/memory"
//		"github.com/mostefaiamine-25/aspire-functions/pkg/functions"
//		"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
//		"github.com/mostefaiamine-25/aspire-functions/pkg/worker"
//	)
//
//	func main() {
//		registry := queue.NewRegistry()
//		functions.Register(registry, functions.NewEmailFunction(log.Logger))
//
//		driver := memory.NewMemoryDriver(nil, 0)
//		w := worker.NewWorker(driver, nil, registry, worker.Options{Encoding: queue.EncodingBase64}, nil)
//		w.Run(context.Background())
//	}
package aspirefunctions
