package apphost

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a resource
type State string

const (
	StateWaiting  State = "Waiting"
	StateStarting State = "Starting"
	StateRunning  State = "Running"
	StateFinished State = "Finished"
	StateFailed   State = "Failed"
)

// Resource is a unit the application host starts and supervises
type Resource interface {
	Name() string
	// Run blocks until the resource stops or ctx is cancelled
	Run(ctx context.Context, rc RunContext) error
	// CheckHealth returns nil once the resource is ready to be used by its dependents
	CheckHealth(ctx context.Context) error
}

// EnvironmentProvider is implemented by resources that can be referenced
type EnvironmentProvider interface {
	Environment() map[string]string
}

// endpointBinder is implemented by resources serving HTTP
type endpointBinder interface {
	bindEndpoint(Endpoint)
}

// Endpoint is the HTTP endpoint allocated to a resource
type Endpoint struct {
	Host     string
	Port     int
	External bool
}

// Address returns the listen address
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the URL other resources use to reach the endpoint
func (e Endpoint) URL() string {
	host := e.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(e.Port)))
}

// RunContext is what a resource receives when it is started
type RunContext struct {
	Env      map[string]string
	Endpoint *Endpoint
	Logger   zerolog.Logger
}
