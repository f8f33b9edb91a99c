package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrTriggerNotFound is returned when no function is registered under a name
var ErrTriggerNotFound = errors.New("trigger not found")

// Trigger binds a named function to the queue it listens on
type Trigger struct {
	Function string
	Queue    string
	Handler  Handler
}

// Registry stores the mapping between function names and their queue triggers
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]Trigger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{triggers: make(map[string]Trigger)}
}

// Register adds a queue triggered function, replacing any previous one with the same name
func (r *Registry) Register(function, queueName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[function] = Trigger{Function: function, Queue: queueName, Handler: handler}
}

// GetTrigger retrieves a trigger by function name
func (r *Registry) GetTrigger(function string) (Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.triggers[function]; ok {
		return t, nil
	}
	return Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, function)
}

// Triggers returns every registered trigger ordered by function name
func (r *Registry) Triggers() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function < out[j].Function })
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry used by the CLI commands
func Default() *Registry {
	return defaultRegistry
}
