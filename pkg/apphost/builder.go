package apphost

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidName       = errors.New("resource name must not be empty")
	ErrDuplicateResource = errors.New("duplicate resource")
	ErrUnknownResource   = errors.New("resource is not part of the application")
	ErrCycle             = errors.New("resource dependency cycle")
)

type entry struct {
	resource Resource
	ann      annotations
	endpoint *Endpoint
}

// Builder declares the resources of a distributed application
type Builder struct {
	logger  zerolog.Logger
	entries []*entry
}

// NewBuilder creates an empty application builder
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Add registers a resource with its options and returns it
func (b *Builder) Add(r Resource, opts ...Option) Resource {
	e := &entry{resource: r}
	for _, opt := range opts {
		opt(&e.ann)
	}
	b.entries = append(b.entries, e)
	return r
}

// AddProject registers a child process running the given command line
func (b *Builder) AddProject(name, executable string, args []string, opts ...Option) *ProjectResource {
	p := NewProjectResource(name, executable, args...)
	b.Add(p, opts...)
	return p
}

// AddStorageEmulator registers an in-process storage emulator
func (b *Builder) AddStorageEmulator(name string, opts ...Option) *StorageResource {
	s := NewStorageResource(name, b.logger)
	s.builder = b
	b.Add(s, append([]Option{WithHTTPEndpoint(0)}, opts...)...)
	return s
}

// Build validates the declarations and allocates endpoints
func (b *Builder) Build() (*App, error) {
	byName := make(map[string]*entry, len(b.entries))
	for _, e := range b.entries {
		name := e.resource.Name()
		if name == "" {
			return nil, ErrInvalidName
		}
		if _, ok := byName[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, name)
		}
		byName[name] = e
	}

	for _, e := range b.entries {
		for _, dep := range append(append([]Resource{}, e.ann.waitFor...), e.ann.references...) {
			known, ok := byName[dep.Name()]
			if !ok || known.resource != dep {
				return nil, fmt.Errorf("%w: %s referenced by %s", ErrUnknownResource, dep.Name(), e.resource.Name())
			}
		}
		for _, dep := range e.ann.references {
			if _, ok := dep.(EnvironmentProvider); !ok {
				return nil, fmt.Errorf("resource %s cannot be referenced by %s", dep.Name(), e.resource.Name())
			}
		}
	}

	if err := checkCycles(b.entries); err != nil {
		return nil, err
	}

	for _, e := range b.entries {
		if !e.ann.http {
			continue
		}
		ep, err := allocate(e.ann)
		if err != nil {
			return nil, fmt.Errorf("allocating endpoint for %s: %w", e.resource.Name(), err)
		}
		e.endpoint = &ep
		if binder, ok := e.resource.(endpointBinder); ok {
			binder.bindEndpoint(ep)
		}
	}

	return &App{
		logger:         b.logger,
		entries:        b.entries,
		byName:         byName,
		healthInterval: 250 * time.Millisecond,
	}, nil
}

func allocate(ann annotations) (Endpoint, error) {
	host := "127.0.0.1"
	if ann.external {
		host = "0.0.0.0"
	}
	port := ann.port
	if port == 0 {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return Endpoint{}, err
		}
		port = l.Addr().(*net.TCPAddr).Port
		l.Close()
	}
	return Endpoint{Host: host, Port: port, External: ann.external}, nil
}

func checkCycles(entries []*entry) error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(entries))
	edges := make(map[string][]string, len(entries))
	for _, e := range entries {
		for _, dep := range e.ann.waitFor {
			edges[e.resource.Name()] = append(edges[e.resource.Name()], dep.Name())
		}
	}

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("%w through %s", ErrCycle, name)
		case done:
			return nil
		}
		marks[name] = visiting
		for _, next := range edges[name] {
			if err := visit(next); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}

	for _, e := range entries {
		if err := visit(e.resource.Name()); err != nil {
			return err
		}
	}
	return nil
}
