package apphost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrDependencyStopped is returned when a resource waits for one that stopped before becoming healthy
var ErrDependencyStopped = errors.New("dependency stopped before becoming healthy")

// App is a validated application ready to run
type App struct {
	logger         zerolog.Logger
	entries        []*entry
	byName         map[string]*entry
	healthInterval time.Duration

	mu      sync.Mutex
	states  map[string]State
	ready   map[string]chan struct{}
	stopped map[string]chan struct{}
}

// Description summarises a declared resource
type Description struct {
	Name       string
	WaitFor    []string
	References []string
	Endpoint   *Endpoint
	Env        map[string]string // injected from references and WithEnv
}

// Describe lists the resources in declaration order
func (a *App) Describe() []Description {
	out := make([]Description, 0, len(a.entries))
	for _, e := range a.entries {
		d := Description{Name: e.resource.Name(), Endpoint: e.endpoint, Env: a.environment(e)}
		for _, dep := range e.ann.waitFor {
			d.WaitFor = append(d.WaitFor, dep.Name())
		}
		for _, dep := range e.ann.references {
			d.References = append(d.References, dep.Name())
		}
		out = append(out, d)
	}
	return out
}

// State returns the current state of the named resource
func (a *App) State(name string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[name]
}

// Run starts every resource once its dependencies are healthy and blocks until ctx is
// cancelled or a resource fails. The first failure stops the whole application.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.states = make(map[string]State, len(a.entries))
	a.ready = make(map[string]chan struct{}, len(a.entries))
	a.stopped = make(map[string]chan struct{}, len(a.entries))
	for _, e := range a.entries {
		name := e.resource.Name()
		a.states[name] = StateWaiting
		a.ready[name] = make(chan struct{})
		a.stopped[name] = make(chan struct{})
	}
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range a.entries {
		e := e
		g.Go(func() error {
			return a.runResource(ctx, e)
		})
	}
	return g.Wait()
}

func (a *App) runResource(ctx context.Context, e *entry) error {
	name := e.resource.Name()
	logger := a.logger.With().Str("resource", name).Logger()
	defer close(a.stopped[name])

	for _, dep := range e.ann.waitFor {
		logger.Info().Str("dependency", dep.Name()).Msg("Waiting for resource to be healthy")
		if err := a.waitReady(ctx, dep.Name()); err != nil {
			if ctx.Err() != nil {
				a.setState(name, StateFinished)
				return nil
			}
			a.setState(name, StateFailed)
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	a.setState(name, StateStarting)
	logger.Info().Msg("Starting resource")

	rc := RunContext{
		Env:      a.environment(e),
		Endpoint: e.endpoint,
		Logger:   logger,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.resource.Run(runCtx, rc)
	}()

	healthy, err := a.awaitHealthy(runCtx, e.resource, done)
	if healthy {
		a.setState(name, StateRunning)
		close(a.ready[name])
		logger.Info().Msg("Resource is healthy")
		err = <-done
	}

	if err != nil && ctx.Err() == nil {
		a.setState(name, StateFailed)
		logger.Error().Err(err).Msg("Resource failed")
		return fmt.Errorf("resource %s: %w", name, err)
	}
	a.setState(name, StateFinished)
	logger.Info().Msg("Resource stopped")
	return nil
}

func (a *App) waitReady(ctx context.Context, dep string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ready[dep]:
		return nil
	case <-a.stopped[dep]:
		select {
		case <-a.ready[dep]:
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrDependencyStopped, dep)
		}
	}
}

// awaitHealthy polls the resource until it is healthy. When the resource exits first,
// or ctx is cancelled, it returns false with the result of Run.
func (a *App) awaitHealthy(ctx context.Context, r Resource, done <-chan error) (bool, error) {
	ticker := time.NewTicker(a.healthInterval)
	defer ticker.Stop()

	for {
		if err := r.CheckHealth(ctx); err == nil {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, <-done
		case err := <-done:
			return false, err
		case <-ticker.C:
		}
	}
}

func (a *App) environment(e *entry) map[string]string {
	env := make(map[string]string)
	for _, dep := range e.ann.references {
		for k, v := range dep.(EnvironmentProvider).Environment() {
			env[k] = v
		}
	}
	for k, v := range e.ann.env {
		env[k] = v
	}
	return env
}

func (a *App) setState(name string, s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[name] = s
}

// Names returns the resource names in lexical order
func (a *App) Names() []string {
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
