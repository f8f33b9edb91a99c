package apphost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/emulator"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeResource struct {
	name       string
	rec        *recorder
	readyAfter time.Duration
	runErr     error
	exitEarly  bool
	neverReady bool
	env        chan map[string]string

	healthy atomic.Bool
}

func (f *fakeResource) Name() string { return f.name }

func (f *fakeResource) Run(ctx context.Context, rc RunContext) error {
	if f.rec != nil {
		f.rec.add("start " + f.name)
	}
	if f.env != nil {
		f.env <- rc.Env
	}
	if f.runErr != nil {
		return f.runErr
	}
	if f.exitEarly {
		return nil
	}
	go func() {
		time.Sleep(f.readyAfter)
		if f.rec != nil {
			f.rec.add("ready " + f.name)
		}
		f.healthy.Store(true)
	}()
	<-ctx.Done()
	return nil
}

func (f *fakeResource) CheckHealth(ctx context.Context) error {
	if f.neverReady || !f.healthy.Load() {
		return errors.New("not ready")
	}
	return nil
}

func (f *fakeResource) Environment() map[string]string {
	return map[string]string{"FAKE_" + f.name: "1"}
}

func build(t *testing.T, b *Builder) *App {
	t.Helper()
	app, err := b.Build()
	require.NoError(t, err)
	app.healthInterval = 10 * time.Millisecond
	return app
}

func TestBuilder_Build_Validation(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		b := NewBuilder(zerolog.Nop())
		b.Add(&fakeResource{})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("duplicate", func(t *testing.T) {
		b := NewBuilder(zerolog.Nop())
		b.Add(&fakeResource{name: "a"})
		b.Add(&fakeResource{name: "a"})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrDuplicateResource)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		b := NewBuilder(zerolog.Nop())
		b.Add(&fakeResource{name: "a"}, WaitFor(&fakeResource{name: "ghost"}))
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrUnknownResource)
	})

	t.Run("cycle", func(t *testing.T) {
		a := &fakeResource{name: "a"}
		c := &fakeResource{name: "c"}
		b := NewBuilder(zerolog.Nop())
		b.Add(a, WaitFor(c))
		b.Add(c, WaitFor(a))
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("endpoints", func(t *testing.T) {
		b := NewBuilder(zerolog.Nop())
		b.Add(&fakeResource{name: "internal"}, WithHTTPEndpoint(0))
		b.Add(&fakeResource{name: "public"}, WithHTTPEndpoint(7071), WithExternalHTTPEndpoints())
		app, err := b.Build()
		require.NoError(t, err)

		desc := app.Describe()
		require.Len(t, desc, 2)
		assert.Equal(t, "127.0.0.1", desc[0].Endpoint.Host)
		assert.NotZero(t, desc[0].Endpoint.Port)
		assert.Equal(t, Endpoint{Host: "0.0.0.0", Port: 7071, External: true}, *desc[1].Endpoint)
		assert.Equal(t, "http://127.0.0.1:7071", desc[1].Endpoint.URL())
	})
}

func TestApp_Run_WaitsForDependency(t *testing.T) {
	rec := &recorder{}
	queue := &fakeResource{name: "queue", rec: rec, readyAfter: 100 * time.Millisecond}
	functions := &fakeResource{name: "functions", rec: rec}

	b := NewBuilder(zerolog.Nop())
	b.Add(functions, WaitFor(queue))
	b.Add(queue)
	app := build(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	assert.Eventually(t, func() bool { return app.State("functions") == StateRunning }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"start queue", "ready queue", "start functions", "ready functions"}, rec.list())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateFinished, app.State("queue"))
	assert.Equal(t, StateFinished, app.State("functions"))
}

func TestApp_Run_FailureStopsApplication(t *testing.T) {
	broken := &fakeResource{name: "broken", runErr: errors.New("port in use")}
	other := &fakeResource{name: "other"}

	b := NewBuilder(zerolog.Nop())
	b.Add(broken)
	b.Add(other)
	app := build(t, b)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource broken")
	assert.Equal(t, StateFailed, app.State("broken"))
	assert.Equal(t, StateFinished, app.State("other"))
}

func TestApp_Run_DependencyStopped(t *testing.T) {
	oneShot := &fakeResource{name: "migrations", exitEarly: true, neverReady: true}
	b := NewBuilder(zerolog.Nop())
	b.Add(oneShot)
	b.Add(&fakeResource{name: "functions"}, WaitFor(oneShot))

	err := build(t, b).Run(context.Background())
	assert.ErrorIs(t, err, ErrDependencyStopped)
}

func TestApp_Run_StorageQueueReference(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	storage := b.AddStorageEmulator("storage")
	queue := storage.AddQueue("queues", "emails")

	consumer := &fakeResource{name: "functions", env: make(chan map[string]string, 1)}
	b.Add(consumer, WaitFor(queue), WithReference(queue), WithEnv("LOG_LEVEL", "debug"))
	app := build(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	var env map[string]string
	select {
	case env = <-consumer.env:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not started")
	}

	assert.Equal(t, "emulator", env["QUEUE_DRIVER"])
	assert.Equal(t, "emails", env["QUEUE_NAME"])
	assert.Equal(t, storage.URL(), env["QUEUE_EMULATOR_URL"])
	assert.Equal(t, "debug", env["LOG_LEVEL"])

	d := emulator.NewEmulatorDriver(env["QUEUE_EMULATOR_URL"], nil, 0)
	exists, err := d.HasQueue(context.Background(), "emails")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, storage.Store().HasQueue("emails"))

	cancel()
	require.NoError(t, <-done)
}

func TestCompositions(t *testing.T) {
	topo := Topology{Executable: "/bin/true", QueueName: "emails"}

	b := NewBuilder(zerolog.Nop())
	Full(b, topo)
	app, err := b.Build()
	require.NoError(t, err)

	desc := app.Describe()
	require.Len(t, desc, 4)
	byName := make(map[string]Description)
	for _, d := range desc {
		byName[d.Name] = d
	}
	assert.Equal(t, []string{"storage"}, byName["queues"].WaitFor)
	for _, name := range []string{"functions", "client"} {
		assert.Equal(t, []string{"queues"}, byName[name].WaitFor)
		assert.Equal(t, []string{"queues"}, byName[name].References)
		require.NotNil(t, byName[name].Endpoint)
		assert.True(t, byName[name].Endpoint.External)
		assert.Equal(t, "emails", byName[name].Env["QUEUE_NAME"])
		assert.Equal(t, "emulator", byName[name].Env["QUEUE_DRIVER"])
	}
	assert.False(t, byName["storage"].Endpoint.External)

	b = NewBuilder(zerolog.Nop())
	Minimal(b, topo)
	app, err = b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"functions"}, app.Names())
	assert.Empty(t, app.Describe()[0].WaitFor)
	assert.True(t, app.Describe()[0].Endpoint.External)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("APPHOST_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Println("hello from " + os.Getenv("GREETING"))
	fmt.Fprintln(os.Stderr, "listening on "+os.Getenv("HTTP_HOST")+":"+os.Getenv("HTTP_PORT"))
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	os.Exit(code)
}

func TestProjectResource_Run(t *testing.T) {
	var out syncBuffer
	logger := zerolog.New(&out).With().Str("resource", "helper").Logger()

	p := NewProjectResource("helper", os.Args[0], "-test.run=^TestHelperProcess$")
	p.bindEndpoint(Endpoint{Host: "127.0.0.1", Port: 7071})

	err := p.Run(context.Background(), RunContext{
		Env:    map[string]string{"APPHOST_HELPER_PROCESS": "1", "GREETING": "apphost"},
		Logger: logger,
	})
	require.NoError(t, err)

	logs := out.String()
	assert.Contains(t, logs, "hello from apphost")
	assert.Contains(t, logs, "listening on 127.0.0.1:7071")
	assert.Contains(t, logs, `"resource":"helper"`)
	assert.Equal(t, map[string]string{"services__helper__http__0": "http://127.0.0.1:7071"}, p.Environment())
}

func TestProjectResource_RunFailure(t *testing.T) {
	p := NewProjectResource("helper", os.Args[0], "-test.run=^TestHelperProcess$")

	err := p.Run(context.Background(), RunContext{
		Env:    map[string]string{"APPHOST_HELPER_PROCESS": "1", "HELPER_EXIT_CODE": "3"},
		Logger: zerolog.Nop(),
	})
	assert.Error(t, err)
}

func TestPipe_DrainsAfterLongLine(t *testing.T) {
	var out syncBuffer
	r, w := io.Pipe()

	written := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("first\n" + strings.Repeat("x", 2*1024*1024) + "\nlast\n"))
		w.Close()
		written <- err
	}()

	piped := make(chan struct{})
	go func() {
		pipe(r, zerolog.New(&out), zerolog.InfoLevel)
		close(piped)
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("writer blocked on the pipe")
	}
	<-piped

	assert.Contains(t, out.String(), "first")
	assert.Contains(t, out.String(), "Process output no longer forwarded")
}

func TestProjectResource_CheckHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewProjectResource("functions", "unused")
	assert.NoError(t, p.CheckHealth(context.Background()), "projects without endpoint are healthy once started")

	p.bindEndpoint(Endpoint{Host: "127.0.0.1", Port: srv.Listener.Addr().(*net.TCPAddr).Port})
	assert.Error(t, p.CheckHealth(context.Background()))

	status.Store(http.StatusOK)
	assert.NoError(t, p.CheckHealth(context.Background()))
}
