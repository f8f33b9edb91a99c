package console

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/contracts"
	"github.com/mostefaiamine-25/aspire-functions/pkg/driver/memory"
	"github.com/mostefaiamine-25/aspire-functions/pkg/emulator"
	"github.com/mostefaiamine-25/aspire-functions/pkg/functions"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

func TestCommandsRegistered(t *testing.T) {
	for _, use := range []string{"functions:start", "host", "apphost:run", "emulator:start", "client:serve", "queue:send"} {
		cmd, _, err := root.GetRoot().Find([]string{use})
		require.NoError(t, err, use)
		assert.NotEqual(t, root.GetRoot(), cmd, use)
	}
}

func TestSend(t *testing.T) {
	driver := memory.NewMemoryDriver(nil, time.Minute)
	publisher := queue.NewPublisher(driver, queue.EncodingBase64)

	msg := contracts.EmailMessage{To: "a@example.com", Body: "hi"}
	require.NoError(t, send(context.Background(), publisher, "emails", msg, 3))

	n, err := driver.Len(context.Background(), "emails")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBuildApp(t *testing.T) {
	defer func() { minimal = false }()

	cfg := &config.Config{}
	cfg.Queue.Name = "orders"

	app, err := buildApp(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"client", "functions", "queues", "storage"}, app.Names())

	var out bytes.Buffer
	printDescription(&out, app)
	assert.Contains(t, out.String(), "QUEUE_NAME="+functions.EmailQueue)
	assert.NotContains(t, out.String(), "orders")

	minimal = true
	app, err = buildApp(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"functions"}, app.Names())
}

func TestRunHost_ProcessesEmulatorQueue(t *testing.T) {
	store := emulator.NewStore()
	require.NoError(t, store.CreateQueue("emails"))
	_, err := store.Put("emails", string(queue.EncodingBase64.Encode([]byte(`{"To":"a@example.com","Body":"hi"}`))), 0)
	require.NoError(t, err)

	srv := httptest.NewServer(emulator.NewServer(store, zerolog.Nop()).Handler())
	defer srv.Close()

	received := make(chan contracts.EmailMessage, 1)
	SetFunctions(func(registry *queue.Registry, logger zerolog.Logger) {
		registry.Register("Recorder", "emails", queue.Bind(func(ctx context.Context, m contracts.EmailMessage) error {
			received <- m
			return nil
		}))
	})
	defer SetFunctions()

	cfg := &config.Config{}
	cfg.Queue.Driver = "emulator"
	cfg.Queue.Encoding = "base64"
	cfg.Emulator.URL = srv.URL
	cfg.Host.Concurrency = 1
	cfg.Host.MaxPollingInterval = 100 * time.Millisecond
	cfg.Host.DepthSchedule = "@every 1s"
	cfg.HTTP.Host = "127.0.0.1"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHost(ctx, cfg) }()

	select {
	case m := <-received:
		assert.Equal(t, "a@example.com", m.To)
	case <-time.After(5 * time.Second):
		t.Fatal("function was not invoked")
	}

	assert.Eventually(t, func() bool {
		n, _ := store.Len("emails")
		return n == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop")
	}
}
