package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernel_RunsTask(t *testing.T) {
	k := NewKernel(zerolog.Nop())

	var runs atomic.Int32
	require.NoError(t, k.Register("count", "@every 1s", func(ctx context.Context) {
		runs.Add(1)
	}, WithoutOverlapping(), WithTimeout(time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("kernel did not stop")
	}
}

func TestKernel_InvalidSchedule(t *testing.T) {
	k := NewKernel(zerolog.Nop())

	err := k.Register("broken", "every now and then", func(ctx context.Context) {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
