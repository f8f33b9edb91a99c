package emulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore()
	s.now = clock.now
	return s, clock
}

func TestStore_QueueLifecycle(t *testing.T) {
	s, _ := newTestStore()

	require.NoError(t, s.CreateQueue("emails"))
	require.NoError(t, s.CreateQueue("emails"))
	require.NoError(t, s.CreateQueue("audit"))
	assert.Equal(t, []string{"audit", "emails"}, s.Queues())
	assert.True(t, s.HasQueue("emails"))

	assert.ErrorIs(t, s.CreateQueue(""), ErrInvalidName)

	require.NoError(t, s.DeleteQueue("audit"))
	assert.ErrorIs(t, s.DeleteQueue("audit"), ErrQueueNotFound)
	assert.False(t, s.HasQueue("audit"))
}

func TestStore_GetHidesMessage(t *testing.T) {
	s, clock := newTestStore()
	require.NoError(t, s.CreateQueue("emails"))

	put, err := s.Put("emails", "first", 0)
	require.NoError(t, err)
	_, err = s.Put("emails", "second", 0)
	require.NoError(t, err)

	m, err := s.Get("emails", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, put.ID, m.ID)
	assert.Equal(t, "first", m.Text)
	assert.Equal(t, 1, m.DequeueCount)
	assert.NotEmpty(t, m.PopReceipt)

	next, err := s.Get("emails", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Text)

	none, err := s.Get("emails", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none)

	clock.advance(31 * time.Second)
	again, err := s.Get("emails", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "first", again.Text)
	assert.Equal(t, 2, again.DequeueCount)
	assert.NotEqual(t, m.PopReceipt, again.PopReceipt)
}

func TestStore_DelayedPut(t *testing.T) {
	s, clock := newTestStore()
	require.NoError(t, s.CreateQueue("emails"))

	_, err := s.Put("emails", "later", 10*time.Second)
	require.NoError(t, err)

	m, err := s.Get("emails", time.Second)
	require.NoError(t, err)
	assert.Nil(t, m)

	clock.advance(10 * time.Second)
	m, err = s.Get("emails", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestStore_DeleteRequiresReceipt(t *testing.T) {
	s, _ := newTestStore()
	require.NoError(t, s.CreateQueue("emails"))
	_, err := s.Put("emails", "x", 0)
	require.NoError(t, err)

	m, err := s.Get("emails", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete("emails", m.ID, "stale"), ErrReceiptMismatch)
	assert.ErrorIs(t, s.Delete("emails", "missing", m.PopReceipt), ErrMessageNotFound)
	assert.ErrorIs(t, s.Delete("nope", m.ID, m.PopReceipt), ErrQueueNotFound)

	require.NoError(t, s.Delete("emails", m.ID, m.PopReceipt))
	n, err := s.Len("emails")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_UpdateReleasesMessage(t *testing.T) {
	s, _ := newTestStore()
	require.NoError(t, s.CreateQueue("emails"))
	_, err := s.Put("emails", "x", 0)
	require.NoError(t, err)

	m, err := s.Get("emails", time.Minute)
	require.NoError(t, err)

	updated, err := s.Update("emails", m.ID, m.PopReceipt, 0)
	require.NoError(t, err)
	assert.NotEqual(t, m.PopReceipt, updated.PopReceipt)

	assert.ErrorIs(t, s.Delete("emails", m.ID, m.PopReceipt), ErrReceiptMismatch)

	again, err := s.Get("emails", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.DequeueCount)
}

func TestStore_PeekAndClear(t *testing.T) {
	s, _ := newTestStore()
	require.NoError(t, s.CreateQueue("emails"))
	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Put("emails", text, 0)
		require.NoError(t, err)
	}

	peeked, err := s.Peek("emails", 2)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, "a", peeked[0].Text)
	assert.Equal(t, 0, peeked[0].DequeueCount)

	require.NoError(t, s.Clear("emails"))
	n, err := s.Len("emails")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.Put("missing", "x", 0)
	assert.ErrorIs(t, err, ErrQueueNotFound)
}
