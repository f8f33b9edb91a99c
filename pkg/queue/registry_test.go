package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, msg *Message) error { return nil }

	r.Register("Zeta", "z", noop)
	r.Register("EmailFunction", "emails", noop)

	trigger, err := r.GetTrigger("EmailFunction")
	require.NoError(t, err)
	assert.Equal(t, "emails", trigger.Queue)

	_, err = r.GetTrigger("Missing")
	assert.ErrorIs(t, err, ErrTriggerNotFound)

	triggers := r.Triggers()
	require.Len(t, triggers, 2)
	assert.Equal(t, "EmailFunction", triggers[0].Function)
	assert.Equal(t, "Zeta", triggers[1].Function)

	r.Register("Zeta", "other", noop)
	trigger, err = r.GetTrigger("Zeta")
	require.NoError(t, err)
	assert.Equal(t, "other", trigger.Queue)
}

func TestEncoding(t *testing.T) {
	enc, err := ParseEncoding("base64")
	require.NoError(t, err)

	body := enc.Encode([]byte(`{"To":"a@example.com"}`))
	assert.Equal(t, "eyJUbyI6ImFAZXhhbXBsZS5jb20ifQ==", string(body))

	data, err := enc.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, `{"To":"a@example.com"}`, string(data))

	_, err = enc.Decode([]byte("{not base64"))
	assert.Error(t, err)

	none, err := ParseEncoding("none")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), none.Encode([]byte("x")))

	_, err = ParseEncoding("xml")
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	var got email
	h := Bind(func(ctx context.Context, e email) error {
		got = e
		return nil
	})

	err := h(context.Background(), &Message{Data: []byte(`{"to":"a@example.com","body":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, email{To: "a@example.com", Body: "hi"}, got)

	err = h(context.Background(), &Message{ID: "7", Data: []byte("nope")})
	assert.ErrorContains(t, err, "binding message 7")
}
