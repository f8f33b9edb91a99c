package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockDriver is a mock implementation of the Driver interface
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Pop(ctx context.Context, queueName string) (*Message, error) {
	args := m.Called(ctx, queueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Message), args.Error(1)
}

func (m *MockDriver) Push(ctx context.Context, queueName string, body []byte) error {
	args := m.Called(ctx, queueName, body)
	return args.Error(0)
}

func (m *MockDriver) Ack(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockDriver) Release(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type email struct {
	To   string
	Body string
}

func TestPublisher_PublishBase64(t *testing.T) {
	mockDriver := new(MockDriver)
	publisher := NewPublisher(mockDriver, EncodingBase64)

	mockDriver.On("Push", mock.Anything, "emails", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		body := args.Get(2).([]byte)

		raw, err := base64.StdEncoding.DecodeString(string(body))
		assert.NoError(t, err)

		var got email
		assert.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "a@example.com", got.To)
		assert.Equal(t, "hi", got.Body)
	})

	err := publisher.Publish(context.Background(), "emails", email{To: "a@example.com", Body: "hi"})
	assert.NoError(t, err)

	mockDriver.AssertExpectations(t)
}

func TestPublisher_PublishPlain(t *testing.T) {
	mockDriver := new(MockDriver)
	publisher := NewPublisher(mockDriver, EncodingNone)

	mockDriver.On("Push", mock.Anything, "emails", []byte(`{"To":"b@example.com","Body":""}`)).Return(nil)

	err := publisher.Publish(context.Background(), "emails", email{To: "b@example.com"})
	assert.NoError(t, err)

	mockDriver.AssertExpectations(t)
}

func TestPublisher_PushError(t *testing.T) {
	mockDriver := new(MockDriver)
	publisher := NewPublisher(mockDriver, EncodingNone)

	mockDriver.On("Push", mock.Anything, "emails", mock.Anything).Return(errors.New("down"))

	err := publisher.Publish(context.Background(), "emails", email{})
	assert.EqualError(t, err, "down")
}

func TestPublisher_UnsupportedValue(t *testing.T) {
	publisher := NewPublisher(new(MockDriver), EncodingNone)

	err := publisher.Publish(context.Background(), "emails", make(chan int))
	assert.Error(t, err)
}

func TestPoisonQueue(t *testing.T) {
	mockDriver := new(MockDriver)
	sink := NewPoisonQueue(mockDriver)

	msg := &Message{ID: "1", Body: []byte("text")}
	mockDriver.On("Push", mock.Anything, "emails-poison", []byte("text")).Return(nil)

	assert.NoError(t, sink.Poison(context.Background(), "emails", msg, errors.New("boom")))
	mockDriver.AssertExpectations(t)
}
