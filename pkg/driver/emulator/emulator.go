package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	storage "github.com/mostefaiamine-25/aspire-functions/pkg/emulator"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// StatusError is returned when the emulator answers with a non 2xx status
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("emulator returned %d: %s", e.Status, e.Message)
}

// EmulatorDriver implements queue.Driver against the storage emulator HTTP API
type EmulatorDriver struct {
	baseURL    string
	client     *http.Client
	visibility time.Duration
	created    sync.Map
}

// NewEmulatorDriver creates a driver for the emulator listening at baseURL
func NewEmulatorDriver(baseURL string, client *http.Client, visibility time.Duration) *EmulatorDriver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &EmulatorDriver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		visibility: visibility,
	}
}

// Health checks that the emulator answers
func (d *EmulatorDriver) Health(ctx context.Context) error {
	return d.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// EnsureQueue creates the queue if it does not exist yet
func (d *EmulatorDriver) EnsureQueue(ctx context.Context, queueName string) error {
	if _, ok := d.created.Load(queueName); ok {
		return nil
	}
	if err := d.do(ctx, http.MethodPut, "/queues/"+url.PathEscape(queueName), nil, nil); err != nil {
		return err
	}
	d.created.Store(queueName, struct{}{})
	return nil
}

// HasQueue reports whether the queue exists on the emulator
func (d *EmulatorDriver) HasQueue(ctx context.Context, queueName string) (bool, error) {
	err := d.do(ctx, http.MethodGet, "/queues/"+url.PathEscape(queueName), nil, nil)
	if err == nil {
		return true, nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// Pop dequeues one message, hiding it for the configured visibility timeout
func (d *EmulatorDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	if err := d.EnsureQueue(ctx, queueName); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/queues/%s/messages?numofmessages=1&visibilitytimeout=%d",
		url.PathEscape(queueName), seconds(d.visibility))

	var resp storage.MessagesResponse
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, queue.ErrEmpty
	}

	m := resp.Messages[0]
	return &queue.Message{
		ID:           m.ID,
		Receipt:      m.PopReceipt,
		Queue:        queueName,
		Body:         []byte(m.Text),
		DequeueCount: m.DequeueCount,
		InsertedAt:   m.InsertedAt,
	}, nil
}

// Push adds a message to the queue
func (d *EmulatorDriver) Push(ctx context.Context, queueName string, body []byte) error {
	if err := d.EnsureQueue(ctx, queueName); err != nil {
		return err
	}
	req := storage.PutRequest{MessageText: string(body)}
	return d.do(ctx, http.MethodPost, "/queues/"+url.PathEscape(queueName)+"/messages", req, nil)
}

// Ack deletes the message
func (d *EmulatorDriver) Ack(ctx context.Context, msg *queue.Message) error {
	path := fmt.Sprintf("/queues/%s/messages/%s?popreceipt=%s",
		url.PathEscape(msg.Queue), url.PathEscape(msg.ID), url.QueryEscape(msg.Receipt))
	return d.do(ctx, http.MethodDelete, path, nil, nil)
}

// Release makes the message visible again
func (d *EmulatorDriver) Release(ctx context.Context, msg *queue.Message) error {
	path := fmt.Sprintf("/queues/%s/messages/%s?popreceipt=%s&visibilitytimeout=0",
		url.PathEscape(msg.Queue), url.PathEscape(msg.ID), url.QueryEscape(msg.Receipt))

	var m storage.Message
	if err := d.do(ctx, http.MethodPut, path, nil, &m); err != nil {
		return err
	}
	msg.Receipt = m.PopReceipt
	return nil
}

// Extend hides the message for another visibility period
func (d *EmulatorDriver) Extend(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	path := fmt.Sprintf("/queues/%s/messages/%s?popreceipt=%s&visibilitytimeout=%d",
		url.PathEscape(msg.Queue), url.PathEscape(msg.ID), url.QueryEscape(msg.Receipt), seconds(visibility))

	var m storage.Message
	if err := d.do(ctx, http.MethodPut, path, nil, &m); err != nil {
		return err
	}
	msg.Receipt = m.PopReceipt
	return nil
}

// Len returns the approximate number of messages in the queue
func (d *EmulatorDriver) Len(ctx context.Context, queueName string) (int, error) {
	var resp storage.QueueResponse
	if err := d.do(ctx, http.MethodGet, "/queues/"+url.PathEscape(queueName), nil, &resp); err != nil {
		return 0, err
	}
	return resp.ApproximateMessageCount, nil
}

func (d *EmulatorDriver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e storage.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// seconds rounds d up to whole seconds, the emulator's visibility unit
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
