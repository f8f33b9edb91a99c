package sqs

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
)

// API is the subset of the SQS client used by the driver
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type SQSDriver struct {
	client     API
	queueUrl   string
	wait       int32
	visibility int32

	mu   sync.Mutex
	urls map[string]string
}

// NewSQSDriver creates a new SQS driver.
// When queueUrl is set every queue name maps to it, otherwise URLs are resolved by name.
func NewSQSDriver(client API, queueUrl string, waitSeconds int32, visibility time.Duration) *SQSDriver {
	return &SQSDriver{
		client:     client,
		queueUrl:   queueUrl,
		wait:       waitSeconds,
		visibility: int32(visibility.Seconds()),
		urls:       make(map[string]string),
	}
}

func (s *SQSDriver) resolve(ctx context.Context, queueName string) (string, error) {
	if s.queueUrl != "" && !isPoison(queueName) {
		return s.queueUrl, nil
	}

	s.mu.Lock()
	u, ok := s.urls[queueName]
	s.mu.Unlock()
	if ok {
		return u, nil
	}

	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return "", err
	}
	u = aws.ToString(out.QueueUrl)

	s.mu.Lock()
	s.urls[queueName] = u
	s.mu.Unlock()
	return u, nil
}

// Pop retrieves a message from SQS using long polling
func (s *SQSDriver) Pop(ctx context.Context, queueName string) (*queue.Message, error) {
	queueUrl, err := s.resolve(ctx, queueName)
	if err != nil {
		return nil, err
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueUrl),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     s.wait,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	}
	if s.visibility > 0 {
		input.VisibilityTimeout = s.visibility
	}

	resp, err := s.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, queue.ErrEmpty
	}

	msg := resp.Messages[0]
	out := &queue.Message{
		ID:           aws.ToString(msg.MessageId),
		Receipt:      aws.ToString(msg.ReceiptHandle),
		Queue:        queueName,
		Body:         []byte(aws.ToString(msg.Body)),
		DequeueCount: 1,
	}

	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.DequeueCount = n
		}
	}
	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.InsertedAt = time.UnixMilli(ms).UTC()
		}
	}

	return out, nil
}

// Push adds a message to SQS
func (s *SQSDriver) Push(ctx context.Context, queueName string, body []byte) error {
	queueUrl, err := s.resolve(ctx, queueName)
	if err != nil {
		return err
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueUrl),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// Ack deletes the message from SQS
func (s *SQSDriver) Ack(ctx context.Context, msg *queue.Message) error {
	queueUrl, err := s.resolve(ctx, msg.Queue)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueUrl),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	return err
}

// Release resets the visibility timeout so the message is redelivered
func (s *SQSDriver) Release(ctx context.Context, msg *queue.Message) error {
	queueUrl, err := s.resolve(ctx, msg.Queue)
	if err != nil {
		return err
	}

	_, err = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueUrl),
		ReceiptHandle:     aws.String(msg.Receipt),
		VisibilityTimeout: 0,
	})
	return err
}

// Extend hides the message for another visibility period
func (s *SQSDriver) Extend(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	queueUrl, err := s.resolve(ctx, msg.Queue)
	if err != nil {
		return err
	}

	_, err = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueUrl),
		ReceiptHandle:     aws.String(msg.Receipt),
		VisibilityTimeout: int32(math.Ceil(visibility.Seconds())),
	})
	return err
}

// Len returns ApproximateNumberOfMessages
func (s *SQSDriver) Len(ctx context.Context, queueName string) (int, error) {
	queueUrl, err := s.resolve(ctx, queueName)
	if err != nil {
		return 0, err
	}

	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueUrl),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
}

func isPoison(queueName string) bool {
	return strings.HasSuffix(queueName, queue.PoisonSuffix)
}
