// Package sqs implements the queue interfaces on AWS SQS. Acking deletes
// the message; nak-with-delay maps to ChangeMessageVisibility; the DLQ is
// queue-native via a redrive policy. One client serves the per-task-type
// queues through PublisherFor.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"go.fileflow.dev/internal/queue"
)

// SQSClientAPI is the slice of the SQS API this package uses. Tests swap
// in a mock.
type SQSClientAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Visibility timeout constants
const (
	// FastFailVisibilitySeconds is used when processing was skipped
	// cheaply (lock contention) and a quick retry is fine
	FastFailVisibilitySeconds = 10

	// DefaultVisibilitySeconds is used for real processing failures
	DefaultVisibilitySeconds = 30

	// MaxVisibilitySeconds is the SQS maximum (12 hours)
	MaxVisibilitySeconds = 43200
)

// Client owns the SQS connection and hands out publishers and consumers.
type Client struct {
	sqs       SQSClientAPI
	config    *queue.SQSConfig
	consumers map[string]*Consumer
	mu        sync.RWMutex
}

// ClientConfig holds extended SQS client configuration
type ClientConfig struct {
	QueueConfig *queue.SQSConfig

	// CustomEndpoint points the client at LocalStack for local development
	CustomEndpoint string

	// AccessKeyID for custom credentials (optional, local development only)
	AccessKeyID string

	// SecretAccessKey for custom credentials (optional, local development only)
	SecretAccessKey string
}

// NewClient creates a client using the default AWS credential chain.
func NewClient(ctx context.Context, cfg *queue.SQSConfig) (*Client, error) {
	return NewClientWithConfig(ctx, &ClientConfig{QueueConfig: cfg})
}

// NewClientWithConfig creates a client, optionally against a custom
// endpoint for local development.
func NewClientWithConfig(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	qc := cfg.QueueConfig
	if qc.WaitTimeSeconds == 0 {
		qc.WaitTimeSeconds = 20 // long polling (SQS max)
	}
	if qc.VisibilityTimeout == 0 {
		qc.VisibilityTimeout = 120
	}
	if qc.MaxNumberOfMessages == 0 {
		qc.MaxNumberOfMessages = 10 // SQS max per batch
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(qc.Region),
	}
	if cfg.CustomEndpoint != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.CustomEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.CustomEndpoint)
		}
	})

	return &Client{
		sqs:       sqsClient,
		config:    qc,
		consumers: make(map[string]*Consumer),
	}, nil
}

// Publisher returns a publisher for the configured queue.
func (c *Client) Publisher() queue.Publisher {
	return &Publisher{
		client:   c.sqs,
		queueURL: c.config.QueueURL,
	}
}

// PublisherFor returns a publisher bound to a different queue URL. Used for
// the DLQ and the per-task-type queues that share one client.
func (c *Client) PublisherFor(queueURL string) queue.Publisher {
	return &Publisher{
		client:   c.sqs,
		queueURL: queueURL,
	}
}

// CreateConsumer creates a named consumer for the given queue URL. An empty
// queueURL consumes from the client's configured queue.
func (c *Client) CreateConsumer(ctx context.Context, name, queueURL string) (*Consumer, error) {
	if queueURL == "" {
		queueURL = c.config.QueueURL
	}
	visibilityTimeout := c.config.VisibilityTimeout
	if visibilityTimeout == 0 {
		visibilityTimeout = DefaultVisibilitySeconds
	}

	consumer := &Consumer{
		client:              c.sqs,
		queueURL:            queueURL,
		name:                name,
		waitTimeSeconds:     c.config.WaitTimeSeconds,
		visibilityTimeout:   visibilityTimeout,
		maxNumberOfMessages: c.config.MaxNumberOfMessages,
		pendingDeletes:      make(map[string]struct{}),
	}

	c.mu.Lock()
	c.consumers[name] = consumer
	c.mu.Unlock()

	slog.Info("SQS consumer created", "name", name, "queueURL", queueURL, "maxMessages", c.config.MaxNumberOfMessages, "waitTime", c.config.WaitTimeSeconds)

	return consumer, nil
}

// GetConsumer returns an existing consumer by name.
func (c *Client) GetConsumer(name string) *Consumer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consumers[name]
}

// HealthCheck verifies the configured queue is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	return err
}

// Close stops every consumer created by this client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			slog.Error("Error closing consumer", "error", err, "consumer", name)
		}
	}
	c.consumers = make(map[string]*Consumer)

	return nil
}

// Publisher publishes to one queue URL.
type Publisher struct {
	client   SQSClientAPI
	queueURL string
}

// Publish sends a message. The subject rides in a message attribute since
// SQS has no native subject concept.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(data)),
		MessageAttributes: subjectAttribute(subject),
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message: %w", err)
	}
	return nil
}

// PublishWithGroup sends a message with a group ID for FIFO ordering.
func (p *Publisher) PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(data)),
		MessageGroupId:    aws.String(messageGroup),
		MessageAttributes: subjectAttribute(subject),
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message with group: %w", err)
	}
	return nil
}

// PublishWithDeduplication sends a message with a deduplication ID for FIFO
// queues. Outbox redispatch relies on this to avoid duplicate tasks.
func (p *Publisher) PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(p.queueURL),
		MessageBody:            aws.String(string(data)),
		MessageDeduplicationId: aws.String(deduplicationID),
		MessageGroupId:         aws.String(subject),
		MessageAttributes:      subjectAttribute(subject),
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message with deduplication: %w", err)
	}
	return nil
}

// Close is a no-op; the client owns the connection.
func (p *Publisher) Close() error { return nil }

func subjectAttribute(subject string) map[string]types.MessageAttributeValue {
	return map[string]types.MessageAttributeValue{
		"Subject": {
			DataType:    aws.String("String"),
			StringValue: aws.String(subject),
		},
	}
}

// Consumer long-polls one queue URL.
type Consumer struct {
	client              SQSClientAPI
	queueURL            string
	name                string
	waitTimeSeconds     int32
	visibilityTimeout   int32
	maxNumberOfMessages int32

	// SQS message IDs that were processed but whose delete failed because
	// the receipt handle expired. When these reappear, delete immediately.
	pendingDeletes   map[string]struct{}
	pendingDeletesMu sync.RWMutex

	running bool
	mu      sync.Mutex
}

// Consume long-polls until ctx is cancelled or Stop is called.
func (c *Consumer) Consume(ctx context.Context, handler func(queue.Message) error) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	slog.Info("Starting SQS consumer", "consumer", c.name, "queueURL", c.queueURL)

	for {
		select {
		case <-ctx.Done():
			slog.Info("SQS consumer context cancelled, stopping", "consumer", c.name)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return ctx.Err()
		default:
			c.mu.Lock()
			running := c.running
			c.mu.Unlock()
			if !running {
				slog.Info("SQS consumer stopped", "consumer", c.name)
				return nil
			}

			batchSize, err := c.pollMessages(ctx, handler)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("Error polling SQS messages", "error", err, "consumer", c.name)
				time.Sleep(time.Second)
				continue
			}

			// Adaptive delay: empty batch backs off, partial batch lets
			// messages accumulate, full batch keeps consuming
			if batchSize == 0 {
				time.Sleep(time.Second)
			} else if batchSize < int(c.maxNumberOfMessages) {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// pollMessages receives one batch and runs the handler over it.
func (c *Consumer) pollMessages(ctx context.Context, handler func(queue.Message) error) (int, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.maxNumberOfMessages,
		WaitTimeSeconds:       c.waitTimeSeconds,
		VisibilityTimeout:     c.visibilityTimeout,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	processedCount := 0
	for _, msg := range result.Messages {
		sqsMessageID := aws.ToString(msg.MessageId)

		c.pendingDeletesMu.RLock()
		_, isPendingDelete := c.pendingDeletes[sqsMessageID]
		c.pendingDeletesMu.RUnlock()

		if isPendingDelete {
			slog.Info("SQS message was previously processed - deleting now", "sqsMessageId", sqsMessageID)

			if err := c.deleteMessage(ctx, msg.ReceiptHandle); err != nil {
				slog.Warn("Failed to delete previously processed message", "error", err, "sqsMessageId", sqsMessageID)
			} else {
				c.pendingDeletesMu.Lock()
				delete(c.pendingDeletes, sqsMessageID)
				c.pendingDeletesMu.Unlock()
			}
			continue
		}

		wrapped := &SQSMessage{
			msg:               &msg,
			client:            c.client,
			queueURL:          c.queueURL,
			sqsMessageID:      sqsMessageID,
			receiptHandle:     aws.ToString(msg.ReceiptHandle),
			visibilityTimeout: c.visibilityTimeout,
			consumer:          c,
		}

		if err := handler(wrapped); err != nil {
			slog.Error("Message handler error", "error", err, "messageId", sqsMessageID, "consumer", c.name)
		}

		processedCount++
	}

	return processedCount, nil
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle *string) error {
	if receiptHandle == nil {
		return nil
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	return err
}

// markForDeletion remembers a processed message whose delete failed; the
// next redelivery is deleted without reprocessing.
func (c *Consumer) markForDeletion(sqsMessageID string) {
	c.pendingDeletesMu.Lock()
	c.pendingDeletes[sqsMessageID] = struct{}{}
	c.pendingDeletesMu.Unlock()
	slog.Info("SQS message marked for deletion on next poll", "sqsMessageId", sqsMessageID)
}

// Stop ends the Consume loop after the current batch.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Close stops the consumer.
func (c *Consumer) Close() error {
	c.Stop()
	slog.Info("SQS consumer closed", "consumer", c.name)
	return nil
}

// SQSMessage adapts a received SQS message to queue.Message.
type SQSMessage struct {
	msg               *types.Message
	client            SQSClientAPI
	queueURL          string
	sqsMessageID      string
	receiptHandle     string
	visibilityTimeout int32
	consumer          *Consumer
}

func (m *SQSMessage) ID() string { return m.sqsMessageID }

func (m *SQSMessage) Data() []byte {
	if m.msg.Body != nil {
		return []byte(*m.msg.Body)
	}
	return nil
}

// Subject reads the subject attribute set by the publisher.
func (m *SQSMessage) Subject() string {
	if attr, ok := m.msg.MessageAttributes["Subject"]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}
	return ""
}

func (m *SQSMessage) MessageGroup() string {
	if m.msg.Attributes != nil {
		return m.msg.Attributes["MessageGroupId"]
	}
	return ""
}

// Ack deletes the message. An expired receipt handle is not a failure:
// the message is flagged so its redelivery gets deleted on sight.
func (m *SQSMessage) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.queueURL),
		ReceiptHandle: aws.String(m.receiptHandle),
	})
	if err != nil {
		if isReceiptHandleExpiredError(err) {
			m.consumer.markForDeletion(m.sqsMessageID)
			slog.Info("Receipt handle expired - marked for deletion on next poll", "sqsMessageId", m.sqsMessageID)
			return nil
		}
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}

	slog.Debug("SQS message deleted successfully", "sqsMessageId", m.sqsMessageID)
	return nil
}

// Nak is a no-op for SQS; the message reappears when the visibility
// timeout lapses.
func (m *SQSMessage) Nak() error {
	slog.Debug("SQS NACK - message will become visible after visibility timeout", "sqsMessageId", m.sqsMessageID)
	return nil
}

// NakWithDelay sets a custom visibility delay before redelivery.
func (m *SQSMessage) NakWithDelay(delay time.Duration) error {
	seconds := int32(delay.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if seconds > MaxVisibilitySeconds {
		seconds = MaxVisibilitySeconds
	}
	return m.changeVisibility(seconds)
}

// InProgress extends the processing deadline by another visibility window.
func (m *SQSMessage) InProgress() error {
	return m.changeVisibility(m.visibilityTimeout)
}

// SetFastFailVisibility shortens visibility so a message skipped on lock
// contention retries soon.
func (m *SQSMessage) SetFastFailVisibility() error {
	return m.changeVisibility(FastFailVisibilitySeconds)
}

func (m *SQSMessage) changeVisibility(timeout int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(m.queueURL),
		ReceiptHandle:     aws.String(m.receiptHandle),
		VisibilityTimeout: timeout,
	})
	if err != nil {
		if isReceiptHandleExpiredError(err) {
			slog.Debug("Receipt handle expired - cannot change visibility", "sqsMessageId", m.sqsMessageID)
			return nil
		}
		return fmt.Errorf("failed to change message visibility: %w", err)
	}

	slog.Debug("Changed message visibility", "sqsMessageId", m.sqsMessageID, "timeout", timeout)
	return nil
}

// UpdateReceiptHandle swaps in a fresh receipt handle after redelivery.
func (m *SQSMessage) UpdateReceiptHandle(newReceiptHandle string) {
	slog.Info("Updating receipt handle due to redelivery", "sqsMessageId", m.sqsMessageID)
	m.receiptHandle = newReceiptHandle
}

// GetReceiptHandle returns the current receipt handle.
func (m *SQSMessage) GetReceiptHandle() string { return m.receiptHandle }

func (m *SQSMessage) Metadata() map[string]string {
	result := make(map[string]string)
	for k, v := range m.msg.MessageAttributes {
		if v.StringValue != nil {
			result[k] = *v.StringValue
		}
	}
	return result
}

func isReceiptHandleExpiredError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "receipt handle has expired") ||
		strings.Contains(s, "ReceiptHandleIsInvalid")
}
