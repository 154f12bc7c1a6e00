// Package queue abstracts the task queue backends. FileFlow publishes
// download, file-processing, and crawl tasks through the Publisher
// interface and consumes them through Consumer; SQS and NATS JetStream
// implementations live in the sqs and nats subpackages.
package queue

import (
	"context"
	"time"
)

// Message is a single delivery from a queue.
type Message interface {
	// ID returns the broker-assigned message identifier
	ID() string

	// Data returns the message payload
	Data() []byte

	// Subject returns the subject or queue the message arrived on
	Subject() string

	// MessageGroup returns the ordering group, "" when unordered
	MessageGroup() string

	// Ack acknowledges successful processing
	Ack() error

	// Nak signals failure; the broker redelivers
	Nak() error

	// NakWithDelay signals failure with a redelivery delay
	NakWithDelay(delay time.Duration) error

	// InProgress extends the processing deadline
	InProgress() error

	// Metadata returns broker metadata attached to the message
	Metadata() map[string]string
}

// ReceiptHandleUpdatable is implemented by SQS messages. When the same
// message is redelivered while the original is still in flight, the old
// receipt handle expires; the consumer swaps in the fresh one so Ack still
// works.
type ReceiptHandleUpdatable interface {
	UpdateReceiptHandle(newReceiptHandle string)
	GetReceiptHandle() string
}

// Publisher sends task messages.
type Publisher interface {
	// Publish sends data on the given subject
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishWithGroup sends data with an ordering group
	PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error

	// PublishWithDeduplication sends data with a deduplication ID; the
	// broker drops repeats within its dedup window
	PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error

	// Close closes the publisher
	Close() error
}

// Consumer delivers messages to a handler.
type Consumer interface {
	// Consume blocks, calling handler per message, until ctx is
	// cancelled or a fatal error occurs
	Consume(ctx context.Context, handler func(Message) error) error

	// Close closes the consumer
	Close() error
}

// Queue combines both directions.
type Queue interface {
	Publisher
	Consumer
}

// Config selects and configures a backend.
type Config struct {
	// Type is "sqs" or "nats"
	Type string

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds JetStream settings.
type NATSConfig struct {
	// URL of the NATS server, e.g. "nats://localhost:4222"
	URL string

	// StreamName is the JetStream stream holding fileflow subjects
	StreamName string

	// ConsumerName is the durable consumer name
	ConsumerName string

	// Subjects bound to the stream, e.g. "fileflow.>"
	Subjects []string

	// MaxPending caps unacknowledged deliveries
	MaxPending int

	// AckWait is the redelivery deadline
	AckWait time.Duration

	// MaxDeliver caps delivery attempts before the broker gives up
	MaxDeliver int

	// MaxAge bounds message retention in the stream
	MaxAge time.Duration
}

// SQSConfig holds SQS settings.
type SQSConfig struct {
	// QueueURL is the full SQS queue URL
	QueueURL string

	// Region is the AWS region
	Region string

	// WaitTimeSeconds is the long-poll duration (max 20)
	WaitTimeSeconds int32

	// VisibilityTimeout in seconds; a message stays hidden this long
	// after receive
	VisibilityTimeout int32

	// MaxNumberOfMessages per receive call (1-10)
	MaxNumberOfMessages int32

	// MetricsPollIntervalSeconds is how often queue depth is sampled
	MetricsPollIntervalSeconds int32
}

// MessageBuilder assembles a message with optional ordering and dedup
// attributes before publishing.
type MessageBuilder struct {
	subject         string
	data            []byte
	messageGroup    string
	deduplicationID string
	metadata        map[string]string
}

// NewMessageBuilder starts a builder for the given subject.
func NewMessageBuilder(subject string) *MessageBuilder {
	return &MessageBuilder{
		subject:  subject,
		metadata: make(map[string]string),
	}
}

// WithData sets the payload.
func (b *MessageBuilder) WithData(data []byte) *MessageBuilder {
	b.data = data
	return b
}

// WithMessageGroup sets the ordering group.
func (b *MessageBuilder) WithMessageGroup(group string) *MessageBuilder {
	b.messageGroup = group
	return b
}

// WithDeduplicationID sets the dedup ID.
func (b *MessageBuilder) WithDeduplicationID(id string) *MessageBuilder {
	b.deduplicationID = id
	return b
}

// WithMetadata attaches a metadata key/value pair.
func (b *MessageBuilder) WithMetadata(key, value string) *MessageBuilder {
	b.metadata[key] = value
	return b
}

func (b *MessageBuilder) Subject() string             { return b.subject }
func (b *MessageBuilder) Data() []byte                { return b.data }
func (b *MessageBuilder) MessageGroup() string        { return b.messageGroup }
func (b *MessageBuilder) DeduplicationID() string     { return b.deduplicationID }
func (b *MessageBuilder) Metadata() map[string]string { return b.metadata }
