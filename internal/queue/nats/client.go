// Package nats implements the queue interfaces on NATS JetStream. All task
// subjects live in one work-queue stream; each consumer filters on its
// subject. Deduplication rides on the Nats-Msg-Id header.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go.fileflow.dev/internal/queue"
)

const (
	defaultStream   = "FILEFLOW"
	defaultSubjects = "fileflow.>"
)

// Publisher publishes to JetStream.
type Publisher struct {
	js     jetstream.JetStream
	stream string
}

// NewPublisher creates a publisher bound to a stream.
func NewPublisher(js jetstream.JetStream, streamName string) *Publisher {
	return &Publisher{js: js, stream: streamName}
}

// Publish sends a message to the specified subject
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishWithGroup sends a message carrying an ordering group header.
func (p *Publisher) PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: make(nats.Header)}
	msg.Header.Set("Nats-Msg-Group", messageGroup)

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message with group: %w", err)
	}
	return nil
}

// PublishWithDeduplication sends a message that JetStream deduplicates on
// Nats-Msg-Id within the stream's dedup window.
func (p *Publisher) PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: make(nats.Header)}
	msg.Header.Set("Nats-Msg-Id", deduplicationID)

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message with deduplication: %w", err)
	}
	return nil
}

// PublishMessage publishes a message assembled with a MessageBuilder.
func (p *Publisher) PublishMessage(ctx context.Context, builder *queue.MessageBuilder) error {
	msg := &nats.Msg{
		Subject: builder.Subject(),
		Data:    builder.Data(),
		Header:  make(nats.Header),
	}
	if builder.MessageGroup() != "" {
		msg.Header.Set("Nats-Msg-Group", builder.MessageGroup())
	}
	if builder.DeduplicationID() != "" {
		msg.Header.Set("Nats-Msg-Id", builder.DeduplicationID())
	}
	for k, v := range builder.Metadata() {
		msg.Header.Set("X-Meta-"+k, v)
	}

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the Client.
func (p *Publisher) Close() error { return nil }

// Consumer pulls messages from a durable JetStream consumer.
type Consumer struct {
	consumer jetstream.Consumer
	name     string
}

// NewConsumer wraps a JetStream consumer.
func NewConsumer(consumer jetstream.Consumer, name string) *Consumer {
	return &Consumer{consumer: consumer, name: name}
}

// Consume blocks, delivering messages to handler until ctx is cancelled.
// Redelivery is driven by acks: the handler naks or lets AckWait lapse.
func (c *Consumer) Consume(ctx context.Context, handler func(queue.Message) error) error {
	slog.Info("Starting NATS consumer", "consumer", c.name)

	iter, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to create message iterator: %w", err)
	}
	defer iter.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer context cancelled, stopping", "consumer", c.name)
			return ctx.Err()
		default:
			msg, err := iter.Next()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return nil
				}
				slog.Error("Error getting next message", "error", err, "consumer", c.name)
				continue
			}

			wrapped := &NATSMessage{msg: msg, subject: msg.Subject()}
			if err := handler(wrapped); err != nil {
				slog.Error("Message handler error",
					"error", err, "consumer", c.name, "subject", msg.Subject())
			}
		}
	}
}

// Close logs consumer shutdown; the durable consumer itself persists.
func (c *Consumer) Close() error {
	slog.Info("Consumer closed", "consumer", c.name)
	return nil
}

// NATSMessage adapts a JetStream message to queue.Message.
type NATSMessage struct {
	msg     jetstream.Msg
	subject string
}

// ID returns the dedup header when present, else stream:sequence.
func (m *NATSMessage) ID() string {
	if id := m.msg.Headers().Get("Nats-Msg-Id"); id != "" {
		return id
	}
	meta, err := m.msg.Metadata()
	if err == nil {
		return fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
	}
	return ""
}

func (m *NATSMessage) Data() []byte    { return m.msg.Data() }
func (m *NATSMessage) Subject() string { return m.subject }

func (m *NATSMessage) MessageGroup() string {
	return m.msg.Headers().Get("Nats-Msg-Group")
}

func (m *NATSMessage) Ack() error { return m.msg.Ack() }
func (m *NATSMessage) Nak() error { return m.msg.Nak() }

func (m *NATSMessage) NakWithDelay(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}

func (m *NATSMessage) InProgress() error { return m.msg.InProgress() }

func (m *NATSMessage) Metadata() map[string]string {
	result := make(map[string]string)
	for k, v := range m.msg.Headers() {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}

// Client owns the NATS connection and hands out publishers and consumers.
type Client struct {
	conn      *nats.Conn
	js        jetstream.JetStream
	publisher *Publisher
	consumers map[string]*Consumer
	config    *queue.NATSConfig
}

// NewClient connects to NATS with unlimited reconnects.
func NewClient(cfg *queue.NATSConfig) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		conn:      conn,
		js:        js,
		consumers: make(map[string]*Consumer),
		config:    cfg,
	}
	client.publisher = NewPublisher(js, client.streamName())
	return client, nil
}

func (c *Client) streamName() string {
	if c.config.StreamName != "" {
		return c.config.StreamName
	}
	return defaultStream
}

// Publisher returns the client's shared publisher.
func (c *Client) Publisher() queue.Publisher {
	return c.publisher
}

// CreateConsumer creates or updates a durable consumer filtering on the
// given subject.
func (c *Client) CreateConsumer(ctx context.Context, name, filterSubject string) (*Consumer, error) {
	ackWait := 2 * time.Minute
	if c.config.AckWait > 0 {
		ackWait = c.config.AckWait
	}
	maxDeliver := 5
	if c.config.MaxDeliver > 0 {
		maxDeliver = c.config.MaxDeliver
	}

	stream, err := c.js.Stream(ctx, c.streamName())
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	wrapped := NewConsumer(consumer, name)
	c.consumers[name] = wrapped
	return wrapped, nil
}

// Close closes all consumers and the connection.
func (c *Client) Close() error {
	for _, consumer := range c.consumers {
		consumer.Close()
	}
	c.conn.Close()
	return nil
}

// EnsureStream creates or updates the work-queue stream holding the task
// subjects. Idempotent; called once at startup.
func (c *Client) EnsureStream(ctx context.Context) error {
	subjects := c.config.Subjects
	if len(subjects) == 0 {
		subjects = []string{defaultSubjects}
	}
	maxAge := c.config.MaxAge
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.streamName(),
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    maxAge,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}
