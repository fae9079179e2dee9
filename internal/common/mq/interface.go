package mq

import (
	"context"
	"time"
)

// MessageQueue defines the message queue operations used by the grading
// workers: publishing jobs and alerts, and consuming jobs.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close closes the message queue connection
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	// Publish publishes a message to the specified topic/queue
	Publish(ctx context.Context, topic string, message *Message) error

	// PublishBatch publishes multiple messages in a batch
	PublishBatch(ctx context.Context, topic string, messages []*Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe subscribes to a topic/queue and processes messages with the given handler
	// The handler should return nil on success or an error on failure
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// SubscribeWithOptions subscribes with custom options
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Retry information
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration time for the message
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc is the function signature for message handlers
// It receives the message and returns an error if processing failed
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the kafka consumer group name
	ConsumerGroup string

	// PrefetchCount sets the number of messages buffered per worker
	// Default: 1 (fair dispatch for grading jobs)
	PrefetchCount int

	// Concurrency sets the number of concurrent workers
	// Default: 1
	Concurrency int

	// MaxRetries sets the maximum number of retries for failed messages.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// RetryDelay is the first delay between retries. It doubles per retry up to MaxRetryDelay.
	// Default: 1 second
	RetryDelay time.Duration

	// MaxRetryDelay caps the retry delay
	// Default: 30 seconds
	MaxRetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string

	// MessageTTL sets the time-to-live for messages in the queue
	MessageTTL time.Duration
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount == 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay == 0 {
		o.MaxRetryDelay = 30 * time.Second
	}
}

// NewMessage creates a new message with the given body.
// MaxRetries is left 0 so the subscriber's option applies.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// RetryBackoff returns the delay before retry number retryCount (1-based):
// base doubled per retry, capped at max.
func RetryBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		if max > 0 && delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// ShouldRetry determines if the message should be retried
func (m *Message) ShouldRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// IncrementRetry increments the retry count
func (m *Message) IncrementRetry() {
	m.RetryCount++
}
