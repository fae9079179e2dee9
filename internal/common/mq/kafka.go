package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
	headerLastError  = "x-message-last-error"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// Dialer settings
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaQueue implements MessageQueue using Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

type kafkaSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	reader *kafka.Reader
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireAll
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	return &KafkaQueue{
		config: cfg,
		writer: writer,
		dialer: dialer,
	}, nil
}

// Publish publishes a message to a topic. Messages with the same ID land on
// the same partition, so jobs for one submission stay ordered.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// PublishBatch publishes multiple messages in a batch.
func (k *KafkaQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	kmsgs := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			return errors.New("message is nil")
		}
		kmsgs = append(kmsgs, toKafkaMessage(topic, msg))
	}
	return k.writer.WriteMessages(ctx, kmsgs...)
}

// Subscribe subscribes to a topic with default options.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return k.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = fmt.Sprintf("autograde-%s", topic)
	}

	sub := &kafkaSubscription{
		topic:   topic,
		handler: handler,
		opts:    options,
		baseCtx: ctx,
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		return k.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subscriptions {
		if err := k.startSubscription(sub); err != nil {
			return err
		}
	}
	k.started = true
	return nil
}

// Stop stops all consumers gracefully. In-flight handlers run to completion.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subscriptions {
		sub.wg.Wait()
		if sub.reader != nil {
			_ = sub.reader.Close()
		}
	}
	k.started = false
	return nil
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer and stops consumers.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) startSubscription(sub *kafkaSubscription) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	sub.reader = reader
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	msgCh := make(chan kafka.Message, sub.opts.Concurrency*sub.opts.PrefetchCount)
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(msgCh)
		for {
			msg, err := reader.FetchMessage(sub.ctx)
			if err != nil {
				if sub.ctx.Err() != nil {
					return
				}
				if !sleepCtx(sub.ctx, 100*time.Millisecond) {
					return
				}
				continue
			}
			select {
			case msgCh <- msg:
			case <-sub.ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for msg := range msgCh {
				k.handleMessage(sub, msg)
			}
		}()
	}
	return nil
}

func (k *KafkaQueue) handleMessage(sub *kafkaSubscription, msg kafka.Message) {
	m := fromKafkaMessage(msg)
	deliver(sub.ctx, m, sub.opts, sub.handler, func(ctx context.Context, dead *Message) error {
		return k.Publish(ctx, sub.opts.DeadLetterTopic, dead)
	})
	// A canceled subscription leaves the offset uncommitted so the job is redelivered.
	if sub.ctx.Err() == nil {
		_ = sub.reader.CommitMessages(sub.ctx, msg)
	}
}

// deliver runs handler on m, retrying failures with exponential backoff up to
// the message's MaxRetries (falling back to opts.MaxRetries). After the last
// failure the message goes to the dead letter topic, if one is configured.
// Expired messages are dropped without calling handler.
func deliver(ctx context.Context, m *Message, opts SubscribeOptions, handler HandlerFunc, deadLetter func(context.Context, *Message) error) {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	if m.Expiration == 0 && opts.MessageTTL > 0 {
		m.Expiration = opts.MessageTTL
	}
	if m.Expiration > 0 && !m.Timestamp.IsZero() && time.Since(m.Timestamp) > m.Expiration {
		return
	}

	for {
		err := handler(ctx, m)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !m.ShouldRetry() {
			if opts.DeadLetterTopic != "" && deadLetter != nil {
				m.SetHeader(headerLastError, err.Error())
				_ = deadLetter(ctx, m)
			}
			return
		}
		m.IncrementRetry()
		if !sleepCtx(ctx, RetryBackoff(m.RetryCount, opts.RetryDelay, opts.MaxRetryDelay)) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+5)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	if message.RetryCount != 0 {
		headers = append(headers, kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(message.RetryCount))})
	}
	if message.MaxRetries != 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))})
	}
	if message.Expiration > 0 {
		headers = append(headers, kafka.Header{Key: headerExpiration, Value: []byte(strconv.FormatInt(message.Expiration.Milliseconds(), 10))})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.RetryCount = v
			}
		case headerMaxRetries:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.MaxRetries = v
			}
		case headerExpiration:
			if v, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil && v > 0 {
				m.Expiration = time.Duration(v) * time.Millisecond
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	return m
}

var _ MessageQueue = (*KafkaQueue)(nil)
