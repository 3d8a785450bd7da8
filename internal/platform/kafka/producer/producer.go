// Package producer publishes usage trail records to Kafka via franz-go.
// The relay treats Kafka as a mirror, never a dependency: publishing is
// fire-and-forget and delivery failures surface only in logs.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one record bound for a topic. The usage pipeline keys
// messages by account id so each account's trail lands in one partition.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Config holds the broker list and delivery tuning.
type Config struct {
	Brokers         string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// DefaultConfig returns delivery settings suited to the usage mirror:
// full ISR acks with a bounded delivery window, so a dead cluster sheds
// records instead of pinning memory.
func DefaultConfig(brokers string) Config {
	return Config{
		Brokers:         brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 30 * time.Second,
	}
}

// Producer wraps a franz-go client for async publishing.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(requiredAcks(cfg.Acks)),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerBatchMaxBytes(16384),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func requiredAcks(acks string) kgo.Acks {
	switch acks {
	case "0":
		return kgo.NoAck()
	case "1":
		return kgo.LeaderAck()
	default:
		return kgo.AllISRAcks()
	}
}

// ProduceAsync buffers the message for background delivery. The caller
// never blocks on the cluster; delivery failures are logged from the
// completion callback.
func (p *Producer) ProduceAsync(msg *Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.RUnlock()

	record := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	p.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Error("kafka delivery failed",
				"topic", r.Topic,
				"partition", r.Partition,
				"error", err,
			)
		}
	})
	return nil
}

// Health pings the brokers, for the readiness endpoint alongside the
// redis and postgres checks.
func (p *Producer) Health(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.RUnlock()
	return p.client.Ping(ctx)
}

// Buffered reports records awaiting delivery. The count grows when the
// cluster falls behind; the server's stats loop logs it.
func (p *Producer) Buffered() int64 {
	return p.client.BufferedProduceRecords()
}

// Close flushes buffered records and releases the client. The flush is
// bounded; records still undelivered after the window are dropped with
// a warning.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		if p.logger != nil {
			p.logger.Warn("kafka producer closed with unflushed messages", "error", err)
		}
	}
	p.client.Close()
	return nil
}
