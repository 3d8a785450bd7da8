//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBrokers returns the broker list named by KAFKA_BROKERS (default
// localhost:9092), verifying the cluster answers before handing it out.
func KafkaBrokers(t *testing.T) []string {
	t.Helper()

	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		t.Fatalf("invalid kafka brokers %v: %v", brokers, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("kafka not available at %v: %v", brokers, err)
	}
	return brokers
}

// NewKafkaConsumer creates a franz-go consumer reading the given topics from
// the start, for verifying published records in tests.
func NewKafkaConsumer(t *testing.T, brokers []string, groupID string, topics ...string) *kgo.Client {
	t.Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		t.Fatalf("create kafka consumer: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// WaitForRecord polls until a record matching the predicate arrives or the
// timeout expires. Returns nil on timeout.
func WaitForRecord(ctx context.Context, client *kgo.Client, timeout time.Duration, match func(*kgo.Record) bool) *kgo.Record {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return nil
			}
			var found *kgo.Record
			fetches.EachRecord(func(r *kgo.Record) {
				if match(r) {
					found = r
				}
			})
			if found != nil {
				return found
			}
		}
	}
}
