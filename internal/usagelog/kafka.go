package usagelog

import (
	"encoding/json"

	"relaypool/internal/platform/kafka/producer"
	dErrors "relaypool/pkg/domain-errors"
)

// messageProducer is the slice of the Kafka producer the publisher needs.
type messageProducer interface {
	ProduceAsync(msg *producer.Message) error
}

// KafkaPublisher mirrors usage entries onto a Kafka topic, keyed by
// account so one account's trail stays ordered within a partition.
type KafkaPublisher struct {
	producer messageProducer
	topic    string
}

func NewKafkaPublisher(p messageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode usage entry")
	}
	return k.producer.ProduceAsync(&producer.Message{
		Topic: k.topic,
		Key:   []byte(e.AccountID),
		Value: value,
	})
}
