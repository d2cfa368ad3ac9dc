// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes messages onto Kafka topics. It backs both the DLQ path
// ([DeadLetterPublisher]) and the round-trip request/response pattern the
// backtest pipeline and indicator worker use to hand work to each other
// asynchronously.
type Producer struct {
	client *kgo.Client
}

// NewProducer wraps an existing [kgo.Client] for producing.
func NewProducer(client *kgo.Client) *Producer {
	return &Producer{client: client}
}

// Publish synchronously produces value to topic with the given key and
// headers, returning once the broker has acknowledged the record.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers []Header) error {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for _, h := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}

	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("kafka: failed to publish to topic %q: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}

// DeadLetterPublisher implements [DLQPublisher] by republishing the
// original message bytes onto a fixed dead-letter topic, annotated with the
// failure cause and the topic/partition/offset it originated from.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
}

// NewDeadLetterPublisher initializes a [DeadLetterPublisher] that republishes
// failed messages onto topic.
func NewDeadLetterPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

// PublishDLQ implements [DLQPublisher].
func (d *DeadLetterPublisher) PublishDLQ(ctx context.Context, msg Message, cause error) error {
	headers := append([]Header(nil), msg.Headers...)
	headers = append(headers,
		Header{Key: "dlq.cause", Value: []byte(cause.Error())},
		Header{Key: "dlq.original_topic", Value: []byte(msg.Topic)},
	)

	return d.producer.Publish(ctx, d.topic, msg.Key, msg.Value, headers)
}
