package producer

import (
	"context"
	"errors"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaProducer is a Producer implementation for sending events through a Kafka topic. Events of the same series end up
// in the same partition so they are stored in order
type KafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaProducer checks the provided brokers and creates a Kafka producer that only talks to the reachable ones
func NewKafkaProducer(conf Config) (*KafkaProducer, error) {
	if conf.Topic == "" {
		return nil, errors.New("a topic is required to produce to Kafka")
	}
	brokers := reachable(conf.Addresses, conf.Timeout)
	if len(brokers) == 0 {
		return nil, errors.New("none of the provided Kafka broker endpoints are usable")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        conf.Topic,
		Balancer:     &kafka.Murmur2Balancer{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: conf.Timeout,
	}
	return &KafkaProducer{writer: writer, timeout: conf.Timeout}, nil
}

// Close flushes pending messages and shuts down the underlying Kafka writer
func (kp *KafkaProducer) Close() {
	kp.writer.Close()
}

// Send writes the given event to the configured Kafka topic, keyed by series
func (kp *KafkaProducer) Send(seriesID string, event []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), kp.timeout)
	defer cancel()
	return kp.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(seriesID),
		Value:   event,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte("application/cloudevents+json")}},
	})
}
