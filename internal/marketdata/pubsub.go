// Package marketdata publishes detected opportunities and book events to
// downstream consumers over Redis pub/sub or Kafka.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher abstracts pub/sub for Redis and Kafka.
// Use Redis for low-latency fan-out, Kafka for persistence/replay.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
	Close() error
}

// Subscriber is implemented by backends that can also consume.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func([]byte)) error
}

// RedisPublisher implements Publisher using Redis pub/sub channels.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (r *RedisPublisher) channel(topic string) string {
	return r.prefix + topic
}

func (r *RedisPublisher) Publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(topic), data).Err()
}

func (r *RedisPublisher) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close is a no-op; the redis client is owned by the caller.
func (r *RedisPublisher) Close() error { return nil }

// KafkaPublisher implements Publisher with one writer; the topic becomes the
// message key so consumers can partition by stream.
type KafkaPublisher struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	logger  *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		brokers: brokers,
		topic:   topic,
		logger:  logger.Named("kafka"),
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: data})
}

// Subscribe reads the Kafka topic with the given consumer group and hands
// over messages whose key matches topic.
func (k *KafkaPublisher) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		Topic:   k.topic,
		GroupID: "arbfinder-" + topic,
	})
	go k.consume(ctx, reader, topic, handler)
	return nil
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// consume reads until the reader fails or ctx is done.
func (k *KafkaPublisher) consume(ctx context.Context, reader messageReader, topic string, handler func([]byte)) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				k.logger.Warn("kafka read error", zap.Error(err))
			}
			return
		}
		if string(m.Key) == topic {
			handler(m.Value)
		}
	}
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }

// MultiPublisher publishes to every backend and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, msg any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
