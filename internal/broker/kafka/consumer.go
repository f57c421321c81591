package kafka

import (
	"context"

	"image-pipeline/internal/broker"
	"image-pipeline/internal/config"

	kafka "github.com/segmentio/kafka-go"
	wbkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

type ConsumerClient struct {
	consumer *wbkafka.Consumer
	strategy retry.Strategy
	buffer   int
}

func NewConsumerClient(cfg *config.Config) *ConsumerClient {
	return &ConsumerClient{
		consumer: wbkafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ProcessingTopic, cfg.Kafka.GroupID),
		strategy: cfg.DefaultRetryStrategy(),
		buffer:   cfg.Worker.Concurrency,
	}
}

func (c *ConsumerClient) Start(ctx context.Context, out chan<- broker.Message) {
	in := make(chan kafka.Message, c.buffer)
	go c.consumer.StartConsuming(ctx, in, c.strategy)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- fromKafka(msg):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (c *ConsumerClient) Commit(ctx context.Context, msg broker.Message) error {
	return c.consumer.Commit(ctx, toKafka(msg))
}

func (c *ConsumerClient) Close() error {
	return c.consumer.Close()
}

func fromKafka(msg kafka.Message) broker.Message {
	return broker.Message{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
}

// toKafka rebuilds the coordinates the reader needs to commit an offset.
func toKafka(msg broker.Message) kafka.Message {
	return kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}
}
