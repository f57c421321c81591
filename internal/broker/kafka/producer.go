package kafka

import (
	"context"

	"image-pipeline/internal/config"

	wbkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

type ProducerClient struct {
	producer *wbkafka.Producer
	strategy retry.Strategy
}

func NewProducerClient(cfg *config.Config) *ProducerClient {
	return &ProducerClient{
		producer: wbkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ProcessingTopic),
		strategy: cfg.DefaultRetryStrategy(),
	}
}

func (p *ProducerClient) Publish(ctx context.Context, key, value []byte) error {
	return p.producer.SendWithRetry(ctx, p.strategy, key, value)
}

func (p *ProducerClient) Close() error {
	return p.producer.Close()
}
