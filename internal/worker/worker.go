package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"image-pipeline/internal/broker"

	"github.com/wb-go/wbf/zlog"
)

// Handler processes one message. Returned errors are logged; the message is
// committed either way because task failures are recorded on the task itself.
type Handler func(ctx context.Context, msg broker.Message) error

type Pool struct {
	consumer    broker.Consumer
	handler     Handler
	logger      *zlog.Zerolog
	concurrency int
	wg          sync.WaitGroup
}

func NewPool(consumer broker.Consumer, handler Handler, concurrency int, logger *zlog.Zerolog) *Pool {
	return &Pool{
		consumer:    consumer,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Start launches the workers. They stop once ctx is done and the consumer
// has closed its channel; Wait blocks until then.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().Int("concurrency", p.concurrency).Msg("Starting worker pool")

	messages := make(chan broker.Message, p.concurrency*2)
	p.consumer.Start(ctx, messages)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.processWorker(ctx, id, messages)
		}(i)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) processWorker(ctx context.Context, id int, messages <-chan broker.Message) {
	p.logger.Debug().Int("worker_id", id).Msg("Worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Int("worker_id", id).Msg("Worker stopping")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			startTime := time.Now()
			if err := p.safeProcessMessage(ctx, id, msg); err != nil {
				p.logger.Error().
					Err(err).
					Int("worker_id", id).
					Int64("offset", msg.Offset).
					Msg("Failed to process message")
			}
			// The handler may finish after shutdown began; its offset still counts.
			if err := p.consumer.Commit(context.WithoutCancel(ctx), msg); err != nil {
				p.logger.Error().
					Err(err).
					Int64("offset", msg.Offset).
					Int("worker_id", id).
					Msg("Failed to commit message")
				continue
			}
			p.logger.Debug().
				Int("worker_id", id).
				Int64("offset", msg.Offset).
				Dur("duration", time.Since(startTime)).
				Msg("Message committed")
		}
	}
}

func (p *Pool) safeProcessMessage(ctx context.Context, workerID int, msg broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Interface("panic", r).
				Int64("offset", msg.Offset).
				Msg("Panic recovered while processing message")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(ctx, msg)
}
