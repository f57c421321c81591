// Package memory is the in-process dispatch queue: a bounded channel that
// rejects publishes instead of blocking when it is full.
package memory

import (
	"context"
	"errors"
	"sync"

	"image-pipeline/internal/broker"
	"image-pipeline/internal/domain"
)

var ErrClosed = errors.New("queue is closed")

type Queue struct {
	mu     sync.RWMutex
	ch     chan broker.Message
	closed bool
	offset int64
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan broker.Message, size)}
}

func (q *Queue) Publish(_ context.Context, key, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	msg := broker.Message{Key: key, Value: value, Topic: "memory", Offset: q.offset}
	select {
	case q.ch <- msg:
		q.offset++
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (q *Queue) Start(ctx context.Context, out chan<- broker.Message) {
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Commit is a no-op: a delivered message is gone from the channel.
func (q *Queue) Commit(context.Context, broker.Message) error {
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
