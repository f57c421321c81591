package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"image-pipeline/internal/domain"
)

type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
}

type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Consumer feeds out until ctx is done, then closes it. Start does not block.
type Consumer interface {
	Start(ctx context.Context, out chan<- Message)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// Dispatcher publishes task dispatch messages keyed by task id.
type Dispatcher struct {
	producer Producer
}

func NewDispatcher(producer Producer) *Dispatcher {
	return &Dispatcher{producer: producer}
}

func (d *Dispatcher) Publish(ctx context.Context, msg domain.DispatchMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	if err := d.producer.Publish(ctx, []byte(msg.TaskID), value); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", msg.TaskID, err)
	}

	return nil
}

func DecodeDispatch(msg Message) (domain.DispatchMessage, error) {
	var dm domain.DispatchMessage
	if err := json.Unmarshal(msg.Value, &dm); err != nil {
		return dm, fmt.Errorf("failed to unmarshal dispatch message: %w", err)
	}
	if dm.TaskID == "" || dm.UserID == "" {
		return dm, fmt.Errorf("dispatch message at offset %d lacks task or user id", msg.Offset)
	}
	return dm, nil
}
