package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-pipeline/internal/broker"
	"image-pipeline/internal/broker/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

func testLogger() *zlog.Zerolog {
	zlog.Init()
	return &zlog.Logger
}

type countingConsumer struct {
	*memory.Queue
	mu        sync.Mutex
	committed []int64
	ctxErrs   []error
}

func (c *countingConsumer) Commit(ctx context.Context, msg broker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msg.Offset)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return nil
}

func (c *countingConsumer) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.committed)
}

func TestPoolProcessesAndCommitsEveryMessage(t *testing.T) {
	q := &countingConsumer{Queue: memory.NewQueue(10)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	handler := func(_ context.Context, msg broker.Message) error {
		handled.Add(1)
		switch string(msg.Key) {
		case "boom":
			panic("handler exploded")
		case "fail":
			return errors.New("bad message")
		}
		return nil
	}

	for _, key := range []string{"ok", "boom", "fail", "ok2"} {
		require.NoError(t, q.Publish(ctx, []byte(key), nil))
	}

	pool := NewPool(q, handler, 2, testLogger())
	pool.Start(ctx)

	require.Eventually(t, func() bool { return q.commits() == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(4), handled.Load())

	cancel()
	pool.Wait()
}

func TestPoolCommitsMessageFinishedDuringShutdown(t *testing.T) {
	q := &countingConsumer{Queue: memory.NewQueue(10)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(context.Context, broker.Message) error {
		close(started)
		<-release
		return nil
	}
	require.NoError(t, q.Publish(ctx, []byte("slow"), nil))

	pool := NewPool(q, handler, 1, testLogger())
	pool.Start(ctx)
	<-started

	cancel()
	close(release)
	pool.Wait()

	require.Equal(t, 1, q.commits())
	assert.NoError(t, q.ctxErrs[0])
}

type fakeSweeper struct {
	calls atomic.Int32
}

func (f *fakeSweeper) FailStuck(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

func TestMonitorSweepsUntilCancelled(t *testing.T) {
	sweeper := &fakeSweeper{}
	m := NewMonitor(sweeper, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
