package task

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"image-pipeline/internal/broker"
	brokermem "image-pipeline/internal/broker/memory"
	"image-pipeline/internal/domain"
	"image-pipeline/internal/repository/memory"
	"image-pipeline/internal/usecase/processor"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

const (
	alice = "alice"
	bob   = "bob"
)

func testLogger() *zlog.Zerolog {
	zlog.Init()
	return &zlog.Logger
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type fixture struct {
	m       *Manager
	tasks   *memory.TaskStore
	images  *memory.ImageStore
	objects *memory.ObjectStore
	queue   *brokermem.Queue
	stats   *recordingInvalidator
}

func newFixture(t *testing.T, engine transformEngine, queueSize int, cfg Config) *fixture {
	t.Helper()
	if engine == nil {
		e := processor.NewEngine(testLogger())
		require.NoError(t, e.Init())
		t.Cleanup(e.Shutdown)
		engine = e
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}

	f := &fixture{
		tasks:   memory.NewTaskStore(),
		images:  memory.NewImageStore(),
		objects: memory.NewObjectStore("images"),
		queue:   brokermem.NewQueue(queueSize),
		stats:   &recordingInvalidator{},
	}
	f.m = NewManager(f.tasks, f.images, f.objects, broker.NewDispatcher(f.queue), engine, f.stats, cfg, testLogger())

	f.seedImage(t, "img1", alice, 200, 100)
	return f
}

func (f *fixture) seedImage(t *testing.T, id, user string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	path := "originals/" + id + ".png"
	ctx := context.Background()
	require.NoError(t, f.objects.Put(ctx, path, buf.Bytes(), "image/png"))
	require.NoError(t, f.images.Save(ctx, &domain.Image{
		ID: id, UserID: user, Size: int64(buf.Len()), Width: w, Height: h,
		Format: domain.FormatPNG, StoragePath: path, CreatedAt: time.Now(),
	}))
}

// runQueued executes every message currently in the queue.
func (f *fixture) runQueued(t *testing.T) {
	t.Helper()
	n := f.queue.Len()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan broker.Message)
	f.queue.Start(ctx, out)
	for i := 0; i < n; i++ {
		require.NoError(t, f.m.HandleMessage(context.Background(), <-out))
	}
}

func (f *fixture) state(t *testing.T, id string) *domain.ProcessingTask {
	t.Helper()
	task, err := f.tasks.GetByID(context.Background(), id, alice)
	require.NoError(t, err)
	return task
}

func resizeTo(w, h int) domain.ProcessingOptions {
	return domain.ProcessingOptions{Resize: &domain.ResizeOptions{Width: w, Height: h}}
}

func TestSubmitAndExecute(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", domain.ProcessingOptions{
		Resize:      &domain.ResizeOptions{Width: 100, Height: 50},
		Compression: &domain.CompressionOptions{Quality: 80, Format: domain.FormatJPG},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, task.State)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, f.stats.count())

	f.runQueued(t)

	done := f.state(t, task.ID)
	assert.Equal(t, domain.StateCompleted, done.State)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	res, err := f.m.GetResult(ctx, task.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedPath("img1", task.ID, domain.FormatJPG), res.OutputPath)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)
	assert.Equal(t, domain.FileSizeReduction(res.OriginalSize, res.Size), res.FileSizeReduction)
	assert.IsType(t, domain.JPEGMetadata{}, res.Metadata)
	assert.Contains(t, res.URL, res.OutputPath)

	ct, ok := f.objects.ContentType(res.OutputPath)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, int64(1), f.tasks.ImagesProcessed(alice))
	// submit, start and completion each refresh the cached breakdown
	assert.Equal(t, 3, f.stats.count())
}

func TestSubmitRejectsInvalidOptions(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	tests := []struct {
		name  string
		opts  domain.ProcessingOptions
		field string
	}{
		{"no operations", domain.ProcessingOptions{}, "operations"},
		{"crop without size", domain.ProcessingOptions{Crop: &domain.CropOptions{X: 1}}, "crop.width"},
		{"quality out of range", domain.ProcessingOptions{Compression: &domain.CompressionOptions{Quality: 0, Format: domain.FormatJPG}}, "compression.quality"},
		{"resize without sides", domain.ProcessingOptions{Resize: &domain.ResizeOptions{}}, "resize"},
		{"bad watermark color", domain.ProcessingOptions{Watermark: &domain.WatermarkOptions{Text: "x", Position: domain.WatermarkCenter, Color: "1,2"}}, "watermark.color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.Submit(ctx, alice, "img1", tt.opts)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Zero(t, f.queue.Len())
}

func TestSubmitChecksImageOwnership(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})

	_, err := f.m.Submit(context.Background(), bob, "img1", resizeTo(10, 10))
	assert.ErrorIs(t, err, domain.ErrImageNotFound)
}

func TestSubmitQueueFullFailsTask(t *testing.T) {
	f := newFixture(t, nil, 1, Config{})
	ctx := context.Background()

	_, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)

	_, err = f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	assert.ErrorIs(t, err, domain.ErrQueueFull)

	failed, total, err := f.m.History(ctx, alice, domain.TaskFilter{Status: domain.StateFailed}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.MessageQueueFull, failed[0].ErrorMessage)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	pending, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)

	cancelled, err := f.m.Cancel(ctx, pending.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, cancelled.State)
	assert.Equal(t, domain.MessageCancelled, cancelled.ErrorMessage)

	// The queued message no longer starts the task.
	f.runQueued(t)
	assert.Equal(t, domain.StateCancelled, f.state(t, pending.ID).State)

	_, err = f.m.Cancel(ctx, pending.ID, alice)
	assert.True(t, domain.IsConflict(err))

	completed, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)
	f.runQueued(t)

	_, err = f.m.Cancel(ctx, completed.ID, alice)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "task already completed", conflict.Error())
	assert.Equal(t, domain.StateCompleted, f.state(t, completed.ID).State)

	_, err = f.m.Cancel(ctx, completed.ID, bob)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{started: make(chan struct{}), release: make(chan struct{})}
}

// Execute waits for ctx, or for release when release is closed first. In
// the latter case it ignores cancellation like a stage without checkpoints.
func (b *blockingEngine) Execute(ctx context.Context, input []byte, _ domain.ProcessingOptions) ([]byte, processor.Metrics, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
		return nil, processor.Metrics{}, ctx.Err()
	case <-b.release:
		return input, processor.Metrics{Format: domain.FormatPNG}, nil
	}
}

func TestCancelInterruptsProcessingTask(t *testing.T) {
	engine := newBlockingEngine()
	f := newFixture(t, engine, 10, Config{})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.m.Execute(ctx, domain.DispatchMessage{TaskID: task.ID, UserID: alice})
	}()
	<-engine.started
	assert.Equal(t, domain.StateProcessing, f.state(t, task.ID).State)

	_, err = f.m.Cancel(ctx, task.ID, alice)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, domain.StateCancelled, f.state(t, task.ID).State)
	_, err = f.m.GetResult(ctx, task.ID, alice)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)
	_, ok := f.objects.ContentType(domain.ProcessedPath("img1", task.ID, domain.FormatPNG))
	assert.False(t, ok)
}

func TestExecuteDrainsWhenConsumerStops(t *testing.T) {
	engine := newBlockingEngine()
	f := newFixture(t, engine, 10, Config{})

	task, err := f.m.Submit(context.Background(), alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)

	consumerCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.m.Execute(consumerCtx, domain.DispatchMessage{TaskID: task.ID, UserID: alice})
	}()
	<-engine.started

	stop()
	select {
	case <-done:
		t.Fatal("execution stopped with the consumer")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, domain.StateProcessing, f.state(t, task.ID).State)

	close(engine.release)
	require.NoError(t, <-done)
	assert.Equal(t, domain.StateCompleted, f.state(t, task.ID).State)
}

func TestExecuteTimesOut(t *testing.T) {
	f := newFixture(t, newBlockingEngine(), 10, Config{DispatchTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
	require.NoError(t, err)
	f.runQueued(t)

	got := f.state(t, task.ID)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, "processing timed out after 20ms", got.ErrorMessage)
}

func TestExecuteRecordsTransformFailure(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", domain.ProcessingOptions{
		Crop: &domain.CropOptions{X: 150, Y: 0, Width: 100, Height: 50},
	})
	require.NoError(t, err)
	f.runQueued(t)

	got := f.state(t, task.ID)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "crop stage failed")
	assert.Equal(t, 3, f.stats.count())
}

func TestExecuteRecordsStorageFailure(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()
	require.NoError(t, f.images.Save(ctx, &domain.Image{ID: "ghost", UserID: alice, StoragePath: "originals/missing.png"}))

	task, err := f.m.Submit(ctx, alice, "ghost", resizeTo(10, 10))
	require.NoError(t, err)
	f.runQueued(t)

	got := f.state(t, task.ID)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "storage get originals/missing.png failed")
}

func TestExecuteDropsUnknownAndMalformedMessages(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})

	assert.NoError(t, f.m.Execute(context.Background(), domain.DispatchMessage{TaskID: "nope", UserID: alice}))
	assert.Error(t, f.m.HandleMessage(context.Background(), broker.Message{Value: []byte("{")}))
}

func TestReprocess(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	original, err := f.m.Submit(ctx, alice, "img1", resizeTo(40, 20))
	require.NoError(t, err)
	f.runQueued(t)

	again, err := f.m.Reprocess(ctx, original.ID, alice, nil)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, again.ID)
	assert.Equal(t, original.ID, again.ReprocessedFrom)
	assert.Equal(t, domain.StatePending, again.State)
	assert.Equal(t, original.Options, again.Options)
	assert.Equal(t, domain.StateCompleted, f.state(t, original.ID).State)

	newOpts := resizeTo(10, 10)
	other, err := f.m.Reprocess(ctx, original.ID, alice, &newOpts)
	require.NoError(t, err)
	assert.Equal(t, 10, other.Options.Resize.Width)

	require.NoError(t, f.tasks.UpdateStatus(ctx, again.ID, domain.StateProcessing, ""))
	_, err = f.m.Reprocess(ctx, again.ID, alice, nil)
	assert.True(t, domain.IsConflict(err))
}

func TestSubmitBatchKeepsOrderAndIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})

	params := func(v any) json.RawMessage {
		raw, _ := json.Marshal(v)
		return raw
	}
	items := []BatchItem{
		{ImageID: "img1", Operations: []domain.Operation{{Type: domain.OpResize, Params: params(map[string]int{"width": 50})}}},
		{ImageID: "img1", Operations: []domain.Operation{{Type: domain.OpCrop, Params: params(map[string]int{"x": -5, "width": 10, "height": 10})}}},
		{ImageID: "missing", Operations: []domain.Operation{{Type: domain.OpResize, Params: params(map[string]int{"width": 50})}}},
		{ImageID: "img1", Operations: []domain.Operation{{Type: "rotate"}}},
		{ImageID: "img1", Operations: []domain.Operation{{Type: domain.OpFilter, Params: params(map[string]int{"blur": 2})}}},
	}

	results := f.m.SubmitBatch(context.Background(), alice, items)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}

	assert.NotEmpty(t, results[0].TaskID)
	assert.True(t, domain.IsValidation(results[1].Err))
	assert.ErrorIs(t, results[2].Err, domain.ErrImageNotFound)
	assert.True(t, domain.IsValidation(results[3].Err))
	assert.NotEmpty(t, results[4].TaskID)
	assert.Equal(t, 2, f.queue.Len())
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", resizeTo(20, 10))
	require.NoError(t, err)
	f.runQueued(t)
	res, err := f.m.GetResult(ctx, task.ID, alice)
	require.NoError(t, err)

	require.NoError(t, f.m.Delete(ctx, task.ID, alice))
	_, ok := f.objects.ContentType(res.OutputPath)
	assert.False(t, ok)
	_, err = f.m.GetTask(ctx, task.ID, alice)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	running, err := f.m.Submit(ctx, alice, "img1", resizeTo(20, 10))
	require.NoError(t, err)
	require.NoError(t, f.tasks.UpdateStatus(ctx, running.ID, domain.StateProcessing, ""))
	assert.True(t, domain.IsConflict(f.m.Delete(ctx, running.ID, alice)))
}

func TestGetResultRequiresCompletion(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})

	task, err := f.m.Submit(context.Background(), alice, "img1", resizeTo(20, 10))
	require.NoError(t, err)

	_, err = f.m.GetResult(context.Background(), task.ID, alice)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)
}

func TestAwait(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()

	task, err := f.m.Submit(ctx, alice, "img1", resizeTo(20, 10))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	seen, err := f.m.Await(short, task.ID, alice)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, seen)
	assert.Equal(t, domain.StatePending, seen.State)

	go func() {
		_ = f.m.Execute(ctx, domain.DispatchMessage{TaskID: task.ID, UserID: alice})
	}()

	done, err := f.m.Await(ctx, task.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, done.State)
}

func TestFailStuck(t *testing.T) {
	f := newFixture(t, nil, 10, Config{StuckAfter: 10 * time.Minute})
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, f.tasks.Create(ctx, &domain.ProcessingTask{
		ID: "stuck", UserID: alice, ImageID: "img1", State: domain.StateProcessing, CreatedAt: old, UpdatedAt: old,
	}))
	require.NoError(t, f.tasks.Create(ctx, &domain.ProcessingTask{
		ID: "fresh", UserID: alice, ImageID: "img1", State: domain.StateProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	n, err := f.m.FailStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stuck := f.state(t, "stuck")
	assert.Equal(t, domain.StateFailed, stuck.State)
	assert.Equal(t, domain.MessageStuckTimeout, stuck.ErrorMessage)
	assert.Equal(t, domain.StateProcessing, f.state(t, "fresh").State)
}

func TestRecoverPending(t *testing.T) {
	f := newFixture(t, nil, 10, Config{})
	ctx := context.Background()
	old := time.Now().Add(-time.Minute)

	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, f.tasks.Create(ctx, &domain.ProcessingTask{
			ID: id, UserID: alice, ImageID: "img1", Options: resizeTo(10, 10),
			State: domain.StatePending, CreatedAt: old, UpdatedAt: old,
		}))
	}

	n, err := f.m.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.runQueued(t)
	assert.Equal(t, domain.StateCompleted, f.state(t, "p1").State)
	assert.Equal(t, domain.StateCompleted, f.state(t, "p2").State)
}

func TestHistoryClampsPaging(t *testing.T) {
	f := newFixture(t, nil, 200, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.m.Submit(ctx, alice, "img1", resizeTo(10, 10))
		require.NoError(t, err)
	}

	tasks, total, err := f.m.History(ctx, alice, domain.TaskFilter{}, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, tasks, 3)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = f.m.History(ctx, alice, domain.TaskFilter{DateFrom: &from, DateTo: &to}, 1, 10)
	assert.True(t, domain.IsValidation(err))
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "crop.width", fieldPath("ProcessingOptions.Crop.Width"))
	assert.Equal(t, "watermark.fontSize", fieldPath("ProcessingOptions.Watermark.FontSize"))
}
