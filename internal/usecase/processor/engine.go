package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/usecase/processor/operations"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/webp"
)

type StageMetric struct {
	Name     string
	Duration time.Duration
	Width    int
	Height   int
}

type Metrics struct {
	Duration   time.Duration
	InputSize  int64
	OutputSize int64
	Width      int
	Height     int
	Format     domain.ImageFormat
	Metadata   domain.ImageMetadata
	Stages     []StageMetric
}

type EngineOption func(*Engine)

// WithEncoder registers enc for format, replacing any built-in encoder. It is
// how webp and avif output is enabled.
func WithEncoder(format domain.ImageFormat, enc Encoder) EngineOption {
	return func(e *Engine) {
		e.encoders[domain.NormalizeFormat(string(format))] = enc
	}
}

// Engine runs the fixed resize, crop, filter, compression, watermark pipeline
// over a single encoded image.
type Engine struct {
	resizer     *operations.Resizer
	cropper     *operations.Cropper
	filterer    *operations.Filterer
	watermarker *operations.Watermarker
	encoders    map[domain.ImageFormat]Encoder
	fallbackPNG Encoder
	logger      *zlog.Zerolog

	mu       sync.RWMutex
	ready    bool
	closed   bool
	inflight sync.WaitGroup
}

func NewEngine(logger *zlog.Zerolog, opts ...EngineOption) *Engine {
	e := &Engine{
		resizer:     operations.NewResizer(),
		cropper:     operations.NewCropper(),
		filterer:    operations.NewFilterer(),
		encoders:    defaultEncoders(),
		fallbackPNG: imagingEncoder(imaging.PNG),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init loads the watermark font. Execute fails until Init succeeds.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return domain.ErrEngineClosed
	}
	if e.ready {
		return nil
	}

	wm, err := operations.NewWatermarker()
	if err != nil {
		return fmt.Errorf("failed to init watermarker: %w", err)
	}
	e.watermarker = wm
	e.ready = true

	formats := make([]string, 0, len(e.encoders))
	for f := range e.encoders {
		formats = append(formats, string(f))
	}
	e.logger.Info().Strs("encoders", formats).Msg("Transform engine initialized")
	return nil
}

// Shutdown rejects new executions and waits for running ones to finish.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	e.logger.Info().Msg("Transform engine stopped")
}

func (e *Engine) acquire() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed || !e.ready {
		return domain.ErrEngineClosed
	}
	e.inflight.Add(1)
	return nil
}

// CanEncode reports whether an encoder is registered for format.
func (e *Engine) CanEncode(format domain.ImageFormat) bool {
	_, ok := e.encoders[domain.NormalizeFormat(string(format))]
	return ok
}

// Execute applies opts to input. Stage failures are returned as
// *domain.TransformError; a cancelled ctx is returned unwrapped.
func (e *Engine) Execute(ctx context.Context, input []byte, opts domain.ProcessingOptions) ([]byte, Metrics, error) {
	if err := e.acquire(); err != nil {
		return nil, Metrics{}, err
	}
	defer e.inflight.Done()

	metrics := Metrics{InputSize: int64(len(input))}

	if opts.Empty() {
		metrics.OutputSize = metrics.InputSize
		if cfg, name, err := image.DecodeConfig(bytes.NewReader(input)); err == nil {
			metrics.Width, metrics.Height = cfg.Width, cfg.Height
			metrics.Format = domain.NormalizeFormat(name)
		}
		return input, metrics, nil
	}

	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, Metrics{}, err
	}

	img, srcFormat, err := decode(input)
	if err != nil {
		return nil, Metrics{}, &domain.TransformError{Stage: StageDecode, Cause: err}
	}

	if opts.Resize != nil {
		img, err = e.stage(ctx, &metrics, StageResize, img, func() (image.Image, error) {
			return e.resizer.Process(ctx, img, *opts.Resize)
		})
		if err != nil {
			return nil, Metrics{}, err
		}
	}

	if opts.Crop != nil {
		img, err = e.stage(ctx, &metrics, StageCrop, img, func() (image.Image, error) {
			return e.cropper.Process(ctx, img, *opts.Crop)
		})
		if err != nil {
			return nil, Metrics{}, err
		}
	}

	if opts.Filter != nil {
		img, err = e.stage(ctx, &metrics, StageFilter, img, func() (image.Image, error) {
			return e.filterer.Process(ctx, img, *opts.Filter)
		})
		if err != nil {
			return nil, Metrics{}, err
		}
	}

	settings := e.outputSettings(srcFormat, opts.Compression)

	var (
		out     []byte
		encoded bool
	)
	if opts.Compression != nil {
		if err := ctx.Err(); err != nil {
			return nil, Metrics{}, err
		}
		started := time.Now()
		out, err = e.encode(settings, img)
		metrics.Stages = append(metrics.Stages, stageMetric(StageCompression, started, img))
		if err != nil {
			return nil, Metrics{}, &domain.TransformError{Stage: StageCompression, Cause: err}
		}
		encoded = true
	}

	if opts.Watermark != nil {
		var anchor image.Point
		img, err = e.stage(ctx, &metrics, StageWatermark, img, func() (image.Image, error) {
			src := img
			if encoded {
				// Composite onto what compression produced, then re-encode
				// with the same settings.
				if src, err = imaging.Decode(bytes.NewReader(out)); err != nil {
					return nil, fmt.Errorf("failed to decode compressed output: %w", err)
				}
			}
			marked, at, err := e.watermarker.Process(ctx, src, *opts.Watermark)
			if err != nil {
				return nil, err
			}
			anchor = at
			if encoded {
				if out, err = e.encode(settings, marked); err != nil {
					return nil, err
				}
			}
			return marked, nil
		})
		if err != nil {
			return nil, Metrics{}, err
		}
		e.logger.Debug().
			Str("position", string(opts.Watermark.Position)).
			Int("x", anchor.X).
			Int("y", anchor.Y).
			Msg("Watermark placed")
	}

	if !encoded {
		if err := ctx.Err(); err != nil {
			return nil, Metrics{}, err
		}
		if out, err = e.encode(settings, img); err != nil {
			return nil, Metrics{}, &domain.TransformError{Stage: StageEncode, Cause: err}
		}
	}

	bounds := img.Bounds()
	metrics.Duration = time.Since(start)
	metrics.OutputSize = int64(len(out))
	metrics.Width = bounds.Dx()
	metrics.Height = bounds.Dy()
	metrics.Format = settings.format

	if meta, err := Inspect(out); err == nil {
		metrics.Metadata = meta
	} else {
		e.logger.Debug().Err(err).Str("format", string(settings.format)).Msg("Output metadata unavailable")
	}

	e.logger.Debug().
		Str("source_format", string(srcFormat)).
		Str("format", string(settings.format)).
		Int("stages", len(metrics.Stages)).
		Int64("input_size", metrics.InputSize).
		Int64("output_size", metrics.OutputSize).
		Dur("duration", metrics.Duration).
		Msg("Pipeline finished")

	return out, metrics, nil
}

func (e *Engine) stage(ctx context.Context, m *Metrics, name string, img image.Image, fn func() (image.Image, error)) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	out, err := fn()
	m.Stages = append(m.Stages, stageMetric(name, started, img))
	if err != nil {
		return nil, &domain.TransformError{Stage: name, Cause: err}
	}
	return out, nil
}

func stageMetric(name string, started time.Time, img image.Image) StageMetric {
	b := img.Bounds()
	return StageMetric{Name: name, Duration: time.Since(started), Width: b.Dx(), Height: b.Dy()}
}

type encodeSettings struct {
	format   domain.ImageFormat
	quality  int
	optimize bool
}

// outputSettings keeps the source format when no compression stage is
// present and it can be written back, otherwise falls back to png.
func (e *Engine) outputSettings(src domain.ImageFormat, c *domain.CompressionOptions) encodeSettings {
	if c != nil {
		return encodeSettings{
			format:   domain.NormalizeFormat(string(c.Format)),
			quality:  c.Quality,
			optimize: c.Optimize,
		}
	}
	if e.CanEncode(src) {
		return encodeSettings{format: src, quality: domain.DefaultJPEGQuality}
	}
	return encodeSettings{format: domain.FormatPNG, quality: domain.DefaultJPEGQuality}
}

func (e *Engine) encode(s encodeSettings, img image.Image) ([]byte, error) {
	if s.quality < 1 || s.quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, s.quality)
	}

	enc, ok := e.encoders[s.format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEncoder, s.format)
	}

	quality := s.quality
	if s.optimize && s.format == domain.FormatPNG {
		quality = 1
	}

	var buf bytes.Buffer
	err := enc.Encode(&buf, img, quality)
	if err != nil && s.format == domain.FormatPNG {
		e.logger.Warn().Err(err).Int("quality", s.quality).Msg("Optimized png encoding failed, using generic encoder")
		buf.Reset()
		err = e.fallbackPNG.Encode(&buf, img, s.quality)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.format, err)
	}

	return buf.Bytes(), nil
}

func decode(data []byte) (image.Image, domain.ImageFormat, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s image: %w", name, err)
	}

	return img, domain.NormalizeFormat(name), nil
}
