package operations

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"image-pipeline/internal/domain"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	watermarkDPI    = 72
	minWatermarkPx  = 8
	watermarkMargin = 0.02
)

type Watermarker struct {
	font *truetype.Font
}

func NewWatermarker() (*Watermarker, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse watermark font: %w", err)
	}
	return &Watermarker{font: f}, nil
}

// Process composites the text onto img. The returned point is the top-left
// corner of the text box, resolved against img's own bounds.
func (w *Watermarker) Process(ctx context.Context, img image.Image, opts domain.WatermarkOptions) (image.Image, image.Point, error) {
	if opts.Text == "" {
		return nil, image.Point{}, ErrEmptyWatermarkText
	}
	if math.IsNaN(opts.Opacity) || opts.Opacity < 0 || opts.Opacity > 1 {
		return nil, image.Point{}, fmt.Errorf("%w: %v", ErrInvalidOpacity, opts.Opacity)
	}

	colorStr := opts.Color
	if colorStr == "" {
		colorStr = domain.DefaultWatermarkColor
	}
	rgb, err := domain.ParseRGB(colorStr)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w: %v", ErrInvalidColor, err)
	}

	base := imaging.Clone(img)
	bounds := base.Bounds()

	layer, err := w.renderText(opts.Text, fontSizeFor(bounds, opts.FontSize), color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
	if err != nil {
		return nil, image.Point{}, err
	}

	anchor := WatermarkAnchor(bounds, layer.Bounds().Size(), opts.Position)

	return imaging.Overlay(base, layer, anchor, opts.Opacity), anchor, nil
}

func (w *Watermarker) renderText(text string, size float64, col color.NRGBA) (*image.NRGBA, error) {
	face := truetype.NewFace(w.font, &truetype.Options{Size: size, DPI: watermarkDPI, Hinting: font.HintingFull})
	defer face.Close()

	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: text renders to an empty box", ErrEmptyWatermarkText)
	}

	layer := image.NewNRGBA(image.Rect(0, 0, width, height))

	c := freetype.NewContext()
	c.SetDPI(watermarkDPI)
	c.SetFont(w.font)
	c.SetFontSize(size)
	c.SetClip(layer.Bounds())
	c.SetDst(layer)
	c.SetSrc(image.NewUniform(col))
	c.SetHinting(font.HintingFull)

	if _, err := c.DrawString(text, freetype.Pt(0, metrics.Ascent.Ceil())); err != nil {
		return nil, fmt.Errorf("failed to draw watermark text: %w", err)
	}

	return layer, nil
}

// WatermarkAnchor returns the top-left corner of a text box of the given size
// placed at pos inside bounds. The box is kept inside bounds when it fits.
func WatermarkAnchor(bounds image.Rectangle, text image.Point, pos domain.WatermarkPosition) image.Point {
	margin := int(math.Round(float64(min(bounds.Dx(), bounds.Dy())) * watermarkMargin))

	left := bounds.Min.X + margin
	right := bounds.Max.X - text.X - margin
	top := bounds.Min.Y + margin
	bottom := bounds.Max.Y - text.Y - margin
	centerX := bounds.Min.X + (bounds.Dx()-text.X)/2
	centerY := bounds.Min.Y + (bounds.Dy()-text.Y)/2

	var p image.Point
	switch pos {
	case domain.WatermarkTopLeft:
		p = image.Pt(left, top)
	case domain.WatermarkTopRight:
		p = image.Pt(right, top)
	case domain.WatermarkBottomLeft:
		p = image.Pt(left, bottom)
	case domain.WatermarkCenter:
		p = image.Pt(centerX, centerY)
	default:
		p = image.Pt(right, bottom)
	}

	p.X = max(p.X, bounds.Min.X)
	p.Y = max(p.Y, bounds.Min.Y)
	return p
}

// fontSizeFor picks the requested size, or a default scaled down so the text
// never exceeds a quarter of the image height.
func fontSizeFor(bounds image.Rectangle, requested float64) float64 {
	if requested > 0 {
		return requested
	}
	size := float64(domain.DefaultWatermarkFontSize)
	if limit := float64(bounds.Dy()) / 4; size > limit {
		size = limit
	}
	return math.Max(size, minWatermarkPx)
}
