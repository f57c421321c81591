package operations

import (
	"context"
	"fmt"
	"image"

	"image-pipeline/internal/domain"

	"github.com/disintegration/imaging"
)

type Cropper struct{}

func NewCropper() *Cropper {
	return &Cropper{}
}

// Process extracts the requested rectangle. Unlike imaging.Crop it refuses
// rectangles that are not fully inside the current image.
func (c *Cropper) Process(ctx context.Context, img image.Image, opts domain.CropOptions) (image.Image, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.X < 0 || opts.Y < 0 {
		return nil, fmt.Errorf("%w: %dx%d at (%d,%d)", ErrInvalidDimensions, opts.Width, opts.Height, opts.X, opts.Y)
	}

	bounds := img.Bounds()
	rect := image.Rect(opts.X, opts.Y, opts.X+opts.Width, opts.Y+opts.Height).Add(bounds.Min)
	if !rect.In(bounds) {
		return nil, fmt.Errorf("%w: rectangle %dx%d at (%d,%d) exceeds %dx%d image",
			ErrCropOutOfBounds, opts.Width, opts.Height, opts.X, opts.Y, bounds.Dx(), bounds.Dy())
	}

	return imaging.Crop(img, rect), nil
}
