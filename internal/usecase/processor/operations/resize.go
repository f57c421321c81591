package operations

import (
	"context"
	"fmt"
	"image"

	"image-pipeline/internal/domain"

	"github.com/disintegration/imaging"
)

type Resizer struct {
	filter imaging.ResampleFilter
}

func NewResizer() *Resizer {
	return &Resizer{filter: imaging.Lanczos}
}

// Process scales img. With MaintainAspectRatio the result fits inside the
// requested box and is never upscaled; otherwise the exact size is produced and
// a zero side is derived from the source aspect ratio.
func (r *Resizer) Process(ctx context.Context, img image.Image, opts domain.ResizeOptions) (image.Image, error) {
	if opts.Width < 0 || opts.Height < 0 || (opts.Width == 0 && opts.Height == 0) {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, opts.Width, opts.Height)
	}

	var resized *image.NRGBA
	if opts.MaintainAspectRatio {
		if opts.Width == 0 || opts.Height == 0 {
			return nil, fmt.Errorf("%w: aspect-preserving resize needs a full box", ErrInvalidDimensions)
		}
		resized = imaging.Fit(img, opts.Width, opts.Height, r.filter)
	} else {
		resized = imaging.Resize(img, opts.Width, opts.Height, r.filter)
	}

	if resized.Bounds().Empty() {
		return nil, fmt.Errorf("%w: result of %dx%d resize is empty", ErrInvalidDimensions, opts.Width, opts.Height)
	}

	return resized, nil
}
