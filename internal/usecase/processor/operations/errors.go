package operations

import "errors"

var (
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrCropOutOfBounds    = errors.New("crop rectangle out of bounds")
	ErrInvalidFilterValue = errors.New("filter value out of range")
	ErrEmptyWatermarkText = errors.New("watermark text is empty")
	ErrInvalidOpacity     = errors.New("opacity must be between 0 and 1")
	ErrInvalidColor       = errors.New("invalid watermark color")
)
