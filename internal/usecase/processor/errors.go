package processor

import "errors"

var (
	ErrNoEncoder      = errors.New("no encoder registered for format")
	ErrInvalidQuality = errors.New("quality must be between 1 and 100")
)

// Stage names reported in TransformError.
const (
	StageDecode      = "decode"
	StageResize      = "resize"
	StageCrop        = "crop"
	StageFilter      = "filter"
	StageCompression = "compression"
	StageWatermark   = "watermark"
	StageEncode      = "encode"
)
