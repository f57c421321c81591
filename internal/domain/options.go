package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type OperationType string

const (
	OpResize      OperationType = "resize"
	OpCrop        OperationType = "crop"
	OpFilter      OperationType = "filter"
	OpCompression OperationType = "compression"
	OpWatermark   OperationType = "watermark"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []OperationType{OpResize, OpCrop, OpFilter, OpCompression, OpWatermark}

type WatermarkPosition string

const (
	WatermarkTopLeft     WatermarkPosition = "top-left"
	WatermarkTopRight    WatermarkPosition = "top-right"
	WatermarkBottomLeft  WatermarkPosition = "bottom-left"
	WatermarkBottomRight WatermarkPosition = "bottom-right"
	WatermarkCenter      WatermarkPosition = "center"
)

const (
	DefaultWatermarkOpacity  = 0.5
	DefaultWatermarkFontSize = 36
	DefaultWatermarkColor    = "255,255,255"
	DefaultJPEGQuality       = 85
)

// ProcessingOptions holds one optional entry per pipeline stage. A nil stage
// is skipped.
type ProcessingOptions struct {
	Resize      *ResizeOptions      `json:"resize,omitempty" validate:"omitempty"`
	Crop        *CropOptions        `json:"crop,omitempty" validate:"omitempty"`
	Filter      *FilterOptions      `json:"filter,omitempty" validate:"omitempty"`
	Compression *CompressionOptions `json:"compression,omitempty" validate:"omitempty"`
	Watermark   *WatermarkOptions   `json:"watermark,omitempty" validate:"omitempty"`
}

type ResizeOptions struct {
	Width               int  `json:"width" validate:"gte=0,lte=10000"`
	Height              int  `json:"height" validate:"gte=0,lte=10000"`
	MaintainAspectRatio bool `json:"maintainAspectRatio"`
}

type CropOptions struct {
	X      int `json:"x" validate:"gte=0"`
	Y      int `json:"y" validate:"gte=0"`
	Width  int `json:"width" validate:"gt=0,lte=10000"`
	Height int `json:"height" validate:"gt=0,lte=10000"`
}

type FilterOptions struct {
	Brightness float64 `json:"brightness" validate:"gte=-100,lte=100"`
	Contrast   float64 `json:"contrast" validate:"gte=-100,lte=100"`
	Saturation float64 `json:"saturation" validate:"gte=-100,lte=100"`
	Hue        float64 `json:"hue" validate:"gte=-180,lte=180"`
	Blur       float64 `json:"blur" validate:"gte=0,lte=50"`
	Sharpen    float64 `json:"sharpen" validate:"gte=0,lte=50"`
}

type CompressionOptions struct {
	Quality  int         `json:"quality" validate:"gte=1,lte=100"`
	Format   ImageFormat `json:"format" validate:"oneof=png jpg jpeg webp avif"`
	Optimize bool        `json:"optimize"`
}

type WatermarkOptions struct {
	Text     string            `json:"text" validate:"required,max=200"`
	Position WatermarkPosition `json:"position" validate:"oneof=top-left top-right bottom-left bottom-right center"`
	Opacity  float64           `json:"opacity" validate:"gte=0,lte=1"`
	FontSize float64           `json:"fontSize,omitempty" validate:"gte=0,lte=500"`
	Color    string            `json:"color,omitempty"`
}

// Empty reports whether every stage is disabled.
func (o ProcessingOptions) Empty() bool {
	return o.Resize == nil && o.Crop == nil && o.Filter == nil && o.Compression == nil && o.Watermark == nil
}

// Stages lists the enabled stages in execution order.
func (o ProcessingOptions) Stages() []OperationType {
	var stages []OperationType
	for _, st := range StageOrder {
		if o.has(st) {
			stages = append(stages, st)
		}
	}
	return stages
}

func (o ProcessingOptions) has(st OperationType) bool {
	switch st {
	case OpResize:
		return o.Resize != nil
	case OpCrop:
		return o.Crop != nil
	case OpFilter:
		return o.Filter != nil
	case OpCompression:
		return o.Compression != nil
	case OpWatermark:
		return o.Watermark != nil
	}
	return false
}

// Check performs the cross-field rules struct tags cannot express.
func (o ProcessingOptions) Check() error {
	if r := o.Resize; r != nil {
		if r.Width == 0 && r.Height == 0 {
			return NewValidationError("resize", "width or height must be positive")
		}
		if r.MaintainAspectRatio && (r.Width == 0 || r.Height == 0) {
			return NewValidationError("resize", "maintainAspectRatio requires both width and height")
		}
	}
	if w := o.Watermark; w != nil && w.Color != "" {
		if _, err := ParseRGB(w.Color); err != nil {
			return NewValidationError("watermark.color", err.Error())
		}
	}
	return nil
}

// Operation is the wire form of a single stage request.
type Operation struct {
	Type    OperationType   `json:"type"`
	Enabled *bool           `json:"enabled,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// OptionsFromOperations folds a caller ordered operation list into options.
// Caller order is discarded; disabled operations are dropped.
func OptionsFromOperations(ops []Operation) (ProcessingOptions, error) {
	var opts ProcessingOptions
	seen := make(map[OperationType]bool, len(ops))

	for i, op := range ops {
		field := fmt.Sprintf("operations[%d]", i)
		t := OperationType(strings.ToLower(string(op.Type)))

		if seen[t] {
			return ProcessingOptions{}, NewValidationError(field, fmt.Sprintf("duplicate %s operation", t))
		}
		seen[t] = true

		if !op.enabled() {
			continue
		}

		var err error
		switch t {
		case OpResize:
			opts.Resize = &ResizeOptions{}
			err = decodeParams(op.Params, opts.Resize)
		case OpCrop:
			opts.Crop = &CropOptions{}
			err = decodeParams(op.Params, opts.Crop)
		case OpFilter:
			opts.Filter = &FilterOptions{}
			err = decodeParams(op.Params, opts.Filter)
		case OpCompression:
			opts.Compression = &CompressionOptions{Quality: DefaultJPEGQuality, Format: FormatJPG}
			err = decodeParams(op.Params, opts.Compression)
			if err == nil {
				opts.Compression.Format = NormalizeFormat(string(opts.Compression.Format))
			}
		case OpWatermark:
			opts.Watermark = &WatermarkOptions{
				Position: WatermarkBottomRight,
				Opacity:  DefaultWatermarkOpacity,
			}
			err = decodeParams(op.Params, opts.Watermark)
		default:
			return ProcessingOptions{}, NewValidationError(field, fmt.Sprintf("unknown operation type %q", op.Type))
		}
		if err != nil {
			return ProcessingOptions{}, NewValidationError(field, err.Error())
		}
	}

	return opts, nil
}

// Operations converts options back to the wire form in execution order.
func (o ProcessingOptions) Operations() []Operation {
	var ops []Operation
	add := func(t OperationType, v any) {
		raw, _ := json.Marshal(v)
		ops = append(ops, Operation{Type: t, Params: raw})
	}
	if o.Resize != nil {
		add(OpResize, o.Resize)
	}
	if o.Crop != nil {
		add(OpCrop, o.Crop)
	}
	if o.Filter != nil {
		add(OpFilter, o.Filter)
	}
	if o.Compression != nil {
		add(OpCompression, o.Compression)
	}
	if o.Watermark != nil {
		add(OpWatermark, o.Watermark)
	}
	return ops
}

// enabled honours both the top level flag and an "enabled" key inside params.
func (op Operation) enabled() bool {
	if op.Enabled != nil {
		return *op.Enabled
	}
	if len(op.Params) == 0 {
		return true
	}
	var flag struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(op.Params, &flag); err != nil || flag.Enabled == nil {
		return true
	}
	return *flag.Enabled
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// ParseRGB parses an "r,g,b" triple.
func ParseRGB(s string) ([3]uint8, error) {
	var rgb [3]uint8
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), ",")
	if len(parts) != 3 {
		return rgb, fmt.Errorf("color must be r,g,b")
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return rgb, fmt.Errorf("color component %q out of range", p)
		}
		rgb[i] = uint8(v)
	}
	return rgb, nil
}
