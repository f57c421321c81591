package domain

import (
	"encoding/json"
	"fmt"
)

// ImageMetadata describes an encoded image. Each format has its own concrete
// type; use a type switch to reach format specific fields.
type ImageMetadata interface {
	Kind() ImageFormat
	Dimensions() (width, height int)
}

type PNGMetadata struct {
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	BitDepth   uint8 `json:"bit_depth"`
	ColorType  uint8 `json:"color_type"`
	Interlaced bool  `json:"interlaced"`
}

func (m PNGMetadata) Kind() ImageFormat          { return FormatPNG }
func (m PNGMetadata) Dimensions() (int, int)     { return m.Width, m.Height }
func (m PNGMetadata) HasAlpha() bool             { return m.ColorType == 4 || m.ColorType == 6 }
func (m PNGMetadata) Paletted() bool             { return m.ColorType == 3 }
func (m JPEGMetadata) Kind() ImageFormat         { return FormatJPG }
func (m JPEGMetadata) Dimensions() (int, int)    { return m.Width, m.Height }
func (m GIFMetadata) Kind() ImageFormat          { return FormatGIF }
func (m GIFMetadata) Dimensions() (int, int)     { return m.Width, m.Height }
func (m GenericMetadata) Kind() ImageFormat      { return m.Format }
func (m GenericMetadata) Dimensions() (int, int) { return m.Width, m.Height }

type JPEGMetadata struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorModel string `json:"color_model"`
}

type GIFMetadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Frames int `json:"frames"`
}

// GenericMetadata covers formats without format specific fields.
type GenericMetadata struct {
	Format ImageFormat `json:"format"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

type metadataEnvelope struct {
	Kind ImageFormat     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func MarshalMetadata(m ImageMetadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	kind := m.Kind()
	if _, ok := m.(GenericMetadata); ok {
		kind = "generic"
	}

	return json.Marshal(metadataEnvelope{Kind: kind, Data: data})
}

func UnmarshalMetadata(raw []byte) (ImageMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata envelope: %w", err)
	}

	var (
		m   ImageMetadata
		err error
	)
	switch env.Kind {
	case FormatPNG:
		var v PNGMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case FormatJPG:
		var v JPEGMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case FormatGIF:
		var v GIFMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case "generic":
		var v GenericMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s metadata: %w", env.Kind, err)
	}

	return m, nil
}
