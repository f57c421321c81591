package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/usecase/processor/pngopt"
)

// Inspect reads the header of an encoded image and returns its typed metadata.
func Inspect(data []byte) (domain.ImageMetadata, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	switch domain.NormalizeFormat(name) {
	case domain.FormatPNG:
		hdr, err := pngopt.ParseHeader(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse png header: %w", err)
		}
		return domain.PNGMetadata{
			Width:      hdr.Width,
			Height:     hdr.Height,
			BitDepth:   hdr.BitDepth,
			ColorType:  hdr.ColorType,
			Interlaced: hdr.Interlace != 0,
		}, nil
	case domain.FormatJPG:
		return domain.JPEGMetadata{
			Width:      cfg.Width,
			Height:     cfg.Height,
			ColorModel: colorModelName(cfg.ColorModel),
		}, nil
	case domain.FormatGIF:
		frames := 1
		if g, err := gif.DecodeAll(bytes.NewReader(data)); err == nil {
			frames = len(g.Image)
		}
		return domain.GIFMetadata{Width: cfg.Width, Height: cfg.Height, Frames: frames}, nil
	default:
		return domain.GenericMetadata{
			Format: domain.NormalizeFormat(name),
			Width:  cfg.Width,
			Height: cfg.Height,
		}, nil
	}
}

func colorModelName(m color.Model) string {
	switch m {
	case color.YCbCrModel:
		return "ycbcr"
	case color.GrayModel:
		return "gray"
	case color.CMYKModel:
		return "cmyk"
	case color.RGBAModel:
		return "rgba"
	default:
		return "other"
	}
}
