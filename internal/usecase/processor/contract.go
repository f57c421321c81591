package processor

import (
	"image"
	"io"
)

// Encoder writes img in a single output format. quality is in [1,100].
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

type EncoderFunc func(w io.Writer, img image.Image, quality int) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image, quality int) error {
	return f(w, img, quality)
}
