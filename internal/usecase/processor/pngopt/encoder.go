// Package pngopt is a PNG encoder that trades CPU for size: it reduces the
// color type to the smallest lossless one, picks a filter per row and
// compresses the scanlines with klauspost zlib.
package pngopt

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/draw"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	ColorGray      uint8 = 0
	ColorRGB       uint8 = 2
	ColorPalette   uint8 = 3
	ColorGrayAlpha uint8 = 4
	ColorRGBA      uint8 = 6

	idatChunkSize = 1 << 18
)

var Signature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

var (
	ErrEmptyImage   = errors.New("image has no pixels")
	ErrInvalidLevel = errors.New("compression level must be between 1 and 9")
)

type Encoder struct {
	level int
}

// NewEncoder returns an encoder using the given zlib level (1 fastest, 9 smallest).
func NewEncoder(level int) *Encoder {
	return &Encoder{level: level}
}

func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	if e.level < zlib.BestSpeed || e.level > zlib.BestCompression {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, e.level)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return ErrEmptyImage
	}

	src := toNRGBA(img)
	colorType := reduceColorType(src)
	bpp := bytesPerPixel(colorType)
	width, height := bounds.Dx(), bounds.Dy()

	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Signature); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8
	ihdr[9] = colorType
	if err := writeChunk(bw, "IHDR", ihdr); err != nil {
		return err
	}

	idat := &chunkWriter{w: bw, name: "IDAT"}
	zw, err := zlib.NewWriterLevel(idat, e.level)
	if err != nil {
		return fmt.Errorf("failed to create zlib writer: %w", err)
	}

	rowLen := width * bpp
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	scratch := make([][]byte, FilterPaeth+1)
	for i := range scratch {
		scratch[i] = make([]byte, rowLen)
	}
	line := make([]byte, 1+rowLen)

	for y := 0; y < height; y++ {
		packRow(cur, src, y, colorType)

		ft, filtered := chooseFilter(cur, prev, bpp, scratch)
		line[0] = ft
		copy(line[1:], filtered)

		if _, err := zw.Write(line); err != nil {
			return fmt.Errorf("failed to compress row %d: %w", y, err)
		}
		prev, cur = cur, prev
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zlib stream: %w", err)
	}
	if err := idat.Flush(); err != nil {
		return err
	}
	if err := writeChunk(bw, "IEND", nil); err != nil {
		return err
	}

	return bw.Flush()
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// reduceColorType returns the smallest 8-bit color type that represents src
// without loss.
func reduceColorType(src *image.NRGBA) uint8 {
	opaque, gray := true, true
	for i := 0; i < len(src.Pix); i += 4 {
		p := src.Pix[i : i+4 : i+4]
		if p[3] != 0xff {
			opaque = false
		}
		if p[0] != p[1] || p[1] != p[2] {
			gray = false
		}
		if !opaque && !gray {
			break
		}
	}

	switch {
	case gray && opaque:
		return ColorGray
	case gray:
		return ColorGrayAlpha
	case opaque:
		return ColorRGB
	default:
		return ColorRGBA
	}
}

func bytesPerPixel(colorType uint8) int {
	switch colorType {
	case ColorGray:
		return 1
	case ColorGrayAlpha:
		return 2
	case ColorRGB:
		return 3
	default:
		return 4
	}
}

func packRow(dst []byte, src *image.NRGBA, y int, colorType uint8) {
	row := src.Pix[y*src.Stride : y*src.Stride+src.Rect.Dx()*4]
	switch colorType {
	case ColorGray:
		for x := 0; x*4 < len(row); x++ {
			dst[x] = row[x*4]
		}
	case ColorGrayAlpha:
		for x := 0; x*4 < len(row); x++ {
			dst[x*2] = row[x*4]
			dst[x*2+1] = row[x*4+3]
		}
	case ColorRGB:
		for x := 0; x*4 < len(row); x++ {
			copy(dst[x*3:x*3+3], row[x*4:x*4+3])
		}
	default:
		copy(dst, row)
	}
}

func writeChunk(w io.Writer, name string, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], name)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)

	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	for _, part := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("failed to write %s chunk: %w", name, err)
		}
	}
	return nil
}

// chunkWriter splits a stream into chunks of at most idatChunkSize bytes.
type chunkWriter struct {
	w    io.Writer
	name string
	buf  []byte
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		room := idatChunkSize - len(c.buf)
		take := min(room, len(p))
		c.buf = append(c.buf, p[:take]...)
		p = p[take:]
		if len(c.buf) == idatChunkSize {
			if err := c.Flush(); err != nil {
				return 0, err
			}
		}
	}
	return n, nil
}

func (c *chunkWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	err := writeChunk(c.w, c.name, c.buf)
	c.buf = c.buf[:0]
	return err
}
