package pngopt

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrNotPNG = errors.New("not a png stream")

// Header is the content of the IHDR chunk.
type Header struct {
	Width       int
	Height      int
	BitDepth    uint8
	ColorType   uint8
	Compression uint8
	Filter      uint8
	Interlace   uint8
}

// ParseHeader reads the IHDR chunk that must follow the signature.
func ParseHeader(data []byte) (Header, error) {
	const ihdrEnd = 8 + 8 + 13
	if len(data) < ihdrEnd || !bytes.Equal(data[:8], Signature) {
		return Header{}, ErrNotPNG
	}
	if binary.BigEndian.Uint32(data[8:12]) != 13 || string(data[12:16]) != "IHDR" {
		return Header{}, ErrNotPNG
	}

	h := data[16:ihdrEnd]
	return Header{
		Width:       int(binary.BigEndian.Uint32(h[0:4])),
		Height:      int(binary.BigEndian.Uint32(h[4:8])),
		BitDepth:    h[8],
		ColorType:   h[9],
		Compression: h[10],
		Filter:      h[11],
		Interlace:   h[12],
	}, nil
}
