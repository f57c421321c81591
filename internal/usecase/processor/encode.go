package processor

import (
	"image"
	"image/png"
	"io"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/usecase/processor/pngopt"

	"github.com/disintegration/imaging"
)

func imagingEncoder(format imaging.Format) Encoder {
	return EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
		switch format {
		case imaging.JPEG:
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
		case imaging.PNG:
			return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(quality)))
		default:
			return imaging.Encode(w, img, format)
		}
	})
}

// optimizedPNG is the entropy-optimizing PNG path.
func optimizedPNG() Encoder {
	return EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
		return pngopt.NewEncoder(zlibLevel(quality)).Encode(w, img)
	})
}

func defaultEncoders() map[domain.ImageFormat]Encoder {
	return map[domain.ImageFormat]Encoder{
		domain.FormatJPG:  imagingEncoder(imaging.JPEG),
		domain.FormatPNG:  optimizedPNG(),
		domain.FormatGIF:  imagingEncoder(imaging.GIF),
		domain.FormatBMP:  imagingEncoder(imaging.BMP),
		domain.FormatTIFF: imagingEncoder(imaging.TIFF),
	}
}

// pngLevel maps quality onto the standard library PNG levels. Lower quality
// asks for more compression effort, the output stays lossless.
func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality <= 50:
		return png.BestCompression
	case quality < 90:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}

// zlibLevel maps quality 1..100 onto zlib levels 9..1.
func zlibLevel(quality int) int {
	return 9 - (quality-1)*8/99
}
