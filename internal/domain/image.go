package domain

import (
	"strings"
	"time"
)

// Image is the source record of a processing task. It is created on upload by
// the upload service and is read-only here.
type Image struct {
	ID          string
	UserID      string
	Size        int64
	Width       int
	Height      int
	Format      ImageFormat
	StoragePath string
	CreatedAt   time.Time
}

type ImageFormat string

const (
	FormatJPG  ImageFormat = "jpg"
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatGIF  ImageFormat = "gif"
	FormatWebP ImageFormat = "webp"
	FormatAVIF ImageFormat = "avif"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
)

// NormalizeFormat maps aliases and decoder names onto the canonical format set.
func NormalizeFormat(format string) ImageFormat {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return FormatJPG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	case "avif":
		return FormatAVIF
	case "bmp":
		return FormatBMP
	case "tif", "tiff":
		return FormatTIFF
	default:
		return ImageFormat(strings.ToLower(format))
	}
}

func (f ImageFormat) Extension() string {
	if f == FormatJPEG {
		return string(FormatJPG)
	}
	return string(f)
}

func (f ImageFormat) ContentType() string {
	switch NormalizeFormat(string(f)) {
	case FormatJPG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

const (
	PathPrefixOriginal  = "originals/"
	PathPrefixProcessed = "processed/"
)

// ProcessedPath is the object key of a task output.
func ProcessedPath(imageID, taskID string, format ImageFormat) string {
	return PathPrefixProcessed + imageID + "/" + taskID + "." + format.Extension()
}
