package operations

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"image-pipeline/internal/domain"

	"github.com/disintegration/imaging"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Process applies the non-zero adjustments in the order brightness, contrast,
// saturation, hue, blur, sharpen.
func (f *Filterer) Process(ctx context.Context, img image.Image, opts domain.FilterOptions) (image.Image, error) {
	if err := checkFilterRanges(opts); err != nil {
		return nil, err
	}

	out := img
	if opts.Brightness != 0 {
		out = imaging.AdjustBrightness(out, opts.Brightness)
	}
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	if opts.Saturation != 0 {
		out = imaging.AdjustSaturation(out, opts.Saturation)
	}
	if opts.Hue != 0 {
		out = rotateHue(out, opts.Hue)
	}
	if opts.Blur != 0 {
		out = imaging.Blur(out, opts.Blur)
	}
	if opts.Sharpen != 0 {
		out = imaging.Sharpen(out, opts.Sharpen)
	}

	return out, nil
}

func checkFilterRanges(opts domain.FilterOptions) error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"brightness", opts.Brightness, -100, 100},
		{"contrast", opts.Contrast, -100, 100},
		{"saturation", opts.Saturation, -100, 100},
		{"hue", opts.Hue, -180, 180},
		{"blur", opts.Blur, 0, 50},
		{"sharpen", opts.Sharpen, 0, 50},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || c.value < c.min || c.value > c.max {
			return fmt.Errorf("%w: %s=%v not in [%v,%v]", ErrInvalidFilterValue, c.name, c.value, c.min, c.max)
		}
	}
	return nil
}

func rotateHue(img image.Image, degrees float64) *image.NRGBA {
	shift := degrees / 360
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		h, s, l := rgbToHSL(c.R, c.G, c.B)
		h = math.Mod(h+shift+1, 1)
		r, g, b := hslToRGB(h, s, l)
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
}

func rgbToHSL(r, g, b uint8) (h, s, l float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	hi := math.Max(rf, math.Max(gf, bf))
	lo := math.Min(rf, math.Min(gf, bf))
	l = (hi + lo) / 2

	if hi == lo {
		return 0, 0, l
	}

	d := hi - lo
	if l > 0.5 {
		s = d / (2 - hi - lo)
	} else {
		s = d / (hi + lo)
	}

	switch hi {
	case rf:
		h = (gf - bf) / d
		if gf < bf {
			h += 6
		}
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	return h / 6, s, l
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := clampByte(l * 255)
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	return clampByte(hueToRGB(p, q, h+1.0/3) * 255),
		clampByte(hueToRGB(p, q, h) * 255),
		clampByte(hueToRGB(p, q, h-1.0/3) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
