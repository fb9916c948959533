// Package retro turns a raw capture into a film-style photo: a fixed colour
// grade, a slight blur and a burned-in date stamp. It also builds album
// thumbnails. Nothing here keeps state.
package retro

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Grade settings. Percentages follow imaging's -100..100 convention.
const (
	contrastPercent   = 10
	saturationPercent = -10
	brightnessPercent = -2
	blurSigma         = 0.8

	// film colour shift: red borrows a little blue, green loses some
	redFromBlue   = 0.03
	greenFromBlue = -0.02
)

// Filter applies the retro grade and returns a new image; img is not touched.
func Filter(img image.Image) *image.NRGBA {
	out := imaging.AdjustContrast(img, contrastPercent)
	out = imaging.AdjustSaturation(out, saturationPercent)
	out = imaging.AdjustBrightness(out, brightnessPercent)
	out = imaging.AdjustFunc(out, filmShift)
	return imaging.Blur(out, blurSigma)
}

func filmShift(c color.NRGBA) color.NRGBA {
	b := float64(c.B)
	c.R = clamp8(float64(c.R) + redFromBlue*b)
	c.G = clamp8(float64(c.G) + greenFromBlue*b)
	return c
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
