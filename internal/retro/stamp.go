package retro

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultLayout renders dates like 2024.08.17.
const DefaultLayout = "2006.01.02"

const (
	stampHeightRatio = 0.04
	stampMarginRatio = 0.03
)

var (
	stampColor  = color.NRGBA{R: 255, G: 166, B: 0, A: 242}
	shadowColor = color.NRGBA{A: 204}
)

// StampDate draws at, formatted with layout, into the bottom-right corner of a
// copy of img. The text is scaled to roughly 4% of the short side.
func StampDate(img image.Image, at time.Time, layout string) *image.NRGBA {
	if layout == "" {
		layout = DefaultLayout
	}
	out := imaging.Clone(img)
	b := out.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	if short == 0 {
		return out
	}

	text := at.Format(layout)
	face := basicfont.Face7x13
	scale := float64(short) * stampHeightRatio / float64(face.Height)
	if scale < 1 {
		scale = 1
	}
	glyphs := renderText(text, stampColor)
	shadow := renderText(text, shadowColor)
	w := uint(math.Round(float64(glyphs.Bounds().Dx()) * scale))
	h := uint(math.Round(float64(glyphs.Bounds().Dy()) * scale))
	glyphsScaled := resize.Resize(w, h, glyphs, resize.NearestNeighbor)
	shadowScaled := resize.Resize(w, h, shadow, resize.NearestNeighbor)

	margin := int(math.Round(float64(short) * stampMarginRatio))
	offset := int(math.Round(scale))
	origin := image.Pt(b.Max.X-int(w)-margin, b.Max.Y-int(h)-margin)

	shadowRect := image.Rectangle{Min: origin.Add(image.Pt(offset, offset)), Max: origin.Add(image.Pt(offset+int(w), offset+int(h)))}
	draw.Draw(out, shadowRect, shadowScaled, shadowScaled.Bounds().Min, draw.Over)
	textRect := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(int(w), int(h)))}
	draw.Draw(out, textRect, glyphsScaled, glyphsScaled.Bounds().Min, draw.Over)
	return out
}

// renderText draws text at the font's native size on a transparent canvas.
func renderText(text string, col color.Color) *image.NRGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	canvas := image.NewNRGBA(image.Rect(0, 0, width, face.Height))
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)
	return canvas
}
