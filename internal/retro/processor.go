package retro

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

const thumbnailQuality = 85

// Processor is the capture pipeline used by the photo store: Filter, then
// StampDate, then JPEG encoding.
type Processor struct {
	Quality int
	Layout  string
}

// NewProcessor builds a Processor. Zero values fall back to defaults.
func NewProcessor(quality int, layout string) *Processor {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if layout == "" {
		layout = DefaultLayout
	}
	return &Processor{Quality: quality, Layout: layout}
}

// Process returns the graded, stamped copy of src. If anything inside the
// pipeline fails, src is returned as is.
func (p *Processor) Process(src image.Image, at time.Time) (out image.Image) {
	if src == nil || src.Bounds().Empty() {
		return src
	}
	defer func() {
		if r := recover(); r != nil {
			out = src
		}
	}()
	return StampDate(Filter(src), at, p.Layout)
}

// Encode writes img as JPEG.
func (p *Processor) Encode(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(p.Quality))
}

// Decode reads any registered image format, honouring EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// Thumbnail fits img inside a size x size box, keeping the aspect ratio.
func Thumbnail(img image.Image, size int) image.Image {
	return resize.Thumbnail(uint(size), uint(size), img, resize.Lanczos3)
}

// EncodeThumbnail decodes an encoded image and returns its JPEG thumbnail.
func EncodeThumbnail(r io.Reader, size int) ([]byte, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(Thumbnail(img, size))
}

// obscureSigma is large enough that a thumbnail-sized image keeps only
// its broad colour.
const obscureSigma = 12

// EncodeObscuredThumbnail is EncodeThumbnail with a heavy blur, served while
// a photo is still developing.
func EncodeObscuredThumbnail(r io.Reader, size int) ([]byte, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(imaging.Blur(Thumbnail(img, size), obscureSigma))
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Placeholder draws a deterministic gradient used to seed development data.
// The tint depends on at so seeded photos are told apart in the album.
func Placeholder(width, height int, at time.Time) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	tint := uint8(at.Unix() % 256)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(width, 1)),
				G: uint8(y * 255 / max(height, 1)),
				B: tint,
				A: 255,
			})
		}
	}
	return img
}
