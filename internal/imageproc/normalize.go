package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxWidth  = 1200
	DefaultMaxHeight = 1200
	DefaultQuality   = 0.85

	// NormalizedMIME is the single format uploads are re-encoded to.
	NormalizedMIME = "image/jpeg"
)

// Options bound the normalized output. Quality is on a 0..1 scale.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64
}

func DefaultOptions() Options {
	return Options{MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight, Quality: DefaultQuality}
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// Normalized is an upload-ready JPEG payload.
type Normalized struct {
	Data           []byte
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

func (n Normalized) MIME() string {
	return NormalizedMIME
}

// ScaledSize applies scale = min(1, maxW/w, maxH/h) to both sides, rounding to
// the nearest pixel. It never upscales.
func ScaledSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := math.Min(1, math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h)))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return clampInt(nw, 1, w), clampInt(nh, 1, h)
}

// Normalize decodes data, downsizes it to fit opts and re-encodes it as JPEG.
// Transparent areas are flattened onto white.
func Normalize(data []byte, opts Options) (Normalized, error) {
	opts = opts.withDefaults()

	img, err := Decode(data)
	if err != nil {
		return Normalized{}, err
	}
	return NormalizeImage(img, opts)
}

func NormalizeImage(img image.Image, opts Options) (Normalized, error) {
	opts = opts.withDefaults()
	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	if w == 0 || h == 0 {
		return Normalized{}, fmt.Errorf("%w: empty bounds", ErrDecode)
	}

	var scaled image.Image = img
	if w != b.Dx() || h != b.Dy() {
		scaled = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	surface := imaging.New(w, h, color.White)
	if surface.Bounds().Empty() {
		return Normalized{}, ErrSurface
	}
	surface = imaging.Overlay(surface, scaled, image.Pt(0, 0), 1.0)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, surface, imaging.JPEG, imaging.JPEGQuality(jpegQuality(opts.Quality))); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return Normalized{}, ErrEncode
	}

	return Normalized{
		Data:           buf.Bytes(),
		Width:          w,
		Height:         h,
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
	}, nil
}

func jpegQuality(q float64) int {
	return clampInt(int(math.Round(q*100)), 1, 100)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
