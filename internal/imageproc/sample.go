package imageproc

import (
	"image"
	"math"

	"pbn-studio/internal/model"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// DefaultSampleWindow is the side length of the square averaged by Sample.
const DefaultSampleWindow = 10

// SampleWindowBounds returns the square of side window centered on c,
// clipped to bounds. For an even window the center pixel sits just right of
// and below the geometric middle, matching a window starting at c - window/2.
func SampleWindowBounds(bounds image.Rectangle, c image.Point, window int) image.Rectangle {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	half := window / 2
	r := image.Rect(c.X-half, c.Y-half, c.X-half+window, c.Y-half+window)
	return r.Intersect(bounds)
}

// Sample returns the mean color of the window around center. A nil center
// means the image center. The input image is not modified.
func Sample(img image.Image, center *image.Point, window int) (model.RGB, error) {
	b := img.Bounds()
	if b.Empty() {
		return model.RGB{}, ErrSurface
	}
	c := image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
	if center != nil {
		c = *center
	}

	area := SampleWindowBounds(b, c, window)
	if area.Empty() {
		// Center fell outside the raster: clamp it onto the nearest edge pixel.
		c.X = clampInt(c.X, b.Min.X, b.Max.X-1)
		c.Y = clampInt(c.Y, b.Min.Y, b.Max.Y-1)
		area = SampleWindowBounds(b, c, window)
	}

	surface := imaging.Crop(img, area)
	sb := surface.Bounds()
	if sb.Empty() {
		return model.RGB{}, ErrSurface
	}

	n := sb.Dx() * sb.Dy()
	rs := make([]float64, 0, n)
	gs := make([]float64, 0, n)
	bs := make([]float64, 0, n)
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			px := surface.NRGBAAt(x, y)
			rs = append(rs, float64(px.R))
			gs = append(gs, float64(px.G))
			bs = append(bs, float64(px.B))
		}
	}

	return model.RGB{
		R: uint8(math.Round(stat.Mean(rs, nil))),
		G: uint8(math.Round(stat.Mean(gs, nil))),
		B: uint8(math.Round(stat.Mean(bs, nil))),
	}, nil
}

// SampleBytes decodes data and samples it. See Sample.
func SampleBytes(data []byte, center *image.Point, window int) (model.RGB, error) {
	img, err := Decode(data)
	if err != nil {
		return model.RGB{}, err
	}
	return Sample(img, center, window)
}
