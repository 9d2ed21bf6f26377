package imageproc

import (
	"image"

	"pbn-studio/internal/model"

	"github.com/cenkalti/dominantcolor"
	"github.com/disintegration/imaging"
)

const (
	MaxSuggestedColors = 12
	suggestEdge        = 256
)

// SuggestColors returns up to n dominant colors of img, most dominant first.
// The image is shrunk first; dominance does not need full resolution.
func SuggestColors(img image.Image, n int) []model.RGB {
	if n <= 0 {
		return nil
	}
	if n > MaxSuggestedColors {
		n = MaxSuggestedColors
	}
	small := imaging.Fit(img, suggestEdge, suggestEdge, imaging.Box)
	found := dominantcolor.FindN(small, n)
	out := make([]model.RGB, 0, len(found))
	for _, c := range found {
		out = append(out, model.RGB{R: c.R, G: c.G, B: c.B})
	}
	return out
}
