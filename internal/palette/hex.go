package palette

import (
	"fmt"
	"strings"

	"pbn-studio/internal/model"

	"github.com/lucasb-eyer/go-colorful"
)

// NearDuplicateDistance is a CIEDE2000 delta-E of 2 in go-colorful's 0..1
// scale; swatches closer than this are practically the same paint.
const NearDuplicateDistance = 0.02

func Hex(c model.RGB) string {
	return toColorful(c).Hex()
}

// ParseHex accepts "#rrggbb", "rrggbb" and the short "#rgb" form.
func ParseHex(s string) (model.RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return model.RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return model.RGB{R: r, G: g, B: b}, nil
}

// NearestDuplicate returns the id of the first entry that is perceptually
// indistinguishable from c.
func (p *Palette) NearestDuplicate(c model.RGB) (string, bool) {
	target := toColorful(c)
	bestID := ""
	best := NearDuplicateDistance
	for _, pc := range p.colors {
		d := target.DistanceCIEDE2000(toColorful(pc.RGB))
		if d < best {
			best = d
			bestID = pc.ID
		}
	}
	return bestID, bestID != ""
}

func toColorful(c model.RGB) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255.0, G: float64(c.G) / 255.0, B: float64(c.B) / 255.0}
}
