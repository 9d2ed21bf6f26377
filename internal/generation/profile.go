package generation

import (
	"fmt"
	"strings"
)

// Profile describes one generation flow: which endpoint it calls, the detail
// range its UI promises and what the service is expected to return.
//
// Two flows exist and disagree on the detail range: the capture-to-template
// flow accepts 10..150, the complexity-slider flow 1..100 and also asks for
// vector outputs. The active profile is chosen by configuration and exposed
// on the studio API so the UI can render the right slider.
type Profile struct {
	Name           string `json:"name"`
	Endpoint       string `json:"endpoint"`
	DetailMin      int    `json:"detail_min"`
	DetailMax      int    `json:"detail_max"`
	DefaultDetail  int    `json:"default_detail"`
	MinPaletteSize int    `json:"min_palette_size"`
	VectorOutputs  bool   `json:"vector_outputs"`
}

var (
	ThresholdProfile = Profile{
		Name:           "threshold",
		Endpoint:       "/api/generate",
		DetailMin:      10,
		DetailMax:      150,
		DefaultDetail:  50,
		MinPaletteSize: 2,
	}

	ComplexityProfile = Profile{
		Name:           "complexity",
		Endpoint:       "/api/generate-template",
		DetailMin:      1,
		DetailMax:      100,
		DefaultDetail:  50,
		MinPaletteSize: 1,
		VectorOutputs:  true,
	}
)

func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ThresholdProfile.Name:
		return ThresholdProfile, nil
	case ComplexityProfile.Name:
		return ComplexityProfile, nil
	default:
		return Profile{}, fmt.Errorf("unknown generation profile %q (want %q or %q)", name, ThresholdProfile.Name, ComplexityProfile.Name)
	}
}

func (p Profile) Validate() error {
	if p.DetailMin > p.DetailMax {
		return fmt.Errorf("profile %s: detail min %d exceeds max %d", p.Name, p.DetailMin, p.DetailMax)
	}
	if p.MinPaletteSize < 1 {
		return fmt.Errorf("profile %s: min palette size must be >= 1", p.Name)
	}
	if p.Endpoint == "" {
		return fmt.Errorf("profile %s: endpoint required", p.Name)
	}
	return nil
}

func (p Profile) DetailInRange(detail int) bool {
	return detail >= p.DetailMin && detail <= p.DetailMax
}
