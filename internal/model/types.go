package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RGB is an 8-bit color triple. On the wire it is the array [r, g, b].
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// DefaultGray is the color given to manually added palette entries.
var DefaultGray = RGB{R: 128, G: 128, B: 128}

func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{int(c.R), int(c.G), int(c.B)})
}

func (c *RGB) UnmarshalJSON(b []byte) error {
	var raw []int
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("rgb must be an array of three integers: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("rgb must have 3 components, got %d", len(raw))
	}
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("rgb component %d out of range [0,255]: %d", i, v)
		}
	}
	*c = RGB{R: uint8(raw[0]), G: uint8(raw[1]), B: uint8(raw[2])}
	return nil
}

type PaletteColor struct {
	ID   string `json:"id"`
	RGB  RGB    `json:"rgb"`
	Note string `json:"note"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GenerationResult is the canonical shape of one successful generation.
// Optional rasters are empty when the service did not produce them.
type GenerationResult struct {
	AttemptID   string     `json:"attemptId,omitempty"`
	Preview     string     `json:"preview"`
	Template    string     `json:"template"`
	TemplateSVG string     `json:"templateSvg,omitempty"`
	ColorKey    string     `json:"colorKey,omitempty"`
	RegionCount int        `json:"regionCount"`
	ColorsUsed  int        `json:"colorsUsed"`
	Dimensions  Dimensions `json:"dimensions"`
	CreatedAt   int64      `json:"createdAtUnixMs"`
}

type ColorCoverage struct {
	PixelCount  int     `json:"pixelCount"`
	Percentage  float64 `json:"percentage"`
	AvgDistance float64 `json:"avgDistance"`
}

type Recommendation struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// AnalysisResult reports how well a palette covers an image.
// Quality metric names are camelCase regardless of what the service sent.
type AnalysisResult struct {
	Coverage        map[string]ColorCoverage `json:"coverage"`
	Quality         map[string]float64       `json:"quality"`
	Recommendations []Recommendation         `json:"recommendations"`
}

type HealthStatus struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

type StoredState struct {
	Palette           []PaletteColor    `json:"palette"`
	LatestResult      *GenerationResult `json:"latest_result,omitempty"`
	LastUpdatedUnixMS int64             `json:"last_updated_unix_ms"`
	CreatedAt         time.Time         `json:"created_at"`
}

type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt int64       `json:"created_at_unix_ms"`
}
