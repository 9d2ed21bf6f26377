package generation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"unicode"

	"pbn-studio/internal/model"
)

// The service answers in either camelCase or snake_case. Each raw struct lists
// both spellings; the normalize* functions below are the only place that
// chooses between them. camelCase is the canonical spelling and wins when
// both are present; missing counters become 0 and missing optional rasters
// stay empty.

type rawDimensions struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type rawGeneration struct {
	Success          *bool          `json:"success"`
	Detail           string         `json:"detail"`
	Preview          string         `json:"preview"`
	Template         string         `json:"template"`
	TemplateSVG      *string        `json:"templateSvg"`
	TemplateSVGSnake *string        `json:"template_svg"`
	ColorKey         *string        `json:"colorKey"`
	ColorKeySnake    *string        `json:"color_key"`
	RegionCount      *float64       `json:"regionCount"`
	RegionCountSnake *float64       `json:"region_count"`
	ColorsUsed       *float64       `json:"colorsUsed"`
	ColorsUsedSnake  *float64       `json:"colors_used"`
	Dimensions       *rawDimensions `json:"dimensions"`
}

var (
	errIncompleteResult = errors.New("response is missing preview, template or dimensions")
	errUnsuccessful     = errors.New("service reported success=false")
)

// normalizeGeneration maps a decoded response onto the canonical result.
// It fails rather than returning a partially populated result.
func normalizeGeneration(raw rawGeneration) (model.GenerationResult, error) {
	if raw.Success != nil && !*raw.Success {
		return model.GenerationResult{}, errUnsuccessful
	}

	res := model.GenerationResult{
		Preview:     raw.Preview,
		Template:    raw.Template,
		TemplateSVG: pickString(raw.TemplateSVG, raw.TemplateSVGSnake),
		ColorKey:    pickString(raw.ColorKey, raw.ColorKeySnake),
		RegionCount: pickCount(raw.RegionCount, raw.RegionCountSnake),
		ColorsUsed:  pickCount(raw.ColorsUsed, raw.ColorsUsedSnake),
	}
	if raw.Dimensions != nil {
		res.Dimensions = model.Dimensions{
			Width:  pickCount(raw.Dimensions.Width, nil),
			Height: pickCount(raw.Dimensions.Height, nil),
		}
	}

	if res.Preview == "" || res.Template == "" || res.Dimensions.Width <= 0 || res.Dimensions.Height <= 0 {
		return model.GenerationResult{}, errIncompleteResult
	}
	return res, nil
}

type rawCoverage struct {
	PixelCount       *float64 `json:"pixelCount"`
	PixelCountSnake  *float64 `json:"pixel_count"`
	Percentage       *float64 `json:"percentage"`
	AvgDistance      *float64 `json:"avgDistance"`
	AvgDistanceSnake *float64 `json:"avg_distance"`
}

type rawAnalysis struct {
	Coverage            map[string]rawCoverage `json:"coverage"`
	ColorCoverage       map[string]rawCoverage `json:"colorCoverage"`
	ColorCoverageSnake  map[string]rawCoverage `json:"color_coverage"`
	QualityMetrics      map[string]float64     `json:"qualityMetrics"`
	QualityMetricsSnake map[string]float64     `json:"quality_metrics"`
	Recommendations     []model.Recommendation `json:"recommendations"`
	Detail              string                 `json:"detail"`
}

func normalizeAnalysis(raw rawAnalysis) model.AnalysisResult {
	src := raw.ColorCoverage
	if src == nil {
		src = raw.Coverage
	}
	if src == nil {
		src = raw.ColorCoverageSnake
	}

	out := model.AnalysisResult{
		Coverage:        make(map[string]model.ColorCoverage, len(src)),
		Quality:         map[string]float64{},
		Recommendations: []model.Recommendation{},
	}
	for id, c := range src {
		out.Coverage[id] = model.ColorCoverage{
			PixelCount:  pickCount(c.PixelCount, c.PixelCountSnake),
			Percentage:  pickFloat(c.Percentage, nil),
			AvgDistance: pickFloat(c.AvgDistance, c.AvgDistanceSnake),
		}
	}

	// Snake keys first so an explicit camelCase key overwrites its twin.
	for _, k := range sortedKeys(raw.QualityMetricsSnake) {
		out.Quality[camelCase(k)] = raw.QualityMetricsSnake[k]
	}
	for _, k := range sortedKeys(raw.QualityMetrics) {
		out.Quality[camelCase(k)] = raw.QualityMetrics[k]
	}

	for _, r := range raw.Recommendations {
		if strings.TrimSpace(r.Message) == "" {
			continue
		}
		out.Recommendations = append(out.Recommendations, r)
	}
	return out
}

type rawHealth struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Features json.RawMessage `json:"features"`
}

func normalizeHealth(raw rawHealth) model.HealthStatus {
	return model.HealthStatus{
		Status:   raw.Status,
		Version:  raw.Version,
		Features: decodeFeatures(raw.Features),
	}
}

// decodeFeatures accepts either ["a","b"] or {"a":true,"b":false}.
func decodeFeatures(b json.RawMessage) []string {
	out := []string{}
	if len(b) == 0 {
		return out
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		return append(out, list...)
	}
	var flags map[string]bool
	if err := json.Unmarshal(b, &flags); err == nil {
		for _, k := range sortedKeys(flags) {
			if flags[k] {
				out = append(out, k)
			}
		}
	}
	return out
}

func pickString(canonical, alt *string) string {
	if canonical != nil && *canonical != "" {
		return *canonical
	}
	if alt != nil {
		return *alt
	}
	return ""
}

func pickFloat(canonical, alt *float64) float64 {
	if canonical != nil {
		return *canonical
	}
	if alt != nil {
		return *alt
	}
	return 0
}

func pickCount(canonical, alt *float64) int {
	v := math.Round(pickFloat(canonical, alt))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return int(v)
}

func camelCase(k string) string {
	parts := strings.Split(k, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeDataURL decodes a raster payload as returned by the service. It
// accepts "data:<mime>;base64,<payload>", bare base64, and inline SVG markup.
func DecodeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", errors.New("empty payload")
	}
	if strings.HasPrefix(s, "<") {
		return []byte(s), "image/svg+xml", nil
	}

	var mime string
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, "", errors.New("malformed data url")
		}
		meta := s[len("data:"):idx]
		payload := s[idx+1:]
		mime = meta
		if semi := strings.IndexByte(meta, ';'); semi >= 0 {
			mime = meta[:semi]
		}
		if !strings.HasSuffix(meta, ";base64") {
			return []byte(payload), mime, nil
		}
		s = payload
	}

	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, mime, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}
