package generation

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbn-studio/internal/model"
)

func decodeGeneration(t *testing.T, body string) (model.GenerationResult, error) {
	t.Helper()
	var raw rawGeneration
	require.NoError(t, sonic.UnmarshalString(body, &raw))
	return normalizeGeneration(raw)
}

func TestNormalizeGeneration_NamingConventions(t *testing.T) {
	want := model.GenerationResult{
		Preview:     "p",
		Template:    "t",
		TemplateSVG: "<svg/>",
		ColorKey:    "k",
		RegionCount: 120,
		ColorsUsed:  2,
		Dimensions:  model.Dimensions{Width: 800, Height: 400},
	}

	snake, err := decodeGeneration(t, `{"preview":"p","template":"t","template_svg":"<svg/>","color_key":"k","region_count":120,"colors_used":2,"dimensions":{"width":800,"height":400}}`)
	require.NoError(t, err)
	assert.Equal(t, want, snake)

	camel, err := decodeGeneration(t, `{"preview":"p","template":"t","templateSvg":"<svg/>","colorKey":"k","regionCount":120,"colorsUsed":2,"dimensions":{"width":800,"height":400}}`)
	require.NoError(t, err)
	assert.Equal(t, want, camel)
}

func TestNormalizeGeneration_CamelWinsWhenBothPresent(t *testing.T) {
	got, err := decodeGeneration(t, `{"preview":"p","template":"t","regionCount":7,"region_count":9,"colors_used":3,"colorsUsed":4,"dimensions":{"width":1,"height":1}}`)
	require.NoError(t, err)
	assert.Equal(t, 7, got.RegionCount)
	assert.Equal(t, 4, got.ColorsUsed)
}

func TestNormalizeGeneration_DefaultsWhenAbsent(t *testing.T) {
	got, err := decodeGeneration(t, `{"preview":"p","template":"t","dimensions":{"width":3.6,"height":2.2}}`)
	require.NoError(t, err)
	assert.Zero(t, got.RegionCount)
	assert.Zero(t, got.ColorsUsed)
	assert.Empty(t, got.TemplateSVG)
	assert.Empty(t, got.ColorKey)
	assert.Equal(t, model.Dimensions{Width: 4, Height: 2}, got.Dimensions)
}

func TestNormalizeGeneration_NegativeCountsBecomeZero(t *testing.T) {
	got, err := decodeGeneration(t, `{"preview":"p","template":"t","region_count":-5,"dimensions":{"width":1,"height":1}}`)
	require.NoError(t, err)
	assert.Zero(t, got.RegionCount)
}

func TestNormalizeAnalysis_CoverageSpellings(t *testing.T) {
	for _, key := range []string{"coverage", "colorCoverage", "color_coverage"} {
		t.Run(key, func(t *testing.T) {
			var raw rawAnalysis
			require.NoError(t, sonic.UnmarshalString(`{"`+key+`":{"A":{"pixelCount":5,"percentage":50}}}`, &raw))
			got := normalizeAnalysis(raw)
			assert.Equal(t, model.ColorCoverage{PixelCount: 5, Percentage: 50}, got.Coverage["A"])
			assert.NotNil(t, got.Quality)
			assert.NotNil(t, got.Recommendations)
		})
	}
}

func TestNormalizeAnalysis_QualityCamelWins(t *testing.T) {
	var raw rawAnalysis
	require.NoError(t, sonic.UnmarshalString(`{"quality_metrics":{"edge_density":1},"qualityMetrics":{"edgeDensity":2}}`, &raw))
	assert.Equal(t, map[string]float64{"edgeDensity": 2}, normalizeAnalysis(raw).Quality)
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "edgeDensity", camelCase("edge_density"))
	assert.Equal(t, "a", camelCase("a"))
	assert.Equal(t, "leadingUnderscore", camelCase("_leading_underscore"))
	assert.Equal(t, "alreadyCamel", camelCase("alreadyCamel"))
}

func TestDecodeDataURL(t *testing.T) {
	b, mime, err := DecodeDataURL("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("hello"), b)

	b, mime, err = DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Empty(t, mime)
	assert.Equal(t, []byte("hello"), b)

	b, mime, err = DecodeDataURL(`  <svg xmlns="http://www.w3.org/2000/svg"/>`)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", mime)
	assert.Contains(t, string(b), "<svg")

	b, mime, err = DecodeDataURL("data:image/svg+xml,<svg/>")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", mime)
	assert.Equal(t, "<svg/>", string(b))

	_, _, err = DecodeDataURL("")
	assert.Error(t, err)
	_, _, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)
	_, _, err = DecodeDataURL("!!!not base64!!!")
	assert.Error(t, err)
}

func TestTracker_MonotonicAndTerminal(t *testing.T) {
	rec := &recorder{}
	tr := newTracker(rec)

	tr.report(0)
	tr.report(10)
	tr.report(5)
	tr.report(10)
	tr.report(150)
	tr.report(42)
	tr.complete()
	tr.report(60)
	tr.complete()

	assert.Equal(t, []int{0, 10, 99, 100}, rec.snapshot())
}

func TestTracker_NilObserver(t *testing.T) {
	tr := newTracker(nil)
	assert.NotPanics(t, func() {
		tr.report(20)
		tr.complete()
	})
}

func TestKindCategory(t *testing.T) {
	assert.Equal(t, CategoryValidation, KindValidation.Category())
	assert.Equal(t, CategoryProcessing, KindProcessing.Category())
	assert.Equal(t, CategoryTransport, KindTimeout.Category())
	assert.Equal(t, CategoryTransport, KindConnectivity.Category())
	assert.Equal(t, CategoryRemote, KindPayloadTooLarge.Category())
	assert.Equal(t, Kind(""), KindOf(assert.AnError))
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("")
	require.NoError(t, err)
	assert.Equal(t, ThresholdProfile, p)

	p, err = ProfileByName(" Complexity ")
	require.NoError(t, err)
	assert.Equal(t, ComplexityProfile, p)

	_, err = ProfileByName("vector")
	assert.Error(t, err)

	bad := ThresholdProfile
	bad.DetailMin = 200
	assert.Error(t, bad.Validate())
}
