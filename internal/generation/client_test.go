package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbn-studio/internal/imageproc"
	"pbn-studio/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func twoColors() []model.PaletteColor {
	return []model.PaletteColor{
		{ID: "1", RGB: model.RGB{R: 255}, Note: "red"},
		{ID: "2", RGB: model.RGB{B: 255}},
	}
}

const okBody = `{"preview":"data:image/png;base64,AAAA","template":"data:image/png;base64,BBBB","region_count":120,"colors_used":2,"dimensions":{"width":800,"height":400}}`

func newTestClient(t *testing.T, url string, p Profile) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, Profile: p})
	require.NoError(t, err)
	return c
}

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) Progress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p)
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

func TestGenerate_EndToEnd(t *testing.T) {
	var (
		gotThreshold string
		gotPalette   []map[string]any
		gotFileType  string
		gotWidth     int
		gotHeight    int
		extraFields  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))
		gotThreshold = r.FormValue("threshold")
		require.NoError(t, sonic.UnmarshalString(r.FormValue("palette"), &gotPalette))
		for _, k := range []string{"show_numbers", "fill_regions"} {
			if _, ok := r.MultipartForm.Value[k]; ok {
				extraFields = append(extraFields, k)
			}
		}

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotFileType = hdr.Header.Get("Content-Type")
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		gotWidth, gotHeight = cfg.Width, cfg.Height

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	rec := &recorder{}
	res, err := c.Generate(context.Background(), Request{
		Image:   pngBytes(t, 2000, 1000),
		Palette: twoColors(),
		Detail:  50,
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "50", gotThreshold)
	assert.Equal(t, "image/jpeg", gotFileType)
	assert.Equal(t, 1200, gotWidth)
	assert.Equal(t, 600, gotHeight)
	assert.Empty(t, extraFields)
	require.Len(t, gotPalette, 2)
	assert.Equal(t, "1", gotPalette[0]["id"])
	assert.Equal(t, []any{float64(255), float64(0), float64(0)}, gotPalette[0]["rgb"])
	assert.Equal(t, "red", gotPalette[0]["note"])
	assert.Equal(t, "", gotPalette[1]["note"])

	assert.Equal(t, 120, res.RegionCount)
	assert.Equal(t, 2, res.ColorsUsed)
	assert.Equal(t, model.Dimensions{Width: 800, Height: 400}, res.Dimensions)
	assert.NotZero(t, res.CreatedAt)

	values := rec.snapshot()
	require.NotEmpty(t, values)
	assert.Equal(t, 100, values[len(values)-1])
	for i := 1; i < len(values); i++ {
		assert.Greater(t, values[i], values[i-1], "progress must increase: %v", values)
	}
}

func TestGenerate_ComplexityProfileSendsVectorFields(t *testing.T) {
	var showNumbers, fillRegions, threshold string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate-template", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))
		showNumbers = r.FormValue("show_numbers")
		fillRegions = r.FormValue("fill_regions")
		threshold = r.FormValue("threshold")
		_, _ = io.WriteString(w, `{"success":true,"preview":"p","template":"t","templateSvg":"<svg/>","colorKey":"k","regionCount":3,"colorsUsed":1,"dimensions":{"width":10,"height":10}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ComplexityProfile)
	res, err := c.Generate(context.Background(), Request{
		Image:       pngBytes(t, 20, 20),
		Palette:     twoColors()[:1],
		Detail:      1,
		ShowNumbers: true,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "1", threshold)
	assert.Equal(t, "true", showNumbers)
	assert.Equal(t, "false", fillRegions)
	assert.Equal(t, "<svg/>", res.TemplateSVG)
	assert.Equal(t, "k", res.ColorKey)
}

func TestGenerate_ValidationSendsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	img := pngBytes(t, 20, 20)
	tests := []struct {
		name    string
		profile Profile
		req     Request
		msg     string
	}{
		{"no image", ThresholdProfile, Request{Palette: twoColors(), Detail: 50}, msgNoImage},
		{"one color", ThresholdProfile, Request{Image: img, Palette: twoColors()[:1], Detail: 50}, "Please add at least 2 color(s) to the palette."},
		{"below min", ThresholdProfile, Request{Image: img, Palette: twoColors(), Detail: 9}, "Detail must be between 10 and 150."},
		{"above max", ThresholdProfile, Request{Image: img, Palette: twoColors(), Detail: 151}, "Detail must be between 10 and 150."},
		{"complexity empty palette", ComplexityProfile, Request{Image: img, Detail: 50}, "Please add at least 1 color(s) to the palette."},
		{"complexity zero", ComplexityProfile, Request{Image: img, Palette: twoColors(), Detail: 0}, "Detail must be between 1 and 100."},
		{"complexity above", ComplexityProfile, Request{Image: img, Palette: twoColors(), Detail: 101}, "Detail must be between 1 and 100."},
		{"unsupported type", ThresholdProfile, Request{Image: []byte("GIF89a......"), Palette: twoColors(), Detail: 50}, "Please use a PNG, JPEG or WEBP image."},
		{"too large", ThresholdProfile, Request{Image: append(append([]byte{}, img...), make([]byte, imageproc.MaxSourceBytes)...), Palette: twoColors(), Detail: 50}, "Image must be 10MB or smaller."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv.URL, tt.profile)
			rec := &recorder{}
			_, err := c.Generate(context.Background(), tt.req, rec)
			require.Error(t, err)

			var ge *Error
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, KindValidation, ge.Kind)
			assert.Equal(t, tt.msg, ge.Message)
			assert.NotContains(t, rec.snapshot(), 100)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestGenerate_BoundaryDetailAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	for _, d := range []int{10, 150} {
		_, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: d}, nil)
		assert.NoError(t, err, "detail %d", d)
	}
}

func TestGenerate_UndecodableImageIsProcessingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	// Valid PNG signature, garbage afterwards.
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x01}, 64)...)
	c := newTestClient(t, srv.URL, ThresholdProfile)
	_, err := c.Generate(context.Background(), Request{Image: data, Palette: twoColors(), Detail: 50}, nil)
	assert.Equal(t, KindProcessing, KindOf(err))
}

func TestGenerate_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		msg    string
	}{
		{"400 echoes detail", 400, `{"detail":"Palette must contain at least 2 colors"}`, KindInvalidRequest, "Palette must contain at least 2 colors"},
		{"400 list detail", 400, `{"detail":[{"msg":"field required"},{"msg":"bad rgb"}]}`, KindInvalidRequest, "field required; bad rgb"},
		{"413 fixed", 413, `{"detail":"whatever"}`, KindPayloadTooLarge, msgPayloadTooLarge},
		{"415 fixed", 415, ``, KindUnsupportedMediaType, msgUnsupportedMedia},
		{"500 echoes detail", 500, `{"detail":"segmentation failed"}`, KindServerError, "segmentation failed"},
		{"500 without detail", 500, `<html>oops</html>`, KindServerError, "The generation service hit an internal error."},
		{"418 generic", 418, `{"detail":"teapot"}`, KindRequestFailed, "Request failed with status 418: teapot"},
		{"502 generic", 502, ``, KindRequestFailed, "Request failed with status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, ThresholdProfile)
			rec := &recorder{}
			res, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, rec)
			require.Error(t, err)
			assert.Equal(t, model.GenerationResult{}, res)

			var ge *Error
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tt.kind, ge.Kind)
			assert.Equal(t, tt.status, ge.Status)
			assert.Equal(t, tt.msg, ge.Message)
			assert.Equal(t, CategoryRemote, ge.Kind.Category())
			assert.NotContains(t, rec.snapshot(), 100)
		})
	}
}

func TestGenerate_Connectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, ThresholdProfile)
	_, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, nil)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, KindConnectivity, ge.Kind)
	assert.Equal(t, msgConnectivity, ge.Message)
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, nil)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestGenerate_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	c := newTestClient(t, srv.URL, ThresholdProfile)
	_, err := c.Generate(ctx, Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, nil)
	assert.Equal(t, KindCanceled, KindOf(err))
}

func TestGenerate_NoHundredBeforeResponse(t *testing.T) {
	rec := &recorder{}
	var seenAtServer []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		seenAtServer = rec.snapshot()
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	_, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 300, 300), Palette: twoColors(), Detail: 50}, rec)
	require.NoError(t, err)

	require.NotEmpty(t, seenAtServer)
	assert.NotContains(t, seenAtServer, 100)
	assert.Contains(t, seenAtServer, progressUploadStart)
	assert.LessOrEqual(t, seenAtServer[len(seenAtServer)-1], progressUploadEnd)
}

func TestGenerate_IncompleteResponse(t *testing.T) {
	bodies := map[string]string{
		"missing template":   `{"preview":"p","dimensions":{"width":1,"height":1}}`,
		"zero dimensions":    `{"preview":"p","template":"t","dimensions":{"width":0,"height":5}}`,
		"explicit failure":   `{"success":false,"detail":"no regions found","preview":"p","template":"t","dimensions":{"width":1,"height":1}}`,
		"not json":           `definitely not json`,
		"missing dimensions": `{"preview":"p","template":"t"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, ThresholdProfile)
			res, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, nil)
			assert.Equal(t, KindServerError, KindOf(err))
			assert.Equal(t, model.GenerationResult{}, res)
		})
	}
}

func TestGenerate_ColorsUsedClampedToPalette(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"preview":"p","template":"t","colors_used":9,"dimensions":{"width":4,"height":4}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	res, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ColorsUsed)
	assert.Zero(t, res.RegionCount)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.NotEmpty(t, r.FormValue("palette"))
		assert.Empty(t, r.FormValue("threshold"))
		_, _ = io.WriteString(w, `{
			"color_coverage": {"1": {"pixel_count": 40.4, "percentage": 62.5, "avg_distance": 12.25}},
			"quality_metrics": {"edge_density": 0.4, "color_variance": 3},
			"recommendations": [{"type":"palette","message":"Add a darker shade","severity":"info"},{"type":"noop","message":" "}]
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	got, err := c.Analyze(context.Background(), pngBytes(t, 16, 16), twoColors())
	require.NoError(t, err)

	assert.Equal(t, model.ColorCoverage{PixelCount: 40, Percentage: 62.5, AvgDistance: 12.25}, got.Coverage["1"])
	assert.Equal(t, map[string]float64{"edgeDensity": 0.4, "colorVariance": 3}, got.Quality)
	require.Len(t, got.Recommendations, 1)
	assert.Equal(t, "Add a darker shade", got.Recommendations[0].Message)
}

func TestAnalyze_RequiresPalette(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", ThresholdProfile)
	_, err := c.Analyze(context.Background(), pngBytes(t, 4, 4), nil)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestHealth(t *testing.T) {
	tests := map[string]struct {
		body string
		want []string
	}{
		"list":   {`{"status":"ok","version":"1.2.0","features":["svg","analysis"]}`, []string{"svg", "analysis"}},
		"flags":  {`{"status":"ok","features":{"svg":true,"analysis":false,"color_key":true}}`, []string{"color_key", "svg"}},
		"absent": {`{"status":"degraded"}`, []string{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/health", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL+"/", ThresholdProfile)
			got, err := c.Health(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Features)
		})
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, ThresholdProfile, c.Profile())
}

type stateRecorder struct {
	recorder
	states []State
}

func (s *stateRecorder) State(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func TestGenerate_StateTransitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ThresholdProfile)
	rec := &stateRecorder{}
	_, err := c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Palette: twoColors(), Detail: 50}, rec)
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateValidating,
		StateNormalizing,
		StateUploading,
		StateAwaitingResult,
		StateSucceeded,
	}, rec.states)

	failing := &stateRecorder{}
	_, err = c.Generate(context.Background(), Request{Image: pngBytes(t, 8, 8), Detail: 50}, failing)
	require.Error(t, err)
	assert.Equal(t, []State{StateValidating, StateFailed}, failing.states)
}
