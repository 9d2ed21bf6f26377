package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbn-studio/internal/generation"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadSizeBytes)
	assert.Equal(t, "http://localhost:8000", cfg.Service.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Service.Timeout)
	assert.Equal(t, 1200, cfg.Normalize.MaxWidth)
	assert.InDelta(t, 0.85, cfg.Normalize.Quality, 1e-9)
	assert.Equal(t, 10, cfg.SampleWindow)

	p, err := cfg.GenerationProfile()
	require.NoError(t, err)
	assert.Equal(t, generation.ThresholdProfile, p)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoad_ProfileOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PBN_GENERATION_PROFILE", "complexity")
	t.Setenv("PBN_DETAIL_MAX", "80")
	t.Setenv("PBN_MIN_PALETTE_SIZE", "3")
	t.Setenv("PBN_API_BASE_URL", "https://pbn.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://pbn.example.com", cfg.Service.BaseURL)

	p, err := cfg.GenerationProfile()
	require.NoError(t, err)
	assert.Equal(t, "/api/generate-template", p.Endpoint)
	assert.Equal(t, 1, p.DetailMin)
	assert.Equal(t, 80, p.DetailMax)
	assert.Equal(t, 3, p.MinPaletteSize)
	assert.True(t, p.VectorOutputs)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"unknown profile":    {"PBN_GENERATION_PROFILE", "mosaic"},
		"inverted range":     {"PBN_DETAIL_MIN", "200"},
		"quality too high":   {"NORMALIZE_QUALITY", "1.5"},
		"zero timeout":       {"PBN_GENERATE_TIMEOUT", "0s"},
		"bad duration":       {"PBN_GENERATE_TIMEOUT", "soon"},
		"bad log level":      {"LOG_LEVEL", "chatty"},
		"zero sample window": {"SAMPLE_WINDOW", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
