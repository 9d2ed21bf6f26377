package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"pbn-studio/internal/generation"
	"pbn-studio/internal/imageproc"
)

type Config struct {
	ListenAddr         string        `env:"LISTEN_ADDR" envDefault:":8080"`
	DataPath           string        `env:"DATA_PATH" envDefault:"./data/state.json"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxUploadSizeBytes int64         `env:"MAX_UPLOAD_SIZE_BYTES" envDefault:"10485760"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`

	Service   ServiceConfig
	Normalize NormalizeConfig

	SampleWindow int `env:"SAMPLE_WINDOW" envDefault:"10"`
}

// ServiceConfig points at the remote generation service and selects the
// flow profile. Detail and palette overrides apply on top of the profile.
type ServiceConfig struct {
	BaseURL        string        `env:"PBN_API_BASE_URL" envDefault:"http://localhost:8000"`
	Profile        string        `env:"PBN_GENERATION_PROFILE" envDefault:"threshold"`
	DetailMin      int           `env:"PBN_DETAIL_MIN"`
	DetailMax      int           `env:"PBN_DETAIL_MAX"`
	MinPaletteSize int           `env:"PBN_MIN_PALETTE_SIZE"`
	Timeout        time.Duration `env:"PBN_GENERATE_TIMEOUT" envDefault:"2m"`
	HealthTimeout  time.Duration `env:"PBN_HEALTH_TIMEOUT" envDefault:"5s"`
}

type NormalizeConfig struct {
	MaxWidth  int     `env:"NORMALIZE_MAX_WIDTH" envDefault:"1200"`
	MaxHeight int     `env:"NORMALIZE_MAX_HEIGHT" envDefault:"1200"`
	Quality   float64 `env:"NORMALIZE_QUALITY" envDefault:"0.85"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Service.BaseURL = strings.TrimRight(cfg.Service.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.BaseURL == "" {
		return errors.New("PBN_API_BASE_URL must be set")
	}
	if c.Service.Timeout <= 0 {
		return errors.New("generate timeout must be > 0")
	}
	if c.Service.HealthTimeout <= 0 {
		return errors.New("health timeout must be > 0")
	}
	if c.MaxUploadSizeBytes <= 0 {
		return errors.New("max upload size must be > 0")
	}
	if c.Normalize.MaxWidth <= 0 || c.Normalize.MaxHeight <= 0 {
		return errors.New("normalize max width/height must be > 0")
	}
	if c.Normalize.Quality <= 0 || c.Normalize.Quality > 1 {
		return errors.New("normalize quality must be in (0,1]")
	}
	if c.SampleWindow <= 0 {
		return errors.New("sample window must be > 0")
	}
	if _, err := c.GenerationProfile(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// GenerationProfile resolves the named profile and applies overrides.
func (c Config) GenerationProfile() (generation.Profile, error) {
	p, err := generation.ProfileByName(c.Service.Profile)
	if err != nil {
		return generation.Profile{}, err
	}
	if c.Service.DetailMin > 0 {
		p.DetailMin = c.Service.DetailMin
	}
	if c.Service.DetailMax > 0 {
		p.DetailMax = c.Service.DetailMax
	}
	if c.Service.MinPaletteSize > 0 {
		p.MinPaletteSize = c.Service.MinPaletteSize
	}
	if p.DefaultDetail < p.DetailMin || p.DefaultDetail > p.DetailMax {
		p.DefaultDetail = (p.DetailMin + p.DetailMax) / 2
	}
	if err := p.Validate(); err != nil {
		return generation.Profile{}, err
	}
	return p, nil
}

func (c Config) NormalizeOptions() imageproc.Options {
	return imageproc.Options{
		MaxWidth:  c.Normalize.MaxWidth,
		MaxHeight: c.Normalize.MaxHeight,
		Quality:   c.Normalize.Quality,
	}
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
