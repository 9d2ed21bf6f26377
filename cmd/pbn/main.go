// Command pbn turns one photo into a paint-by-number template using the
// remote generation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"

	"pbn-studio/internal/config"
	"pbn-studio/internal/generation"
	"pbn-studio/internal/imageproc"
	"pbn-studio/internal/model"
	"pbn-studio/internal/palette"
)

func main() {
	var (
		imagePath   string
		palettePath string
		colors      string
		suggest     int
		detail      int
		outDir      string
		showNumbers bool
		fillRegions bool
	)
	flag.StringVar(&imagePath, "image", "", "source photo (png/jpeg/webp, max 10MB)")
	flag.StringVar(&palettePath, "palette", "", "palette JSON: [{\"id\":\"1\",\"rgb\":[r,g,b],\"note\":\"\"}]")
	flag.StringVar(&colors, "colors", "", "comma separated hex colors, used when -palette is empty")
	flag.IntVar(&suggest, "suggest", 0, "derive N dominant colors from the photo when no palette is given")
	flag.IntVar(&detail, "detail", 0, "detail level (0 uses the profile default)")
	flag.StringVar(&outDir, "out", "./out", "output directory")
	flag.BoolVar(&showNumbers, "numbers", true, "ask for region numbers (vector profile only)")
	flag.BoolVar(&fillRegions, "fill", false, "ask for filled regions (vector profile only)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := run(logger, imagePath, palettePath, colors, suggest, detail, outDir, showNumbers, fillRegions); err != nil {
		var ge *generation.Error
		if errors.As(err, &ge) {
			fmt.Fprintf(os.Stderr, "pbn: %s\n", ge.Message)
		} else {
			fmt.Fprintf(os.Stderr, "pbn: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(logger *slog.Logger, imagePath, palettePath, colors string, suggest, detail int, outDir string, showNumbers, fillRegions bool) error {
	if imagePath == "" {
		return errors.New("-image is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	profile, err := cfg.GenerationProfile()
	if err != nil {
		return err
	}

	src, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}

	pal, err := loadPalette(src, palettePath, colors, suggest)
	if err != nil {
		return err
	}
	if detail == 0 {
		detail = profile.DefaultDetail
	}

	client, err := generation.NewClient(generation.Config{
		BaseURL:       cfg.Service.BaseURL,
		Profile:       profile,
		Timeout:       cfg.Service.Timeout,
		HealthTimeout: cfg.Service.HealthTimeout,
		Normalize:     cfg.NormalizeOptions(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := generation.ObserverFunc(func(p int) {
		fmt.Fprintf(os.Stderr, "\rgenerating... %3d%%", p)
		if p == 100 {
			fmt.Fprintln(os.Stderr)
		}
	})
	res, err := client.Generate(ctx, generation.Request{
		Image:       src,
		Palette:     pal.Colors(),
		Detail:      detail,
		ShowNumbers: showNumbers,
		FillRegions: fillRegions,
	}, progress)
	if err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	return writeResult(outDir, res)
}

// loadPalette builds the palette from a file, a hex list, or the photo itself,
// in that order of preference.
func loadPalette(src []byte, path, hexList string, suggest int) (*palette.Palette, error) {
	p := palette.New()
	switch {
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var entries []model.PaletteColor
		if err := sonic.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("parse palette %s: %w", path, err)
		}
		for _, e := range entries {
			if _, err := p.Add(e); err != nil {
				return nil, fmt.Errorf("palette entry %q: %w", e.ID, err)
			}
		}
	case hexList != "":
		for _, h := range strings.Split(hexList, ",") {
			rgb, err := palette.ParseHex(strings.TrimSpace(h))
			if err != nil {
				return nil, err
			}
			if _, err := p.Add(model.PaletteColor{RGB: rgb}); err != nil {
				return nil, err
			}
		}
	case suggest > 0:
		img, err := imageproc.Decode(src)
		if err != nil {
			return nil, err
		}
		for _, rgb := range imageproc.SuggestColors(img, suggest) {
			if _, err := p.Add(model.PaletteColor{RGB: rgb}); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func writeResult(dir string, res model.GenerationResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	parts := []struct {
		name    string
		payload string
	}{
		{"preview", res.Preview},
		{"template", res.Template},
		{"template-vector", res.TemplateSVG},
		{"color-key", res.ColorKey},
	}
	for _, part := range parts {
		if part.payload == "" {
			continue
		}
		data, mime, err := generation.DecodeDataURL(part.payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", part.name, err)
		}
		path := filepath.Join(dir, part.name+extFor(mime, data))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "wrote", path)
	}

	summary := res
	summary.Preview, summary.Template, summary.TemplateSVG, summary.ColorKey = "", "", "", ""
	b, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "result.json"), b, 0o644)
}

func extFor(mime string, data []byte) string {
	if mime == "" {
		mime = imageproc.DetectType(data)
	}
	switch {
	case strings.Contains(mime, "svg"):
		return ".svg"
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "jpeg"):
		return ".jpg"
	case strings.Contains(mime, "webp"):
		return ".webp"
	default:
		return ".bin"
	}
}
