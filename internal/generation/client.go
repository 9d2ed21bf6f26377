// Package generation talks to the remote paint-by-number service: it checks
// a request locally, normalizes the photo, uploads it with the palette and
// detail level, and maps whatever comes back onto model types.
package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"pbn-studio/internal/imageproc"
	"pbn-studio/internal/metrics"
	"pbn-studio/internal/model"
)

const (
	DefaultTimeout       = 2 * time.Minute
	DefaultHealthTimeout = 5 * time.Second

	analyzeEndpoint = "/api/analyze"
	healthEndpoint  = "/api/health"

	// maxResponseBytes bounds how much of a response body is read; results
	// carry base64 rasters so this is generous.
	maxResponseBytes = 64 << 20
)

type Config struct {
	BaseURL       string
	Profile       Profile
	Timeout       time.Duration
	HealthTimeout time.Duration
	Normalize     imageproc.Options
	// HTTPClient is optional; per-attempt deadlines come from contexts.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL       string
	profile       Profile
	timeout       time.Duration
	healthTimeout time.Duration
	normalize     imageproc.Options
	http          *http.Client
	log           *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("generation: base url required")
	}
	profile := cfg.Profile
	if profile.Name == "" {
		profile = ThresholdProfile
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:       base,
		profile:       profile,
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		normalize:     cfg.Normalize,
		http:          hc,
		log:           log.With("component", "generation"),
	}, nil
}

func (c *Client) Profile() Profile {
	return c.profile
}

// Validate runs the local checks Generate starts with.
func (c *Client) Validate(req Request) error {
	if err := c.profile.validate(req); err != nil {
		return err
	}
	if _, err := imageproc.ValidateSource(req.Image); err != nil {
		return validationError(sourceMessage(err), err)
	}
	return nil
}

// Generate runs one attempt end to end. obs may be nil. On any failure the
// returned result is zero and err is an *Error.
func (c *Client) Generate(ctx context.Context, req Request, obs Observer) (res model.GenerationResult, err error) {
	start := time.Now()
	t := newTracker(obs)
	defer func() {
		outcome, kind := "success", ""
		if err != nil {
			outcome, kind = "failure", string(KindOf(err))
			t.enter(StateFailed)
		}
		metrics.GenerationAttempt(outcome, kind, time.Since(start))
	}()

	t.enter(StateValidating)
	t.report(0)
	if err := c.Validate(req); err != nil {
		return model.GenerationResult{}, err
	}

	t.enter(StateNormalizing)
	norm, err := c.normalizeImage(req.Image)
	if err != nil {
		return model.GenerationResult{}, err
	}

	body, contentType, err := multipartBody(norm.Data, norm.MIME(), req.Palette, c.profile.formFields(req))
	if err != nil {
		return model.GenerationResult{}, processingError("Could not prepare the upload.", err)
	}

	t.enter(StateUploading)
	t.report(progressUploadStart)
	var raw rawGeneration
	status, err := c.post(ctx, c.timeout, c.profile.Endpoint, body, contentType, t, &raw)
	if err != nil {
		c.log.Warn("generation failed", "endpoint", c.profile.Endpoint, "status", status, "kind", KindOf(err), "err", err)
		return model.GenerationResult{}, err
	}

	res, err = normalizeGeneration(raw)
	if err != nil {
		c.log.Warn("incomplete generation response", "err", err)
		msg := firstNonEmpty(strings.TrimSpace(raw.Detail), "The generation service returned an incomplete result.")
		return model.GenerationResult{}, &Error{Kind: KindServerError, Status: status, Message: msg, Err: err}
	}
	if res.ColorsUsed > len(req.Palette) {
		c.log.Warn("service reported more colors than submitted", "colors_used", res.ColorsUsed, "palette", len(req.Palette))
		res.ColorsUsed = len(req.Palette)
	}
	res.CreatedAt = time.Now().UnixMilli()

	t.complete()
	t.enter(StateSucceeded)
	c.log.Info("generation succeeded",
		"regions", res.RegionCount,
		"colors_used", res.ColorsUsed,
		"width", res.Dimensions.Width,
		"height", res.Dimensions.Height,
		"elapsed", time.Since(start).String(),
	)
	return res, nil
}

// Analyze asks the service how well palette covers the image.
func (c *Client) Analyze(ctx context.Context, image []byte, palette []model.PaletteColor) (model.AnalysisResult, error) {
	if len(image) == 0 {
		return model.AnalysisResult{}, validationError(msgNoImage, nil)
	}
	if len(palette) == 0 {
		return model.AnalysisResult{}, validationError(fmt.Sprintf(msgPaletteTooThin, 1), nil)
	}
	if _, err := imageproc.ValidateSource(image); err != nil {
		return model.AnalysisResult{}, validationError(sourceMessage(err), err)
	}
	norm, err := c.normalizeImage(image)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	body, contentType, err := multipartBody(norm.Data, norm.MIME(), palette, nil)
	if err != nil {
		return model.AnalysisResult{}, processingError("Could not prepare the upload.", err)
	}

	var raw rawAnalysis
	if _, err := c.post(ctx, c.timeout, analyzeEndpoint, body, contentType, nil, &raw); err != nil {
		return model.AnalysisResult{}, err
	}
	return normalizeAnalysis(raw), nil
}

// Health probes the service with a short deadline.
func (c *Client) Health(ctx context.Context) (model.HealthStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+healthEndpoint, nil)
	if err != nil {
		return model.HealthStatus{}, processingError("Could not build the request.", err)
	}
	var raw rawHealth
	if _, err := c.do(ctx, httpReq, &raw); err != nil {
		return model.HealthStatus{}, err
	}
	return normalizeHealth(raw), nil
}

func (c *Client) normalizeImage(data []byte) (imageproc.Normalized, error) {
	start := time.Now()
	norm, err := imageproc.Normalize(data, c.normalize)
	if err != nil {
		metrics.ImageNormalizeDuration("error", time.Since(start))
		return imageproc.Normalized{}, processingError("Could not process the image. Please try another photo.", err)
	}
	metrics.ImageNormalizeDuration("ok", time.Since(start))
	c.log.Debug("image normalized",
		"from", fmt.Sprintf("%dx%d", norm.OriginalWidth, norm.OriginalHeight),
		"to", fmt.Sprintf("%dx%d", norm.Width, norm.Height),
		"bytes", len(norm.Data),
	)
	return norm, nil
}

// post uploads body under a per-call deadline. When t is set, body reads are
// reported as upload progress.
func (c *Client) post(ctx context.Context, timeout time.Duration, endpoint string, body *bytes.Buffer, contentType string, t *tracker, out any) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	size := int64(body.Len())
	var r io.Reader = body
	if t != nil {
		r = &uploadReader{r: body, t: t, total: size}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+endpoint, r)
	if err != nil {
		return 0, processingError("Could not build the request.", err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	return c.do(ctx, httpReq, out)
}

func (c *Client) do(parent context.Context, httpReq *http.Request, out any) (int, error) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, transportError(parent, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, transportError(parent, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(resp.StatusCode, extractDetail(b))
	}
	if err := sonic.Unmarshal(b, out); err != nil {
		return resp.StatusCode, &Error{Kind: KindServerError, Status: resp.StatusCode, Message: msgInvalidResponse, Err: err}
	}
	return resp.StatusCode, nil
}

// extractDetail pulls a human-readable explanation from an error body. The
// service uses {"detail": "..."}; validation errors may carry a list of
// {"msg": "..."} instead. Anything else falls back to short plain text.
func extractDetail(b []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(b, &body); err != nil {
		text := strings.TrimSpace(string(b))
		if len(text) > 200 || strings.HasPrefix(text, "<") {
			return ""
		}
		return text
	}
	switch d := body.Detail.(type) {
	case string:
		return d
	case []any:
		var msgs []string
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok && s != "" {
					msgs = append(msgs, s)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return firstNonEmpty(body.Message, body.Error)
}

func sourceMessage(err error) string {
	switch {
	case errors.Is(err, imageproc.ErrEmptySource):
		return msgNoImage
	case errors.Is(err, imageproc.ErrSourceTooLarge):
		return "Image must be 10MB or smaller."
	case errors.Is(err, imageproc.ErrUnsupportedType):
		return "Please use a PNG, JPEG or WEBP image."
	default:
		return "The image could not be read."
	}
}
