package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"pbn-studio/internal/generation"
	"pbn-studio/internal/imageproc"
	"pbn-studio/internal/model"
	"pbn-studio/internal/palette"
	"pbn-studio/internal/storage"
	"pbn-studio/internal/ws"
)

var (
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrNoImage              = errors.New("no image selected")
	ErrUnknownColor         = errors.New("palette color not found")
	ErrInvalidCount         = fmt.Errorf("count must be between 1 and %d", imageproc.MaxSuggestedColors)
	// ErrAttemptDiscarded is returned by Generate when the image was cleared
	// or replaced while the attempt was in flight.
	ErrAttemptDiscarded = errors.New("generation discarded: image changed during the attempt")
)

// Generator is the part of generation.Client the session drives.
type Generator interface {
	Profile() generation.Profile
	Validate(req generation.Request) error
	Generate(ctx context.Context, req generation.Request, obs generation.Observer) (model.GenerationResult, error)
	Analyze(ctx context.Context, image []byte, palette []model.PaletteColor) (model.AnalysisResult, error)
	Health(ctx context.Context) (model.HealthStatus, error)
}

// Publisher receives session events; *ws.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, payload any)
}

type Config struct {
	Generator Generator
	// Store is optional; without it the session lives in memory only.
	Store        *storage.Store
	Events       Publisher
	Logger       *slog.Logger
	SampleWindow int
}

type ImageInfo struct {
	MIME   string `json:"mime"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ErrorView struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Status   int    `json:"status,omitempty"`
}

type GenerationStatus struct {
	State      generation.State `json:"state"`
	Processing bool             `json:"processing"`
	AttemptID  string           `json:"attempt_id,omitempty"`
	Progress   int              `json:"progress"`
	LastError  *ErrorView       `json:"last_error,omitempty"`
}

// Options carries the per-attempt inputs besides image and palette.
type Options struct {
	Detail      int
	ShowNumbers bool
	FillRegions bool
}

type SampleResult struct {
	Color           model.PaletteColor `json:"color"`
	NearDuplicateOf string             `json:"near_duplicate_of,omitempty"`
}

// Session is the single-user studio state: one source image, one palette,
// at most one result and at most one attempt in flight.
type Session struct {
	gen          Generator
	store        *storage.Store
	events       Publisher
	log          *slog.Logger
	sampleWindow int

	mu      sync.Mutex
	image   []byte
	decoded image.Image
	info    *ImageInfo
	palette *palette.Palette
	result  *model.GenerationResult
	status  GenerationStatus
	// attempt is the token of the attempt whose outcome may still be
	// applied; "" when none.
	attempt string
	cancel  context.CancelFunc
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.Generator == nil {
		return nil, errors.New("session: generator required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	window := cfg.SampleWindow
	if window <= 0 {
		window = imageproc.DefaultSampleWindow
	}
	s := &Session{
		gen:          cfg.Generator,
		store:        cfg.Store,
		events:       cfg.Events,
		log:          log.With("component", "session"),
		sampleWindow: window,
		palette:      palette.New(),
		status:       GenerationStatus{State: generation.StateIdle},
	}
	if s.store != nil {
		s.palette = palette.New(s.store.Palette()...)
		s.result = s.store.LatestResult()
	}
	return s, nil
}

func (s *Session) Profile() generation.Profile {
	return s.gen.Profile()
}

// SetImage validates and decodes data and makes it the current image. Any
// result and any pending attempt belong to the old image and are dropped.
func (s *Session) SetImage(data []byte) (ImageInfo, error) {
	mime, err := imageproc.ValidateSource(data)
	if err != nil {
		return ImageInfo{}, err
	}
	img, err := imageproc.Decode(data)
	if err != nil {
		return ImageInfo{}, err
	}
	b := img.Bounds()
	info := ImageInfo{MIME: mime, Bytes: len(data), Width: b.Dx(), Height: b.Dy()}

	s.mu.Lock()
	s.invalidateAttemptLocked()
	s.image = append([]byte(nil), data...)
	s.decoded = img
	s.info = &info
	s.result = nil
	err = s.persistResultLocked()
	s.mu.Unlock()

	s.publish(ws.EventImageUpdated, info)
	return info, err
}

// ClearImage drops the image and result. A response for an attempt started
// before the clear is discarded when it arrives.
func (s *Session) ClearImage() error {
	s.mu.Lock()
	s.invalidateAttemptLocked()
	s.image = nil
	s.decoded = nil
	s.info = nil
	s.result = nil
	err := s.persistResultLocked()
	s.mu.Unlock()

	s.publish(ws.EventImageCleared, nil)
	return err
}

func (s *Session) Image() ([]byte, ImageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil, ImageInfo{}, false
	}
	return append([]byte(nil), s.image...), *s.info, true
}

func (s *Session) Palette() []model.PaletteColor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.palette.Colors()
}

func (s *Session) Result() *model.GenerationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

func (s *Session) Status() GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.LastError != nil {
		e := *st.LastError
		st.LastError = &e
	}
	return st
}

// AddColor appends c; an empty id is allocated automatically.
func (s *Session) AddColor(c model.PaletteColor) (model.PaletteColor, error) {
	return s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		return p.Add(c)
	})
}

// RemoveColor is idempotent: an unknown id is not an error.
func (s *Session) RemoveColor(id string) (bool, error) {
	var removed bool
	_, err := s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		removed = p.Remove(id)
		return model.PaletteColor{}, nil
	})
	return removed, err
}

func (s *Session) UpdateNote(id, note string) (model.PaletteColor, error) {
	return s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		if !p.UpdateNote(id, note) {
			return model.PaletteColor{}, ErrUnknownColor
		}
		c, _ := p.Get(id)
		return c, nil
	})
}

func (s *Session) UpdateColor(id string, rgb model.RGB) (model.PaletteColor, error) {
	return s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		if !p.UpdateColor(id, rgb) {
			return model.PaletteColor{}, ErrUnknownColor
		}
		c, _ := p.Get(id)
		return c, nil
	})
}

// SampleColor averages a window around center (the image centre when nil)
// and appends the color to the palette. source overrides the current image
// when non-empty.
func (s *Session) SampleColor(source []byte, center *image.Point) (SampleResult, error) {
	var img image.Image
	if len(source) > 0 {
		if _, err := imageproc.ValidateSource(source); err != nil {
			return SampleResult{}, err
		}
		decoded, err := imageproc.Decode(source)
		if err != nil {
			return SampleResult{}, err
		}
		img = decoded
	} else {
		s.mu.Lock()
		img = s.decoded
		s.mu.Unlock()
		if img == nil {
			return SampleResult{}, ErrNoImage
		}
	}

	rgb, err := imageproc.Sample(img, center, s.sampleWindow)
	if err != nil {
		return SampleResult{}, err
	}

	var dup string
	c, err := s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		if id, ok := p.NearestDuplicate(rgb); ok {
			dup = id
		}
		return p.Add(model.PaletteColor{RGB: rgb})
	})
	if err != nil {
		return SampleResult{}, err
	}
	return SampleResult{Color: c, NearDuplicateOf: dup}, nil
}

// SuggestPalette appends n dominant colors of the current image.
func (s *Session) SuggestPalette(n int) ([]model.PaletteColor, error) {
	if n < 1 || n > imageproc.MaxSuggestedColors {
		return nil, ErrInvalidCount
	}
	s.mu.Lock()
	img := s.decoded
	s.mu.Unlock()
	if img == nil {
		return nil, ErrNoImage
	}

	suggested := imageproc.SuggestColors(img, n)
	added := make([]model.PaletteColor, 0, len(suggested))
	_, err := s.mutatePalette(func(p *palette.Palette) (model.PaletteColor, error) {
		for _, rgb := range suggested {
			c, err := p.Add(model.PaletteColor{RGB: rgb})
			if err != nil {
				return model.PaletteColor{}, err
			}
			added = append(added, c)
		}
		return model.PaletteColor{}, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// mutatePalette applies fn and, when it succeeds, clears the stale result,
// persists, and announces the new palette.
func (s *Session) mutatePalette(fn func(p *palette.Palette) (model.PaletteColor, error)) (model.PaletteColor, error) {
	s.mu.Lock()
	c, err := fn(s.palette)
	if err != nil {
		s.mu.Unlock()
		return model.PaletteColor{}, err
	}
	s.result = nil
	colors := s.palette.Colors()
	perr := s.persistLocked()
	s.mu.Unlock()

	s.publish(ws.EventPaletteUpdated, colors)
	return c, perr
}

// Generate runs one attempt and blocks until it finishes.
func (s *Session) Generate(ctx context.Context, opts Options) (model.GenerationResult, error) {
	token, req, runCtx, err := s.begin(ctx, opts)
	if err != nil {
		return model.GenerationResult{}, err
	}
	return s.run(runCtx, token, req)
}

// GenerateAsync starts an attempt in the background and returns its id.
// Validation failures are reported synchronously.
func (s *Session) GenerateAsync(opts Options) (string, error) {
	token, req, runCtx, err := s.begin(context.Background(), opts)
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = s.run(runCtx, token, req)
	}()
	return token, nil
}

func (s *Session) begin(parent context.Context, opts Options) (string, generation.Request, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Processing {
		return "", generation.Request{}, nil, ErrGenerationInProgress
	}
	req := generation.Request{
		Image:       s.image,
		Palette:     s.palette.Colors(),
		Detail:      opts.Detail,
		ShowNumbers: opts.ShowNumbers,
		FillRegions: opts.FillRegions,
	}
	if err := s.gen.Validate(req); err != nil {
		s.status = GenerationStatus{State: generation.StateFailed, LastError: errorView(err)}
		return "", generation.Request{}, nil, err
	}

	token := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	s.attempt = token
	s.cancel = cancel
	s.status = GenerationStatus{
		State:      generation.StateValidating,
		Processing: true,
		AttemptID:  token,
	}
	s.log.Info("generation started", "attempt", token, "detail", opts.Detail, "colors", len(req.Palette))
	return token, req, ctx, nil
}

func (s *Session) run(ctx context.Context, token string, req generation.Request) (model.GenerationResult, error) {
	res, err := s.gen.Generate(ctx, req, &attemptObserver{s: s, token: token})
	return s.finish(token, res, err)
}

func (s *Session) finish(token string, res model.GenerationResult, genErr error) (model.GenerationResult, error) {
	s.mu.Lock()
	if s.attempt != token {
		s.mu.Unlock()
		s.log.Info("discarding late generation outcome", "attempt", token)
		return model.GenerationResult{}, ErrAttemptDiscarded
	}
	s.attempt = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if genErr != nil {
		s.result = nil
		s.status = GenerationStatus{
			State:     generation.StateFailed,
			AttemptID: token,
			Progress:  s.status.Progress,
			LastError: errorView(genErr),
		}
		view := *s.status.LastError
		perr := s.persistResultLocked()
		s.mu.Unlock()

		if perr != nil {
			s.log.Warn("persist after failure", "err", perr)
		}
		s.log.Warn("generation failed", "attempt", token, "kind", view.Kind, "err", genErr)
		s.publish(ws.EventGenerationFailed, map[string]any{"attempt_id": token, "error": view})
		return model.GenerationResult{}, genErr
	}

	res.AttemptID = token
	s.result = &res
	s.status = GenerationStatus{
		State:     generation.StateSucceeded,
		AttemptID: token,
		Progress:  100,
	}
	perr := s.persistResultLocked()
	s.mu.Unlock()

	if perr != nil {
		s.log.Warn("persist result", "err", perr)
	}
	s.publish(ws.EventGenerationSucceeded, map[string]any{
		"attempt_id":   token,
		"region_count": res.RegionCount,
		"colors_used":  res.ColorsUsed,
		"dimensions":   res.Dimensions,
	})
	return res, nil
}

// Analyze reports palette coverage for the current image.
func (s *Session) Analyze(ctx context.Context) (model.AnalysisResult, error) {
	s.mu.Lock()
	img := s.image
	colors := s.palette.Colors()
	s.mu.Unlock()
	if len(img) == 0 {
		return model.AnalysisResult{}, ErrNoImage
	}
	return s.gen.Analyze(ctx, img, colors)
}

func (s *Session) Health(ctx context.Context) (model.HealthStatus, error) {
	return s.gen.Health(ctx)
}

// Close cancels the attempt in flight, if any.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateAttemptLocked()
}

func (s *Session) invalidateAttemptLocked() {
	if s.attempt == "" {
		return
	}
	s.log.Info("invalidating pending generation", "attempt", s.attempt)
	s.attempt = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.status = GenerationStatus{State: generation.StateIdle}
}

func (s *Session) persistLocked() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SetPalette(s.palette.Colors()); err != nil {
		return err
	}
	return s.store.SetLatestResult(s.result)
}

func (s *Session) persistResultLocked() error {
	if s.store == nil {
		return nil
	}
	return s.store.SetLatestResult(s.result)
}

func (s *Session) publish(eventType string, payload any) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}

// attemptObserver forwards client progress into the session while its
// attempt is still current.
type attemptObserver struct {
	s     *Session
	token string
}

func (o *attemptObserver) Progress(percent int) {
	o.s.mu.Lock()
	if o.s.attempt != o.token {
		o.s.mu.Unlock()
		return
	}
	o.s.status.Progress = percent
	state := o.s.status.State
	o.s.mu.Unlock()

	o.s.publish(ws.EventGenerationProgress, map[string]any{
		"attempt_id": o.token,
		"percent":    percent,
		"state":      state,
	})
}

func (o *attemptObserver) State(st generation.State) {
	// Terminal states are applied by finish, together with the outcome.
	if st.Terminal() {
		return
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.attempt != o.token {
		return
	}
	o.s.status.State = st
}

func errorView(err error) *ErrorView {
	var ge *generation.Error
	if errors.As(err, &ge) {
		return &ErrorView{
			Kind:     string(ge.Kind),
			Category: string(ge.Kind.Category()),
			Message:  ge.Message,
			Status:   ge.Status,
		}
	}
	return &ErrorView{Kind: "internal", Category: "internal", Message: err.Error()}
}
