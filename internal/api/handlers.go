package api

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"pbn-studio/internal/generation"
	"pbn-studio/internal/imageproc"
	"pbn-studio/internal/model"
	"pbn-studio/internal/palette"
	"pbn-studio/internal/service"
	"pbn-studio/internal/ws"
)

type Handler struct {
	session   *service.Session
	hub       *ws.Hub
	log       *slog.Logger
	maxUpload int64
	upgrader  websocket.Upgrader
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type paletteEntry struct {
	ID   string    `json:"id"`
	RGB  model.RGB `json:"rgb"`
	Hex  string    `json:"hex"`
	Note string    `json:"note"`
}

func toEntry(c model.PaletteColor) paletteEntry {
	return paletteEntry{ID: c.ID, RGB: c.RGB, Hex: palette.Hex(c.RGB), Note: c.Note}
}

func toEntries(colors []model.PaletteColor) []paletteEntry {
	out := make([]paletteEntry, 0, len(colors))
	for _, c := range colors {
		out = append(out, toEntry(c))
	}
	return out
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeErr(w, http.StatusBadRequest, errors.New("websocket upgrade required"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "uri", r.RequestURI, "err", err)
		return
	}
	client := ws.NewClient(h.hub, conn)
	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) Profile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Profile())
}

func (h *Handler) GetPalette(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toEntries(h.session.Palette()))
}

type colorInput struct {
	ID   string     `json:"id"`
	RGB  *model.RGB `json:"rgb"`
	Hex  *string    `json:"hex"`
	Note *string    `json:"note"`
}

// rgb resolves the requested color; rgb wins over hex.
func (in colorInput) rgb() (*model.RGB, error) {
	if in.RGB != nil {
		return in.RGB, nil
	}
	if in.Hex != nil {
		c, err := palette.ParseHex(*in.Hex)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	return nil, nil
}

func (h *Handler) AddColor(w http.ResponseWriter, r *http.Request) {
	var in colorInput
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rgb, err := in.rgb()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	c := model.PaletteColor{ID: in.ID, RGB: model.DefaultGray}
	if rgb != nil {
		c.RGB = *rgb
	}
	if in.Note != nil {
		c.Note = *in.Note
	}
	added, err := h.session.AddColor(c)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntry(added))
}

func (h *Handler) PatchColor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in colorInput
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rgb, err := in.rgb()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if rgb == nil && in.Note == nil {
		writeErr(w, http.StatusBadRequest, errors.New("note, rgb or hex required"))
		return
	}

	var updated model.PaletteColor
	if in.Note != nil {
		if updated, err = h.session.UpdateNote(id, *in.Note); err != nil {
			h.writeServiceErr(w, err)
			return
		}
	}
	if rgb != nil {
		if updated, err = h.session.UpdateColor(id, *rgb); err != nil {
			h.writeServiceErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toEntry(updated))
}

func (h *Handler) DeleteColor(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.RemoveColor(chi.URLParam(r, "id")); err != nil {
		h.writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SampleColor accepts an optional "image" upload plus optional "x" and "y".
// Without an upload the current image is sampled.
func (h *Handler) SampleColor(w http.ResponseWriter, r *http.Request) {
	data, err := h.optionalUpload(r, "image")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	center, err := pointFromForm(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.session.SampleColor(data, center)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"color":             toEntry(res.Color),
		"near_duplicate_of": res.NearDuplicateOf,
	})
}

func (h *Handler) SuggestPalette(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Count int `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	added, err := h.session.SuggestPalette(in.Count)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntries(added))
}

func (h *Handler) PutImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.optionalUpload(r, "image")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("image file required"))
		return
	}
	info, err := h.session.SetImage(data)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) GetImage(w http.ResponseWriter, _ *http.Request) {
	data, info, ok := h.session.Image()
	if !ok {
		writeErr(w, http.StatusNotFound, service.ErrNoImage)
		return
	}
	w.Header().Set("Content-Type", info.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) DeleteImage(w http.ResponseWriter, _ *http.Request) {
	if err := h.session.ClearImage(); err != nil {
		h.writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Detail      *int `json:"detail"`
		ShowNumbers bool `json:"show_numbers"`
		FillRegions bool `json:"fill_regions"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	opts := service.Options{
		Detail:      h.session.Profile().DefaultDetail,
		ShowNumbers: in.ShowNumbers,
		FillRegions: in.FillRegions,
	}
	if in.Detail != nil {
		opts.Detail = *in.Detail
	}
	id, err := h.session.GenerateAsync(opts)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": id})
}

func (h *Handler) GenerationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *Handler) GetResult(w http.ResponseWriter, _ *http.Request) {
	res := h.session.Result()
	if res == nil {
		writeErr(w, http.StatusNotFound, errors.New("no result"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetResultPart serves one decoded raster of the current result.
func (h *Handler) GetResultPart(w http.ResponseWriter, r *http.Request) {
	res := h.session.Result()
	if res == nil {
		writeErr(w, http.StatusNotFound, errors.New("no result"))
		return
	}
	var payload string
	switch chi.URLParam(r, "part") {
	case "preview":
		payload = res.Preview
	case "template":
		payload = res.Template
	case "template-svg":
		payload = res.TemplateSVG
	case "color-key":
		payload = res.ColorKey
	default:
		writeErr(w, http.StatusNotFound, errors.New("unknown result part"))
		return
	}
	if payload == "" {
		writeErr(w, http.StatusNotFound, errors.New("result part not produced"))
		return
	}
	data, mime, err := generation.DecodeDataURL(payload)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Analyze(r.Context())
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ServiceHealth reports whether the remote service is reachable. An
// unreachable service is a normal answer, not an error.
func (h *Handler) ServiceHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.session.Health(r.Context())
	if err != nil {
		msg := err.Error()
		var ge *generation.Error
		if errors.As(err, &ge) {
			msg = ge.Message
		}
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "error": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"status":    health.Status,
		"version":   health.Version,
		"features":  health.Features,
	})
}

func (h *Handler) optionalUpload(r *http.Request, field string) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, r.ParseForm()
	}
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func pointFromForm(r *http.Request) (*image.Point, error) {
	xs, ys := strings.TrimSpace(r.FormValue("x")), strings.TrimSpace(r.FormValue("y"))
	if xs == "" && ys == "" {
		return nil, nil
	}
	if xs == "" || ys == "" {
		return nil, errors.New("x and y must be given together")
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return nil, errors.New("x must be an integer")
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return nil, errors.New("y must be an integer")
	}
	return &image.Point{X: x, Y: y}, nil
}

// writeServiceErr maps session, client and image errors onto HTTP statuses.
func (h *Handler) writeServiceErr(w http.ResponseWriter, err error) {
	var ge *generation.Error
	if errors.As(err, &ge) {
		writeJSON(w, statusForKind(ge.Kind), apiError{Error: ge.Message, Kind: string(ge.Kind)})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrGenerationInProgress), errors.Is(err, palette.ErrDuplicateID):
		code = http.StatusConflict
	case errors.Is(err, service.ErrUnknownColor):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrNoImage), errors.Is(err, service.ErrInvalidCount), errors.Is(err, imageproc.ErrEmptySource):
		code = http.StatusBadRequest
	case errors.Is(err, imageproc.ErrSourceTooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, imageproc.ErrUnsupportedType):
		code = http.StatusUnsupportedMediaType
	case errors.Is(err, imageproc.ErrDecode):
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	writeErr(w, code, err)
}

func statusForKind(k generation.Kind) int {
	switch k {
	case generation.KindValidation:
		return http.StatusBadRequest
	case generation.KindProcessing:
		return http.StatusUnprocessableEntity
	case generation.KindTimeout:
		return http.StatusGatewayTimeout
	case generation.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, apiError{Error: err.Error()})
}
