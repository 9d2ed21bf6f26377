package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pbn-studio/internal/metrics"
	"pbn-studio/internal/service"
	"pbn-studio/internal/ws"
)

// multipartSlack covers form boundaries and fields around the image part.
const multipartSlack = 1 << 20

func NewRouter(session *service.Session, hub *ws.Hub, maxUpload int64, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		session:   session,
		hub:       hub,
		log:       log.With("component", "api"),
		maxUpload: maxUpload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		metrics.Middleware,
		limitBody(maxUpload+multipartSlack),
	)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", h.WebSocket)
		r.Get("/profile", h.Profile)

		r.Get("/palette", h.GetPalette)
		r.Post("/palette", h.AddColor)
		r.Post("/palette/sample", h.SampleColor)
		r.Post("/palette/suggest", h.SuggestPalette)
		r.Patch("/palette/{id}", h.PatchColor)
		r.Delete("/palette/{id}", h.DeleteColor)

		r.Get("/image", h.GetImage)
		r.Post("/image", h.PutImage)
		r.Delete("/image", h.DeleteImage)

		r.Post("/generate", h.Generate)
		r.Get("/generation", h.GenerationStatus)
		r.Get("/result", h.GetResult)
		r.Get("/result/{part}", h.GetResultPart)

		r.Post("/analyze", h.Analyze)
		r.Get("/service/health", h.ServiceHealth)
	})

	return r
}

func limitBody(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
