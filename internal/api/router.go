package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/feed"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 64 << 10

// Deps are the collaborators behind the control API.
// Feeds and Speech may be nil.
type Deps struct {
	Rewinder       Rewinder
	Resource       playback.Resource
	Speech         SpeechCanceler
	Feeds          feed.Repository
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// NewRouter builds the local control API
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(Logger(deps.Logger))
	r.Use(cors.Handler(CORSOptions(deps.AllowedOrigins)))

	h := &Handler{
		rewinder: deps.Rewinder,
		resource: deps.Resource,
		speech:   deps.Speech,
		feeds:    deps.Feeds,
		logger:   deps.Logger,
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(MaxBodySize(maxBodyBytes))

		r.Get("/status", h.Status)
		r.Post("/rewind", h.Rewind)

		r.Post("/playback/play", h.Play)
		r.Post("/playback/pause", h.Pause)
		r.Post("/playback/seek", h.Seek)
		r.Post("/speech/stop", h.StopSpeech)

		r.Get("/feeds", h.ListFeeds)
		r.Post("/feeds", h.TouchFeed)
		r.Delete("/feeds", h.DeleteFeed)
	})

	return r
}
