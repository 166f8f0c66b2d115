package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/auction"
	"github.com/tuosm9390/minionsbid/internal/ws"
)

type Options struct {
	CORSOrigins []string
	Log         *zap.Logger
}

func SetupRoutes(svc *auction.Service, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	h := &Handlers{svc: svc, log: opts.Log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(svc, opts.Log))

	r.Post("/rooms", h.CreateRoom)
	r.Get("/archives", h.ListArchives)

	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/", h.GetRoom)
		r.Delete("/", h.CloseRoom)
		r.Get("/redistribution", h.GetRedistribution)
		r.Get("/messages", h.GetMessages)

		r.Post("/draw", h.DrawPlayer)
		r.Post("/auction/start", h.StartAuction)
		r.Post("/auction/pause", h.PauseAuction)
		r.Post("/auction/resume", h.ResumeAuction)
		r.Post("/bids", h.PlaceBid)
		r.Post("/restart", h.RestartAuction)

		r.Post("/players/{playerID}/award", h.AwardPlayer)
		r.Post("/players/{playerID}/draft", h.DraftPlayer)
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: opts.CORSOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
