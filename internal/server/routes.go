package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const queryTimeout = 15 * time.Second

// Handler builds the router with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/github", func(r chi.Router) {
			r.With(s.rateLimitMiddleware(s.Config.Http.RequestsPerMinute)).
				Post("/scan", s.handleEnqueueScan)

			// Bounded by the service's own scan timeout.
			r.Get("/scan/sync", s.handleSyncScan)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(queryTimeout))
				r.Get("/scan/status", s.handleScanStatus)
				r.Get("/token", s.handleTokenStatus)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(queryTimeout))
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/points", s.handleUserPoints)
				r.Get("/activities", s.handleUserActivities)
				r.Get("/contributions", s.handleUserContributions)
			})
		})
	})

	return r
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.Config.Http.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.Logger.Debug(r.Context(), "%s %s from %s -> %d in %v (request %s)",
			r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}
