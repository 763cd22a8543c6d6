/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. requestLogger: Structured request logging (zerolog)
  4. CORS:       Cross-origin requests for the frontend

SECURITY NOTE:
  No authentication middleware. Deployment sits behind the hospital
  gateway, which terminates auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Patient registration
		r.Post("/patients", h.RegisterPatient)

		// Bed routes
		r.Route("/beds", func(r chi.Router) {
			r.Get("/", h.ListBeds)
			r.Post("/", h.CreateBed)
			r.Get("/{id}", h.GetBed)
			r.Post("/{id}/admit", h.Admit)
			r.Post("/{id}/discharge", h.Discharge)
		})

		// Sequence routes
		r.Get("/sequence/next", h.NextSequence)
		r.Get("/ipd/next-number", h.NextIPDNumber)

		// Admission routes
		r.Route("/admissions", func(r chi.Router) {
			r.Get("/{id}", h.GetAdmission)
			r.Get("/{id}/deposits", h.ListDeposits)
			r.Post("/{id}/deposits", h.AddDeposit)
			r.Get("/{id}/bill", h.GetBill)
		})

		// Deposit edits address the row directly
		r.Put("/deposits/{id}", h.UpdateDeposit)

		// Bill routes
		r.Route("/bills", func(r chi.Router) {
			r.Post("/", h.SaveBill)
			r.Post("/{id}/complete", h.CompleteBill)
			r.Delete("/{id}", h.DeleteBill)
		})
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
