package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the worker and admin APIs. Everything except the
// health probes requires the shared bearer secret.
func SetupRoutes(h *Handlers, secret string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Identity", "outreach-server")
			next.ServeHTTP(w, req)
		})
	})

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Link"},
			MaxAge:         300,
		}))
	}

	// Health checks (no auth required)
	r.Get("/health", h.HealthCheck)
	if h.health != nil {
		r.Get("/health/live", h.health.HandleLiveness)
		r.Get("/health/ready", h.health.HandleReadiness)
	}

	r.Route("/worker", func(r chi.Router) {
		r.Use(BearerAuth(secret))

		r.Get("/workspaces/{workspaceID}/senders", h.WorkerListSenders)

		r.Route("/senders/{senderID}", func(r chi.Router) {
			r.Get("/actions/next", h.WorkerNextActions)
			r.Get("/usage", h.WorkerUsage)
			r.Get("/session", h.WorkerGetSession)
			r.Put("/session", h.WorkerSaveSession)
			r.Get("/credentials", h.WorkerCredentials)
			r.Post("/session-expired", h.WorkerSessionExpired)
			r.Post("/pause", h.WorkerPause)
		})

		r.Post("/actions/{actionID}/complete", h.WorkerCompleteAction)
		r.Post("/actions/{actionID}/fail", h.WorkerFailAction)
		r.Post("/actions/{actionID}/release", h.WorkerReleaseAction)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(secret))

		r.Route("/actions", func(r chi.Router) {
			r.Post("/", h.EnqueueAction)
			r.Post("/fast-track", h.FastTrackConnect)
			r.Get("/{actionID}", h.GetAction)
			r.Post("/{actionID}/cancel", h.CancelAction)
		})

		r.Route("/people/{personID}", func(r chi.Router) {
			r.Get("/actions", h.ListPersonActions)
			r.Post("/cancel", h.CancelPersonActions)
			r.Post("/bump", h.BumpPerson)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Post("/{jobID}/process", h.ProcessBatch)
		})

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Get("/senders", h.ListSenders)
			r.Post("/assign", h.AssignSender)
		})

		r.Route("/senders", func(r chi.Router) {
			r.Post("/", h.CreateSender)
			r.Route("/{senderID}", func(r chi.Router) {
				r.Get("/", h.GetSender)
				r.Get("/budget", h.CheckBudget)
				r.Get("/usage", h.SenderUsage)
				r.Post("/activate", h.ActivateSender)
				r.Post("/pause", h.PauseSender)
				r.Post("/resume", h.ResumeSender)
				r.Post("/disable", h.DisableSender)
				r.Put("/credentials", h.SetSenderCredentials)
				r.Post("/warmup/progress", h.ProgressWarmup)
				r.Post("/acceptance-rate/refresh", h.RefreshAcceptanceRate)
			})
		})
	})

	return r
}
