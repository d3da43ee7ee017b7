/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (slog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the shop-floor frontend
  5. Caller:     X-User-ID identity check on /api routes

ROUTE GROUPS:
  /api/jobs/*           Job lifecycle, live cost, consumables
  /api/adjustments      Post-completion adjustments
  /api/stocktake/*      Stock-take preview and commit
  /api/inventory/*      Inventory items and stock movements
  /api/employees/*      Employee hourly rates
  /healthz              Liveness (no identity required)

IDENTITY:
  The upstream gateway authenticates users and forwards the user id in the
  X-User-ID header. Requests without it are rejected as unauthenticated.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/workshop-engine/workshop"
)

// UserIDHeader carries the authenticated caller.
const UserIDHeader = "X-User-ID"

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list allows the local frontend dev servers only.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireCaller)

		// Job routes
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/", h.CreateJob)
			r.Get("/{id}", h.GetJob)
			r.Put("/{id}", h.UpdateJob)
			r.Delete("/{id}", h.DeleteJob)
			r.Post("/{id}/events/{event}", h.TransitionJob)
			r.Get("/{id}/live", h.GetLive)
			r.Get("/{id}/live/stream", h.StreamLive)
			r.Get("/{id}/consumables", h.GetConsumables)
		})

		r.Post("/adjustments", h.CreateAdjustment)

		// Stock-take routes
		r.Route("/stocktake", func(r chi.Router) {
			r.Post("/", h.CommitStockTake)
			r.Post("/preview", h.PreviewStockTake)
		})

		// Inventory routes
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListInventory)
			r.Get("/{id}", h.GetInventoryItem)
			r.Put("/{id}", h.PutInventoryItem)
			r.Get("/{id}/movements", h.ListMovements)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.PutEmployee)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type callerKey struct{}

// requireCaller rejects requests without an X-User-ID header and stores the
// caller id on the request context.
func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight never carries custom headers.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, workshop.KindUnauthenticated, "missing "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, userID)))
	})
}

// callerFrom returns the caller id set by requireCaller.
func callerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// requestLogger logs HTTP requests with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP Request",
				slog.Int("status", ww.Status()),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("user_id", r.Header.Get(UserIDHeader)),
				slog.Duration("latency", time.Since(start)),
				slog.Int("body_size", ww.BytesWritten()),
			)
		})
	}
}
