package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"engagement-backend/internal/handlers"
	"engagement-backend/internal/middleware"
	"engagement-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authLimit func(http.Handler) http.Handler,
	authHandler *handlers.AuthHandler,
	telemetryHandler *handlers.TelemetryHandler,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)

			// Logout requires auth
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── Telemetry Routes ────
		r.Route("/telemetry", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/video", telemetryHandler.Video)
			r.Post("/inactivity", telemetryHandler.Inactivity)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", sessionHandler.List)
			r.Get("/{id}", sessionHandler.Get)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
