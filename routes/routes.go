package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Dosada05/tournament-chat/docs"
	"github.com/Dosada05/tournament-chat/handlers"
	"github.com/Dosada05/tournament-chat/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Chat      *handlers.ChatHandler
	Storage   *handlers.StorageHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(opts.JWTSecret, opts.Logger)

	// Служебные маршруты
	router.Get("/healthz", h.Health.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/openapi.yaml", serveOpenAPI)
	router.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	router.Route("/auth", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(15 * time.Second))
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
	})

	// WebSocket: токен может прийти в query-параметре, таймаут не ставим.
	router.With(authenticate).Get("/ws/chat/{tournamentID}", h.WebSocket.ServeWs)

	router.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		r.Route("/tournaments/{tournamentID}/chat", func(r chi.Router) {
			r.Get("/", h.Chat.ScopeHandler)
			r.Get("/messages", h.Chat.ListHandler)
			r.Post("/messages", h.Chat.CreateHandler)
		})

		r.Route("/chat/messages/{messageID}", func(r chi.Router) {
			r.Patch("/", h.Chat.UpdateHandler)
			r.Delete("/", h.Chat.DeleteHandler)
			r.Post("/reactions", h.Chat.ToggleReactionHandler)
			r.Put("/reactions", h.Chat.ReplaceReactionsHandler)
		})

		r.Route("/storage/buckets/{bucket}", func(r chi.Router) {
			r.Put("/objects/*", h.Storage.UploadHandler)
			r.Get("/public-url", h.Storage.PublicURLHandler)
		})
	})
}

func serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(docs.OpenAPI)
}
