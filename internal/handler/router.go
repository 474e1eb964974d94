package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	natsclient "github.com/capitalize-ai/artifact-sync/internal/nats"
	"github.com/capitalize-ai/artifact-sync/internal/savedstore"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/internal/session"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// RouterConfig holds everything the API routes are built from.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Artifacts     *service.ArtifactService
	Importer      *service.Importer
	AI            AITools
	Sessions      *session.Manager
	Saved         *savedstore.Store
	NATS          *natsclient.Client
	Logger        *logger.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger

	healthHandler := NewHealthHandler(cfg.NATS, cfg.Sessions)
	conversationHandler := NewConversationHandler(cfg.Conversations, cfg.Users, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Users, log)
	artifactHandler := NewArtifactHandler(cfg.Artifacts, cfg.Importer, cfg.Users, log)
	aiHandler := NewAIHandler(cfg.Artifacts, cfg.Users, cfg.AI, cfg.Saved, log)
	userHandler := NewUserHandler(cfg.Users, cfg.Sessions, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/public/map", artifactHandler.PublicMap)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RecordActor)
			if cfg.RateLimitRequests > 0 {
				r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			}

			// Live session stream
			r.Route("/session", func(r chi.Router) {
				r.Get("/events", sessionHandler.Events)
				r.Get("/ws", sessionHandler.WebSocket)
				r.Put("/{sid}/active", sessionHandler.SetActive)
				r.Put("/{sid}/focus", sessionHandler.SetFocus)
				r.Put("/{sid}/permission", sessionHandler.SetPermission)
			})

			// Current user
			r.Get("/me", userHandler.Me)
			r.Put("/me/preferences", userHandler.UpdatePreferences)
			r.Put("/me/ai-settings", userHandler.UpdateAISettings)
			r.Get("/contacts", conversationHandler.Contacts)

			// Conversations
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", conversationHandler.Create)
				r.Get("/", conversationHandler.List)
				r.Post("/announcements", conversationHandler.CreateAnnouncement)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Put("/", conversationHandler.Update)
					r.Delete("/", conversationHandler.Delete)

					// Messages
					r.Get("/messages", messageHandler.List)
					r.Post("/messages", messageHandler.Send)
					r.Post("/read", messageHandler.MarkRead)
				})
			})

			// Artifacts
			r.Route("/artifacts", func(r chi.Router) {
				r.Post("/", artifactHandler.Submit)
				r.Get("/mine", artifactHandler.Mine)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(string(model.RoleAdmin)))
					r.Get("/", artifactHandler.List)
					r.Get("/dashboard", artifactHandler.Dashboard)
					r.Get("/map", artifactHandler.Map)
					r.Get("/export", artifactHandler.Export)
					r.Post("/import", artifactHandler.Import)
					r.Post("/delete", artifactHandler.DeleteMany)
					r.Put("/{id}/review", artifactHandler.Review)
				})

				r.Get("/{id}", artifactHandler.Get)
				r.Delete("/{id}", artifactHandler.Delete)
			})

			// AI tools
			r.Route("/ai", func(r chi.Router) {
				r.Route("/analyses", func(r chi.Router) {
					r.Get("/", aiHandler.ListAnalyses)
					r.Post("/", aiHandler.CreateAnalysis)
					r.Get("/{id}", aiHandler.GetAnalysis)
					r.Put("/{id}", aiHandler.RenameAnalysis)
					r.Delete("/{id}", aiHandler.DeleteAnalysis)
					r.Post("/{id}/messages", aiHandler.SendAnalysis)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(string(model.RoleAdmin)))
					r.Get("/catalog/schema", aiHandler.CatalogSchema)
					r.Post("/catalog/{id}", aiHandler.Catalog)
					r.Post("/catalog/{id}/apply", aiHandler.ApplyCatalog)
					r.Post("/compare", aiHandler.Compare)
					r.Post("/report", aiHandler.Report)
				})
			})

			// Saved comparisons and reports
			if cfg.Saved != nil {
				savedHandler := NewSavedHandler(cfg.Saved, log)
				r.Route("/saved/{kind}", func(r chi.Router) {
					r.Get("/", savedHandler.List)
					r.Get("/{id}", savedHandler.Get)
					r.Delete("/{id}", savedHandler.Delete)
					r.Get("/{id}/export", aiHandler.ExportComparison)
				})
			}

			// User administration
			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireRole(string(model.RoleAdmin)))
				r.Get("/", userHandler.List)
				r.Put("/{id}/role", userHandler.SetRole)
				r.Delete("/{id}", userHandler.Delete)
			})
		})
	})

	return r
}
