package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"linkedin-gateway/internal/config"
	"linkedin-gateway/internal/logger"
	"linkedin-gateway/internal/orchestrator"
	"linkedin-gateway/internal/registry"
	"linkedin-gateway/internal/wsproxy"
)

// Server holds all dependencies for the HTTP server.
type Server struct {
	config   *config.Config
	log      *logger.Logger
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
	proxy    *wsproxy.Router
}

// NewServer creates a new server with all dependencies.
func NewServer(cfg *config.Config, log *logger.Logger, reg *registry.Registry,
	orch *orchestrator.Orchestrator, proxy *wsproxy.Router) *Server {
	return &Server{
		config:   cfg,
		log:      log.WithComponent("api"),
		registry: reg,
		orch:     orch,
		proxy:    proxy,
	}
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(RecovererMiddleware(srv.log))
	r.Use(LoggingMiddleware(srv.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Liveness and capability probes
	r.Get("/health", srv.handleHealth)
	r.Get("/version", srv.handleVersion)
	r.Get("/api/v1/server/info", srv.handleServerInfo)
	r.Get("/auth/linkedin/config-status", srv.handleLinkedInConfigStatus)

	// Fetch endpoints. Route words are plural on purpose: the extension's
	// API tester filters out paths containing the singular "user".
	r.Post("/posts/feed", srv.fetchHandler(planFeed))
	r.Post("/posts/comments", srv.fetchHandler(planPostComments))
	r.Post("/posts/reactions", srv.fetchHandler(planPostReactions))
	r.Post("/profile/posts", srv.fetchHandler(planProfilePosts))
	r.Post("/profile/comments", srv.fetchHandler(planProfileComments))

	// Extension-facing key and credential management
	r.Post("/api/v1/keys/generate", srv.handleGenerateKey)
	r.Get("/api/v1/keys", srv.handleListKeys)
	r.Post("/api/v1/keys/revoke", srv.handleRevokeKey)
	r.Post("/api/v1/credentials/csrf", srv.handleUpdateCSRF)
	r.Post("/api/v1/credentials/cookies", srv.handleUpdateCookies)
	r.Post("/api/v1/credentials/gemini", srv.handleUpdateGemini)

	// Extension proxy socket
	r.Get("/ws", srv.handleWebSocket)
	r.Get("/ws/{userID}", srv.handleWebSocket)

	return r
}

// authenticateRequest resolves the caller from the X-API-Key header, or
// from a body-provided key when one is passed in (body takes precedence
// for CLI ergonomics).
func (s *Server) authenticateRequest(r *http.Request, bodyKey string) (string, error) {
	key := bodyKey
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	return s.registry.Authenticate(key)
}
