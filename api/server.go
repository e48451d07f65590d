package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insurge/chatd/auth"
	"github.com/insurge/chatd/internal/config"
	"github.com/insurge/chatd/internal/slogging"
)

// Server assembles the HTTP surface: auth endpoints, the REST API, the
// websocket endpoint, and operational routes.
type Server struct {
	engine      *gin.Engine
	authService *auth.Service
	store       ChatStore
	registry    *ConnectionRegistry
	responder   Responder
	cfg         *config.Config
}

// NewServer builds the gin engine with all routes and middleware mounted
func NewServer(authService *auth.Service, store ChatStore, registry *ConnectionRegistry, responder Responder, cfg *config.Config) *Server {
	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(slogging.LoggerMiddleware())
	engine.Use(slogging.Recoverer())
	engine.Use(CORS())

	s := &Server{
		engine:      engine,
		authService: authService,
		store:       store,
		registry:    registry,
		responder:   responder,
		cfg:         cfg,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Registry exposes the connection registry for shutdown draining
func (s *Server) Registry() *ConnectionRegistry {
	return s.registry
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandlers := auth.NewHandlers(s.authService)
	authHandlers.RegisterRoutes(s.engine.Group("/auth"))

	middleware := auth.NewMiddleware(s.authService)

	wsHandler := NewWebSocketHandler(s.registry, s.store, s.responder, s.authService, s.cfg.WebSocket)
	s.engine.GET("/ws", wsHandler.HandleConnection)

	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.AuthRequired())

	NewChatHandlers(s.store).RegisterRoutes(v1)
	NewUserHandlers(s.authService).RegisterRoutes(v1)
}
