package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the admin and spectator HTTP surface.
type Server struct {
	Addr   string
	Hub    *Hub
	router *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router. The caller subscribes Hub to the registry.
func NewServer(addr string, stats StatsSource, history RoundHistory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	hub := NewHub(logger)
	NewHandler(stats, history).RegisterRoutes(router)
	router.GET("/ws", WSHandler(hub))

	return &Server{
		Addr:   addr,
		Hub:    hub,
		router: router,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("admin_server_started", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.CloseAll()
	return s.http.Shutdown(ctx)
}
