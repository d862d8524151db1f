package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/dispatcher"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
	"github.com/lofyer/warp-multiproxy-go/internal/server/handlers"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
)

// Server wires the account pool, dispatcher, and session client into the
// gin HTTP engine.
type Server struct {
	engine *gin.Engine
	cfg    *config.Config
}

// New constructs a Server and registers every route.
func New(cfg *config.Config, pool *account.Pool, sessionCli *session.Client, d *dispatcher.Dispatcher) *Server {
	if cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(RequestLoggingMiddleware())

	s := &Server{engine: engine, cfg: cfg}
	s.setupRoutes(pool, sessionCli, d)
	return s
}

func (s *Server) setupRoutes(pool *account.Pool, sessionCli *session.Client, d *dispatcher.Dispatcher) {
	healthHandler := handlers.NewHealthHandler(pool)
	modelsHandler := handlers.NewModelsHandler()
	accountsHandler := handlers.NewAccountsHandler(pool, s.cfg, sessionCli)
	chatHandler := handlers.NewChatHandler(d, s.cfg)
	messagesHandler := handlers.NewMessagesHandler(d, s.cfg)

	s.engine.GET("/health", healthHandler.Health)

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", modelsHandler.ListModels)
		v1.POST("/chat/completions", chatHandler.Complete)
		v1.POST("/messages", messagesHandler.Messages)
	}

	// Admin surface: flat top-level paths, not under /v1.
	admin := s.engine.Group("")
	admin.Use(APIKeyAuthMiddleware(s.cfg))
	{
		admin.GET("/stats", accountsHandler.Stats)
		accounts := admin.Group("/accounts")
		{
			accounts.POST("/reload", accountsHandler.Reload)
			accounts.POST("/add", accountsHandler.Add)
			accounts.POST("/refresh", accountsHandler.Refresh)
			accounts.POST("/delete-blocked", accountsHandler.DeleteBlocked)
		}
	}

	// Mirror routes the client API advertises alongside the canonical
	// /v1/* paths.
	mirror := s.engine.Group("")
	mirror.Use(APIKeyAuthMiddleware(s.cfg))
	mirror.POST("/warp/v1/chat/completions", chatHandler.Complete)
	mirror.POST("/anthropic/v1/messages", messagesHandler.Messages)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"message": fmt.Sprintf("endpoint %s %s not found", c.Request.Method, c.Request.URL.Path), "type": "not_found_error"},
		})
	})
}

// Engine exposes the gin engine, for tests and custom mounting.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until ctx is canceled, then drains
// in-flight requests within a 10-second grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long enough for a full AI response stream
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.L().Info().Str("addr", addr).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
