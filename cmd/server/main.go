// Package main runs the email dispatch HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emailez/backend/config"
	"github.com/emailez/backend/internal/bootstrap"
	"github.com/emailez/backend/internal/emailconfigs"
	"github.com/emailez/backend/internal/emails"
	"github.com/emailez/backend/internal/middleware"
	"github.com/emailez/backend/internal/workspaces"
	"github.com/emailez/backend/pkg/response"
)

func main() {
	logger := bootstrap.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	app, err := bootstrap.Open(context.Background(), cfg, true, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer app.Close()

	emailHandler := emails.NewHandler(app.Dispatch, logger)
	configHandler := emailconfigs.NewHandler(app.Configs, app.Cipher, logger)
	workspaceHandler := workspaces.NewHandler(app.Workspaces)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Workspace-scoped API (API key or bearer JWT)
	api := router.Group("/v1")
	api.Use(middleware.WorkspaceAuth(app.APIKeys, app.JWT))
	{
		api.GET("/workspace", workspaceHandler.Current)
		emailHandler.Register(api)
		configHandler.Register(api)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
