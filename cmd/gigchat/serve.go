package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"gigchat/internal/adapter/api"
	"gigchat/internal/adapter/api/handler"
	apimiddleware "gigchat/internal/adapter/api/middleware"
	"gigchat/internal/adapter/api/router"
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/pkg/logger"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine and the local UI bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return serve(path)
	},
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Configure(cfg.Environment, cfg.LogLevel)

	en, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsManager := ws.NewManager()
	wsManager.Start(ctx)

	handler.Setup(en.chat, en.directory, en.hub, wsManager, en.session)
	handler.GetWebSocketHandler().Stream(ctx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.RateLimitMiddleware(en.limiter))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(cfg.Bridge.AccessKey, en.identity.UserID)
	router.Setup(e, authMiddleware, en.registry)

	go func() {
		if err := en.run(ctx); err != nil {
			logger.Error("Engine Error: %v", err)
		}
	}()

	go func() {
		logger.Info("Starting bridge on %s for user %s...", cfg.Bridge.Address(), en.identity.UserID)
		if err := e.Start(cfg.Bridge.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Bridge Error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
