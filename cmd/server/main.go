package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf-annotator/internal/config"
	"pdf-annotator/internal/handler"

	"github.com/joho/godotenv"
)

const (
	idleSweepInterval = time.Minute
	viewerIdleTimeout = 30 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}
	// Wiring
	container := config.NewContainer()

	viewerHandler := handler.NewViewerHandler(
		container.Viewers,
		container.Config.GetMaxFileSize(),
		container.Logger,
	)

	authMiddleware := handler.NewAuthMiddleware(
		container.AuthService,
		container.Logger,
	)

	// Router
	router := handler.NewRouter(
		viewerHandler,
		authMiddleware.Middleware,
		container.Config.GetCORSOrigins(),
	)

	server := &http.Server{
		Addr:              ":" + container.Config.GetServerPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()

	// Abandoned sessions hold decoded documents and rasters.
	sweep := time.NewTicker(idleSweepInterval)
	defer sweep.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-sweep.C:
			if n := container.Viewers.CloseIdle(viewerIdleTimeout); n > 0 {
				container.Logger.Info("Closed idle viewers", "count", n)
			}
		case <-quit:
			running = false
		}
	}

	container.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		container.Logger.Error("Graceful shutdown failed", err)
		_ = server.Close()
	}
	container.Viewers.CloseAll()

	container.Logger.Info("Server exited")
}
