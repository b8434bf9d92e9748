package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/admin"
	"github.com/HanTheDev/multi-tenant-rag/internal/api"
	"github.com/HanTheDev/multi-tenant-rag/internal/app"
	"github.com/HanTheDev/multi-tenant-rag/internal/auth"
	"github.com/HanTheDev/multi-tenant-rag/internal/config"
	"github.com/HanTheDev/multi-tenant-rag/internal/logging"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	router := mux.NewRouter()
	router.Use(api.AccessLog(logger.Named("http")))

	// Auth middleware
	var authOpts []auth.Option
	if cfg.RequireAuth {
		authOpts = append(authOpts, auth.RequireToken())
	}
	if cfg.BaseDomain != "" {
		authOpts = append(authOpts, auth.WithBaseDomain(cfg.BaseDomain))
	}
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret, authOpts...)

	// Public routes
	router.HandleFunc("/health", api.HealthHandler(version)).Methods("GET")
	router.HandleFunc("/auth/token", api.TokenHandler(a.Tenants, cfg.JWTSecret, auth.DefaultTokenTTL, logger)).Methods("POST")
	router.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})).Methods("GET")

	// Admin routes
	adminHandler := admin.NewAdminHandler(a.Tenants, a.Logs, a.Events, a.Cache, logger.Named("admin"))
	adminHandler.RegisterRoutes(router, cfg.AdminToken)

	// Tenant API
	api.NewHandler(a.Service, logger.Named("api")).RegisterRoutes(router, authMiddleware.Authenticate)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort), zap.String("version", version))
		for _, w := range cfg.Warnings() {
			logger.Warn(w)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("backend shutdown incomplete", zap.Error(err))
	}
}
