// Package main is the entry point for the LinkedIn API gateway.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkedin-gateway/internal/api"
	"linkedin-gateway/internal/config"
	"linkedin-gateway/internal/logger"
	"linkedin-gateway/internal/orchestrator"
	"linkedin-gateway/internal/registry"
	"linkedin-gateway/internal/voyager"
	"linkedin-gateway/internal/wsproxy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	reg, err := registry.Open(cfg.DatabasePath, logg)
	if err != nil {
		logg.Fatal().Err(err).Msg("failed to open credential registry")
	}
	defer reg.Close()

	converter := voyager.NewConverter(logg)
	builder := voyager.NewBuilder(voyager.QueryIDs{
		Comments:       cfg.QueryIDs.Comments,
		Reactions:      cfg.QueryIDs.Reactions,
		ProfileUpdates: cfg.QueryIDs.ProfileUpdates,
		Feed:           cfg.QueryIDs.Feed,
	}, converter, logg)
	normalizer := voyager.NewNormalizer(logg)
	client := voyager.NewClient(logg)
	proxy := wsproxy.NewRouter(logg)
	orch := orchestrator.New(builder, normalizer, converter, client, reg, proxy, logg)

	srv := api.NewServer(cfg, logg, reg, orch, proxy)
	router := api.NewRouter(srv)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // fetch requests may legitimately run for minutes
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logg.Info().Str("addr", cfg.ServerAddr).Str("edition", cfg.Edition).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info().Msg("shutting down server")

	proxy.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logg.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logg.Info().Msg("server stopped")
}
