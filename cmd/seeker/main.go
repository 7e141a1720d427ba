// main is the entry point of the Seeker application.
// It initializes the configuration, logger, database, enrichment providers and the
// observation pipeline, then either runs a maintenance task or starts the HTTP server.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/config"
	"github.com/woozymasta/seeker/internal/enrich"
	"github.com/woozymasta/seeker/internal/fake"
	"github.com/woozymasta/seeker/internal/geoip"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/logger"
	"github.com/woozymasta/seeker/internal/maintenance"
	"github.com/woozymasta/seeker/internal/server"
	"github.com/woozymasta/seeker/internal/storage"
	"github.com/woozymasta/seeker/internal/vars"
)

func main() {
	cfg := config.Parse()

	logOut := logger.Setup(cfg.Logger)
	defer func() { _ = logOut.Close() }()
	log.Info().Str("version", vars.Version).Msg("Starting seeker service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Enrichment
	enricher, closers := buildEnricher(ctx, cfg)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing enrichment provider")
			}
		}
	}()

	pipeline := ingest.New(store, enricher, ingest.Options{
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		EnrichTimeout: cfg.Enrich.Timeout,
		StoreTimeout:  cfg.Storage.Timeout,
		SoftLimit:     cfg.Ingest.SoftLimit,
	})

	// data generation or database maintenance
	if cfg.Storage.GenerateCount > 0 {
		fake.GenerateData(ctx, pipeline, cfg.Storage.GenerateCount)
		return
	} else if maintenance.Run(ctx, cfg, store, pipeline) {
		return
	}

	// Background queue
	pipeline.Start()

	srvHandler := server.New(store, pipeline, cfg)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srvHandler.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Websocket streams end on Close, plain requests drain in Shutdown
	srvHandler.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop workers (wait queue done)
	pipeline.Stop()

	log.Info().Msg("Server exited")
}

// buildEnricher assembles the enrichment chain: the online client (optionally cached)
// first, then the offline GeoIP database. It returns a nil Enricher when nothing is available.
func buildEnricher(ctx context.Context, cfg *config.Config) (ingest.Enricher, []io.Closer) {
	var (
		chain   enrich.Chain
		closers []io.Closer
	)

	if !cfg.Enrich.Disabled {
		var provider enrich.Provider = enrich.NewClient(enrich.Options{
			URL:       cfg.Enrich.URL,
			UserAgent: vars.UserAgent(),
			Timeout:   cfg.Enrich.Timeout,
			PerMinute: cfg.Enrich.PerMinute,
		})

		switch {
		case cfg.Enrich.RedisURL != "":
			cache, err := enrich.NewRedisCache(ctx, cfg.Enrich.RedisURL, cfg.Enrich.CacheTTL)
			if err != nil {
				log.Error().Err(err).Msg("Failed to connect to Redis, enrichment cache disabled")
				break
			}
			closers = append(closers, cache)
			provider = enrich.NewCached(provider, cache)

		case cfg.Enrich.CachePath != "":
			cache, err := enrich.NewBoltCache(cfg.Enrich.CachePath, cfg.Enrich.CacheTTL)
			if err != nil {
				log.Error().Err(err).Str("path", cfg.Enrich.CachePath).Msg("Failed to open enrichment cache, cache disabled")
				break
			}
			closers = append(closers, cache)
			provider = enrich.NewCached(provider, cache)
		}

		chain = append(chain, provider)
	}

	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, vars.UserAgent(), cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, offline enrichment disabled")
		} else {
			closers = append(closers, geoProvider)
			chain = append(chain, geoProvider)
		}
	}

	if len(chain) == 0 {
		log.Warn().Msg("No enrichment providers configured")
		return nil, closers
	}

	return chain, closers
}
