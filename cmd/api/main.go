package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pinboard/internal/app"
	"pinboard/internal/blob"
	"pinboard/internal/cache"
	"pinboard/internal/config"
	"pinboard/internal/search"
	"pinboard/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "pinboard-api",
	Short: "Pinboard annotation API server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and serve the API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = time.RFC3339

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Msg("migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	overlay, err := config.LoadOverlay(cfg.OverlayPath)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	dataStore := store.NewPostgresStore(db)

	blobStore, err := blob.New(ctx, blob.Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.S3PublicBaseURL,
	}, blob.Limits{
		MaxCount:     overlay.Attachments.MaxCount,
		MaxSizeBytes: overlay.Attachments.MaxSizeBytes,
		Types:        overlay.Attachments.Types,
	})
	if err != nil {
		return fmt.Errorf("connect object storage: %w", err)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewFallback(dataStore))
	if meili != nil {
		go reindex(meili, dataStore, searchService)
	}

	var pinCache app.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.New(ctx, cfg.RedisURL, time.Minute)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCache.Close()
		pinCache = redisCache
		log.Info().Msg("pin collection cache enabled")
	}

	service := app.New(dataStore, blobStore, searchService, pinCache, overlay)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("pinboard API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reindex rebuilds the search index once Meilisearch reports healthy. The
// index is disposable; the database stays the source of truth.
func reindex(meili *search.Meili, dataStore *store.PostgresStore, searchService *search.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for !meili.Healthy() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}

	appIDs, err := dataStore.AppIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reindex: list apps")
		return
	}
	if len(appIDs) > 0 {
		searchService.ReindexAll(ctx, appIDs)
	}
}
