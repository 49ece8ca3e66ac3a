package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"readinglog/api/internal/app"
	"readinglog/api/internal/config"
	"readinglog/api/internal/email"
	"readinglog/api/internal/events"
	"readinglog/api/internal/export"
	"readinglog/api/internal/gitrepo"
	"readinglog/api/internal/ratelimit"
	"readinglog/api/internal/search"
	"readinglog/api/internal/session"
	"readinglog/api/internal/storage"
	"readinglog/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if len(applied) > 0 {
		log.Printf("Applied migrations: %s", strings.Join(applied, ", "))
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Dependencies{
		Store:    dataStore,
		Users:    dataStore,
		History:  gitrepo.New(cfg.ReposDir),
		Exporter: export.NewService(dataStore),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	var sequencer search.Sequencer = search.NewMemorySequencer()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for sessions and search sequencing")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		sequencer = search.NewRedisSequencer(redisStore.Client())
	} else {
		log.Printf("Using PostgreSQL for sessions")
		deps.Sessions = dataStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore, sequencer)
	deps.Search = searchService
	if meiliClient != nil {
		go searchService.ReindexAll(ctx, dataStore)
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		covers, err := storage.New(ctx, storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Printf("WARNING: cover storage disabled: %v", err)
		} else {
			deps.Covers = covers
		}
	}

	if strings.TrimSpace(cfg.AMQPURL) != "" {
		publisher, err := events.Dial(cfg.AMQPURL)
		if err != nil {
			log.Printf("WARNING: event publishing disabled: %v", err)
		} else {
			defer publisher.Close()
			deps.Events = publisher
		}
	}

	authLimiter := ratelimit.New(cfg.AuthRatePerSec, cfg.AuthRateBurst, 10*time.Minute)
	defer authLimiter.Stop()

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, authLimiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go purgeExpiredSessions(ctx, dataStore)

	go func() {
		log.Printf("Reading log API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// purgeExpiredSessions drops expired refresh sessions, denylisted token ids
// and reset tokens from Postgres once an hour.
func purgeExpiredSessions(ctx context.Context, dataStore *store.PostgresStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := dataStore.PurgeExpired(ctx)
			if err != nil {
				log.Printf("purge expired sessions: %v", err)
				continue
			}
			if purged > 0 {
				log.Printf("Purged %d expired session rows", purged)
			}
		}
	}
}
