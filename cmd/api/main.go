package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"writeshare/api/internal/app"
	"writeshare/api/internal/config"
	"writeshare/api/internal/email"
	"writeshare/api/internal/logging"
	"writeshare/api/internal/search"
	"writeshare/api/internal/session"
	"writeshare/api/internal/snapshot"
	"writeshare/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(os.Stderr, "info", false)
		boot.Fatal().Err(err).Msg("configuration invalid")
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return err
	}

	opts := []app.Option{app.WithLogger(log)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		receipts, err := session.NewRedisStore(cfg.RedisURL, cfg.ReceiptTTL())
		if err != nil {
			return err
		}
		defer receipts.Close()
		opts = append(opts, app.WithReceipts(receipts))
		log.Info().Msg("using redis for snapshot receipts")
	} else {
		log.Info().Msg("using in-memory snapshot receipts")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := snapshot.NewMinioStore(ctx, snapshot.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		opts = append(opts, app.WithSnapshotStore(blobs))
		log.Info().Str("bucket", cfg.MinioBucket).Msg("storing snapshots in object storage")
	}

	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), log)
	opts = append(opts, app.WithSearch(searchService))

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		PerMinute: cfg.InviteEmailRatePerMinute,
	})
	if mailer.IsConfigured() {
		opts = append(opts, app.WithMailer(mailer))
	} else {
		log.Info().Msg("smtp not configured, invite emails disabled")
	}

	service := app.New(cfg, store.NewPostgresStore(db), opts...)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("writeshare api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		searchService.ReindexAll(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
