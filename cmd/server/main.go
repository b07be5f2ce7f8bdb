package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"filedepot/internal/app"
	"filedepot/internal/config"
	"filedepot/internal/server"
	"filedepot/internal/storage"
	"filedepot/internal/store"
	"filedepot/internal/util"
)

func main() {
	configPath := os.Getenv("FILEDEPOT_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseDuration(cfg.SessionTTL, 30*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	onlineWindow, err := config.ParseDuration(cfg.OnlineWindow, 15*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse online window: %v", err)
	}
	purgeInterval, err := config.ParseDuration(cfg.PurgeInterval, 10*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse purge interval: %v", err)
	}
	purgeRetention, err := config.ParseDuration(cfg.PurgeRetention, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse purge retention: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var blobs storage.BlobStore
	switch cfg.StorageBackend {
	case "s3":
		blobs, err = storage.NewMinioStore(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	default:
		blobs, err = storage.NewDiskStore(cfg.StorageDir)
	}
	if err != nil {
		log.Fatalf("failed to init blob storage: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	core := app.New(st, blobs, app.Config{
		SessionTTL:        sessionTTL,
		OnlineWindow:      onlineWindow,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		PurgeRetention:    purgeRetention,
	})

	httpServer, err := server.New(server.Config{
		App:                     core,
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		AllowedOrigin:           cfg.AllowedOrigin,
		TrustedProxies:          trustedProxies,
		SecureCookies:           cfg.SecureCookies,
		MaxUploadBytes:          cfg.MaxUploadBytes,
		RegisterRateLimitPerMin: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMin:    cfg.LoginRateLimitPerMinute,
		ResetRateLimitPerMin:    cfg.ResetRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := core.RunPurgeSweeper(gctx, purgeInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
