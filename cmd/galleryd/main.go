package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/broker"
	"github.com/quotebot/quotegallery/internal/httpapi"
	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotestore"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env")
	}
	logger, err := observability.NewLogger(os.Getenv("GALLERYD_LOG_LEVEL"), os.Getenv("GALLERYD_LOG_FORMAT"), os.Stderr)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logger settings")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, logger); err != nil {
		logger.WithError(err).Fatal("galleryd stopped")
	}
}

func run(ctx context.Context, logger *logrus.Logger) error {
	addr := os.Getenv("GALLERYD_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	store, err := buildStoreFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()
	changes, err := broker.BuildFromDSN(os.Getenv("GALLERYD_BROKER_DSN"), intEnv("GALLERYD_BROKER_BUFFER", 0))
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	defer changes.Close()
	objects, err := buildObjectsFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}
	policy, err := quotestore.LoadPolicy(strings.TrimSpace(os.Getenv("GALLERYD_QUOTA_FILE")))
	if err != nil {
		return fmt.Errorf("failed to load quota policy: %w", err)
	}

	metrics := observability.NewMetrics(nil)
	service, err := quotestore.NewService(quotestore.ServiceOptions{
		Store:   store,
		Broker:  changes,
		Objects: objects,
		Policy:  policy,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	cfg := httpapi.ServerConfig{
		JWTSecret:       os.Getenv("GALLERYD_JWT_SECRET"),
		AllowedOrigins:  listEnv("GALLERYD_ALLOWED_ORIGINS"),
		RateLimitMax:    intEnv("GALLERYD_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("GALLERYD_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("GALLERYD_MAX_BODY_BYTES", 0),
		MaxBulkDelete:   intEnv("GALLERYD_MAX_BULK_DELETE", 0),
	}
	if cfg.JWTSecret == "" {
		logger.Warn("GALLERYD_JWT_SECRET is unset; using the development secret")
	}
	if owner := strings.TrimSpace(os.Getenv("GALLERYD_PRINT_TOKEN")); owner != "" {
		secret := cfg.JWTSecret
		if secret == "" {
			secret = "dev-secret"
		}
		token, err := httpapi.NewSigner(secret, durationEnv("GALLERYD_PRINT_TOKEN_TTL", 24*time.Hour)).Token(owner)
		if err != nil {
			return err
		}
		logger.WithField("owner", owner).Infof("development token: %s", token)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(service, cfg, logger, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("galleryd listening")
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv("GALLERYD_SHUTDOWN_TIMEOUT", 10*time.Second))
	defer cancel()
	logger.Info("galleryd shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func listEnv(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildStoreFromEnv() (quotestore.Store, error) {
	profileDSN, err := storeProfileDefaultsFromEnv()
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(os.Getenv("GALLERYD_STORE_DSN"))
	if dsn == "" {
		dsn = profileDSN
	}
	return quotestore.BuildStoreFromDSN(dsn)
}

func storeProfileDefaultsFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("GALLERYD_BACKEND_PROFILE")))
	switch profile {
	case "", "custom":
		return "", nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("GALLERYD_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("GALLERYD_POSTGRES_DSN is required when GALLERYD_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported GALLERYD_BACKEND_PROFILE: %s", profile)
	}
}

func buildObjectsFromEnv(ctx context.Context) (quotestore.ObjectRemover, error) {
	bucket := strings.TrimSpace(os.Getenv("GALLERYD_S3_BUCKET"))
	if bucket == "" {
		return quotestore.NoopObjects{}, nil
	}
	return quotestore.NewS3Objects(ctx, quotestore.S3Config{
		Bucket:       bucket,
		Region:       os.Getenv("GALLERYD_S3_REGION"),
		Endpoint:     os.Getenv("GALLERYD_S3_ENDPOINT"),
		AccessKey:    os.Getenv("GALLERYD_S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("GALLERYD_S3_SECRET_KEY"),
		UsePathStyle: boolEnv("GALLERYD_S3_PATH_STYLE", false),
	})
}
