package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/config"
	"github.com/quotebot/quotegallery/internal/feed"
	"github.com/quotebot/quotegallery/internal/gallery"
	"github.com/quotebot/quotegallery/internal/httpapi"
	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
	"github.com/quotebot/quotegallery/internal/quotesapi"
)

type options struct {
	baseURL         string
	owner           string
	token           string
	secret          string
	configFile      string
	feed            bool
	pageSize        int
	sortKey         string
	sortDir         string
	refreshInterval time.Duration
	intervalJitter  float64
	timeout         time.Duration
	logLevel        string
	logFormat       string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env")
	}
	opts := options{}
	flag.StringVar(&opts.baseURL, "base-url", envOrDefault("GALLERY_BASE_URL", "http://127.0.0.1:8080"), "galleryd base URL")
	flag.StringVar(&opts.owner, "owner", strings.TrimSpace(os.Getenv("GALLERY_OWNER")), "acting user id")
	flag.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("GALLERY_TOKEN")), "bearer token")
	flag.StringVar(&opts.secret, "signing-secret", strings.TrimSpace(os.Getenv("GALLERY_SIGNING_SECRET")), "mint owner tokens with this secret instead of --token")
	flag.StringVar(&opts.configFile, "config", strings.TrimSpace(os.Getenv("GALLERY_CONFIG")), "YAML config file, watched for identity and feed changes")
	flag.BoolVar(&opts.feed, "feed", boolEnv("GALLERY_FEED", true), "subscribe to the live feed")
	flag.IntVar(&opts.pageSize, "page-size", intEnv("GALLERY_PAGE_SIZE", quotes.DefaultPageSize), "quotes per page")
	flag.StringVar(&opts.sortKey, "sort", envOrDefault("GALLERY_SORT", quotes.SortCreatedAt), "sort key (created_at, template)")
	flag.StringVar(&opts.sortDir, "order", envOrDefault("GALLERY_ORDER", quotes.SortDesc), "sort order (asc, desc)")
	flag.DurationVar(&opts.refreshInterval, "refresh-interval", durationEnv("GALLERY_REFRESH_INTERVAL", 0), "periodic refetch interval; 0 disables")
	flag.Float64Var(&opts.intervalJitter, "interval-jitter", floatEnv("GALLERY_INTERVAL_JITTER", 0.2), "refresh interval jitter ratio (0.0-1.0)")
	flag.DurationVar(&opts.timeout, "timeout", durationEnv("GALLERY_TIMEOUT", gallery.DefaultRequestTimeout), "per-request timeout")
	flag.StringVar(&opts.logLevel, "log-level", envOrDefault("GALLERY_LOG_LEVEL", "warn"), "log level")
	flag.StringVar(&opts.logFormat, "log-format", envOrDefault("GALLERY_LOG_FORMAT", "text"), "log format (text, json)")
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if opts.configFile != "" {
		fileCfg, err := config.Load(opts.configFile)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load config file")
		}
		opts = mergeConfig(opts, fileCfg, set)
	}

	logger, err := observability.NewLogger(opts.logLevel, opts.logFormat, os.Stderr)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logger settings")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, logger, os.Stdin, os.Stdout); err != nil {
		logger.WithError(err).Fatal("gallery-watch stopped")
	}
}

// mergeConfig fills every option the command line left unset from the
// config file.
func mergeConfig(opts options, cfg config.Config, set map[string]bool) options {
	str := func(flagName string, dst *string, value string) {
		if !set[flagName] && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	str("base-url", &opts.baseURL, cfg.BaseURL)
	str("owner", &opts.owner, cfg.OwnerID)
	str("token", &opts.token, cfg.Token)
	str("signing-secret", &opts.secret, cfg.SigningSecret)
	str("sort", &opts.sortKey, cfg.Sort)
	str("order", &opts.sortDir, cfg.Order)
	str("log-level", &opts.logLevel, cfg.LogLevel)
	str("log-format", &opts.logFormat, cfg.LogFormat)
	if !set["feed"] && cfg.Feed != nil {
		opts.feed = *cfg.Feed
	}
	if !set["page-size"] && cfg.PageSize > 0 {
		opts.pageSize = cfg.PageSize
	}
	if !set["refresh-interval"] && cfg.RefreshInterval > 0 {
		opts.refreshInterval = cfg.RefreshInterval
	}
	if !set["timeout"] && cfg.RequestTimeout > 0 {
		opts.timeout = cfg.RequestTimeout
	}
	return opts
}

func tokenSource(opts options) (quotesapi.TokenSource, error) {
	switch {
	case opts.token != "":
		return quotesapi.StaticToken(opts.token), nil
	case opts.secret != "":
		return httpapi.NewSigner(opts.secret, time.Hour), nil
	default:
		return nil, errors.New("token is required (--token, --signing-secret, GALLERY_TOKEN or GALLERY_SIGNING_SECRET)")
	}
}

func run(ctx context.Context, opts options, logger *logrus.Logger, in io.Reader, out io.Writer) error {
	tokens, err := tokenSource(opts)
	if err != nil {
		return err
	}
	if opts.timeout <= 0 {
		opts.timeout = gallery.DefaultRequestTimeout
	}
	out = &lockedWriter{w: out}
	metrics := observability.NewMetrics(nil)
	query := quotes.DefaultQuery()
	query.PageSize = opts.pageSize
	query.SortKey = opts.sortKey
	query.SortDir = opts.sortDir

	g := gallery.New(gallery.Options{
		API: quotesapi.NewClient(opts.baseURL, tokens, &http.Client{Timeout: opts.timeout},
			quotesapi.WithLogger(logger)),
		Transport:      &feed.Dialer{BaseURL: opts.baseURL, Tokens: tokens, Logger: logger},
		OwnerID:        opts.owner,
		Query:          query.Normalize(),
		FeedDisabled:   !opts.feed,
		RequestTimeout: opts.timeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- g.Run(ctx) }()

	if opts.configFile != "" {
		if err := watchConfig(ctx, g, opts.configFile, logger); err != nil {
			logger.WithError(err).Warn("config file not watched")
		}
	}
	if opts.refreshInterval > 0 {
		go refreshLoop(ctx, g, opts.refreshInterval, clampJitterRatio(opts.intervalJitter), logger)
	}
	go printChanges(ctx, g, out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			act, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if act == nil {
				continue
			}
			if err := act(ctx, g, out); err != nil {
				if errors.Is(err, gallery.ErrClosed) {
					return <-runErr
				}
				fmt.Fprintln(out, err)
			}
		}
	}
}

// watchConfig applies identity and feed changes from the config file to
// the running gallery.
func watchConfig(ctx context.Context, g *gallery.Gallery, path string, logger logrus.FieldLogger) error {
	w, err := config.NewWatcher(path, logger, func(cfg config.Config) {
		if owner := strings.TrimSpace(cfg.OwnerID); owner != "" {
			if err := g.SetIdentity(ctx, owner); err != nil {
				logger.WithError(err).Warn("identity change not applied")
			}
		}
		if err := g.SetFeedEnabled(ctx, cfg.FeedEnabled()); err != nil {
			logger.WithError(err).Warn("feed toggle not applied")
		}
	})
	if err != nil {
		return err
	}
	go func() { _ = w.Run(ctx) }()
	return nil
}

func refreshLoop(ctx context.Context, g *gallery.Gallery, interval time.Duration, jitter float64, logger logrus.FieldLogger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := g.Refresh(ctx); err != nil {
				logger.WithError(err).Debug("periodic refresh stopped")
				return
			}
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		}
	}
}

// printChanges redraws the gallery whenever its view changes.
func printChanges(ctx context.Context, g *gallery.Gallery, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.Changes():
			renderView(out, g.View())
		}
	}
}

// lockedWriter serializes redraws and command output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
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

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
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

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
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

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
