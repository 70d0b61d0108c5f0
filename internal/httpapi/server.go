package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
	"github.com/quotebot/quotegallery/internal/quotestore"
)

const correlationHeader = "X-Correlation-Id"

type ServerConfig struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	MaxBulkDelete   int
}

// Server is the galleryd HTTP surface: the artifact page and delete API, the
// ingest and moderation endpoints, and the websocket change feed.
type Server struct {
	service *quotestore.Service
	cfg     ServerConfig
	limiter *rateLimiter
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
	router  chi.Router
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(service *quotestore.Service, cfg ServerConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"https://*", "http://*"}
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxBulkDelete <= 0 {
		cfg.MaxBulkDelete = quotes.MaxPageSize
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		service: service,
		cfg:     cfg,
		limiter: limiter,
		logger:  observability.OrDiscard(logger),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.correlate)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader, "Retry-After"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.requireScope(ScopeRead, true)).Get("/feed", s.handleFeed)
		r.Route("/quotes", func(r chi.Router) {
			r.With(s.requireScope(ScopeRead, false)).Get("/", s.handleListQuotes)
			r.With(s.requireScope(ScopeIngest, false)).Post("/", s.handleIngestQuote)
			r.With(s.requireScope(ScopeWrite, false)).Post("/bulk-delete", s.handleBulkDelete)
			r.With(s.requireScope(ScopeWrite, false)).Delete("/{id}", s.handleDeleteQuote)
		})
		r.Route("/admin/quotes/{id}", func(r chi.Router) {
			r.Use(s.requireScope(ScopeModerate, false))
			r.Delete("/", s.handleModerateQuote)
			r.Patch("/", s.handleEditCaption)
		})
	})
	return r
}

// correlate echoes the caller's correlation id or assigns one.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = "req_" + strings.ToLower(ulid.Make().String())
			r.Header.Set(correlationHeader, id)
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed.Seconds())
		s.logger.WithFields(logrus.Fields{
			"method":        r.Method,
			"route":         route,
			"status":        status,
			"duration":      elapsed.String(),
			"correlationId": getCorrelationID(r),
		}).Debug("request served")
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get(correlationHeader)
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Code: code, Message: message, CorrelationID: getCorrelationID(r)})
}

// writeServiceError maps store and service failures onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quotes.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "quote not found")
	case errors.Is(err, quotes.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, quotestore.ErrQuotaExceeded):
		writeError(w, r, http.StatusForbidden, "quota_exceeded", "storage quota exhausted")
	default:
		s.logger.WithError(err).WithFields(logrus.Fields{
			"method":        r.Method,
			"path":          r.URL.Path,
			"correlationId": getCorrelationID(r),
		}).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (r *rateLimiter) retryAfter() string {
	seconds := int(math.Ceil(r.window.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
