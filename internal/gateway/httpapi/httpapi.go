// Package httpapi implements the HTTP transport for LARS.
//
// The transport is deliberately thin: it resolves the session, enforces
// auth, body size, and rate limits, and forwards everything else to the
// planning pipeline. There is no per-resource routing table; a handful of
// reserved paths aside, every method on every path lands in the same
// catch-all handler.
//
// Security:
//   - Optional bearer token authentication (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-session rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/lars/internal/observability"
	"github.com/jkaninda/lars/internal/openapi"
	"github.com/jkaninda/lars/internal/ratelimit"
	"github.com/jkaninda/lars/internal/runtime"
	"github.com/jkaninda/lars/internal/store"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

var errBodyTooLarge = errors.New("request body exceeds the configured limit")

// ErrorBody is the standard error response shape.
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Config configures the HTTP transport.
type Config struct {
	ListenAddr     string // e.g. ":8000"
	APIToken       string // Empty = authentication disabled.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.
	Version        string // Reported on the root banner.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics. nil = no endpoint.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
}

// Gateway is the HTTP transport in front of the planning pipeline.
type Gateway struct {
	config   Config
	pipeline *runtime.Pipeline
	store    *store.Store
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
}

// NewGateway creates the HTTP transport.
func NewGateway(cfg Config, pipeline *runtime.Pipeline, st *store.Store, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		pipeline: pipeline,
		store:    st,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	if g.config.Metrics != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, next)
		})
	}

	// Reserved paths. Everything else belongs to the catch-all.
	g.okapi.Get("/", g.handleRoot,
		okapi.DocSummary("Service banner"),
		okapi.DocTags("Meta"),
	)
	g.okapi.Get("/healthz", g.handleLiveness,
		okapi.DocSummary("Liveness probe"),
		okapi.DocTags("Health"),
	)
	g.okapi.Get("/readyz", g.handleReadiness,
		okapi.DocSummary("Readiness probe"),
		okapi.DocTags("Health"),
	)
	g.okapi.HandleStd(http.MethodGet, "/swagger.json", g.handleSwagger)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd(http.MethodGet, path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	// The dynamic surface: every remaining path, every method.
	for _, method := range []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete,
	} {
		g.okapi.HandleStd(method, "/{path:.*}", g.handleDynamic)
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// RootResponse is the JSON banner on GET /.
type RootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Hint    string `json:"hint"`
}

func (g *Gateway) handleRoot(c *okapi.Context) error {
	return c.OK(RootResponse{
		Service: "The Last REST Service",
		Version: g.config.Version,
		Hint:    "Request any path and the service will figure out the rest. See /swagger.json for what this session has built so far.",
	})
}

// HealthResponse is the JSON response for the health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// handleSwagger serves the OpenAPI document generated from the calling
// session's schema snapshots. It is a std handler so it can share the
// session resolution code with the dynamic surface.
func (g *Gateway) handleSwagger(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, ErrorBody{
			Error:  "missing or invalid bearer token",
			Reason: "unauthorized",
		})
		return
	}

	sessionID := resolveSession(r)
	tenant, err := g.store.Tenant(sessionID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, ErrorBody{
			Error:  "session identifier is not usable",
			Reason: "invalid_session",
		})
		return
	}
	schemas, err := tenant.Schemas()
	if err != nil {
		g.logger.Warn("schema snapshot read failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		schemas = nil
	}

	serverURL := "http://" + r.Host
	if r.TLS != nil {
		serverURL = "https://" + r.Host
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openapi.Generate(sessionID, serverURL, schemas))
}

// authorized validates the bearer token when one is configured.
func (g *Gateway) authorized(r *http.Request) bool {
	if g.config.APIToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.config.APIToken)) == 1
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func newRequestID(r *http.Request) string {
	if rid := strings.TrimSpace(r.Header.Get(requestIDHeader)); rid != "" {
		return rid
	}
	return uuid.New().String()
}
