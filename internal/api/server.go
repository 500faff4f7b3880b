// Package api exposes the HTTP surface consumed by the mini-app: access
// checks, purchase initiation, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"tg_paywall_bot/internal/logging"
	"tg_paywall_bot/internal/metrics"
	"tg_paywall_bot/internal/payments"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 2 * time.Second
	statsTimeout      = 2 * time.Second
)

// accessQuerier is the ledger read path.
type accessQuerier interface {
	Query(ctx context.Context, userID int64) (bool, int64, error)
}

// invoiceSubmitter issues an invoice for a plan to a chat.
type invoiceSubmitter interface {
	Submit(ctx context.Context, chatID int64, plan payments.Plan) (string, error)
}

// MongoChecker defines the subset of store behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// StatsReader supplies collection counts for the health payload.
type StatsReader interface {
	CountActiveAccess(ctx context.Context, nowTS int64) (int64, error)
	CountCharges(ctx context.Context) (int64, error)
}

type apiMetrics interface {
	RecordCheckAccess(verified bool)
	RecordPurchase(outcome string)
}

type noopAPIMetrics struct{}

func (noopAPIMetrics) RecordCheckAccess(bool) {}
func (noopAPIMetrics) RecordPurchase(string)  {}

// Deps bundles what the server needs; Metrics, Stats, Gatherer, and Limiter
// may be nil.
type Deps struct {
	BotToken string
	Ledger   accessQuerier
	Invoicer invoiceSubmitter
	Mongo    MongoChecker
	Stats    StatsReader
	Metrics  apiMetrics
	Gatherer prometheus.Gatherer
	Limiter  *RateLimiter
	Logger   *logrus.Entry
}

// Server hosts the mini-app API and owns the underlying HTTP server.
type Server struct {
	server   *http.Server
	logger   *logrus.Entry
	botToken string
	ledger   accessQuerier
	invoicer invoiceSubmitter
	mongo    MongoChecker
	stats    StatsReader
	metrics  apiMetrics
}

// NewServer constructs the API server listening on the provided port.
func NewServer(port int, deps Deps) (*Server, error) {
	if deps.BotToken == "" {
		return nil, errors.New("bot token is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("access ledger is required")
	}
	if deps.Invoicer == nil {
		return nil, errors.New("invoicer is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Logger()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopAPIMetrics{}
	}

	srv := &Server{
		logger:   deps.Logger,
		botToken: deps.BotToken,
		ledger:   deps.Ledger,
		invoicer: deps.Invoicer,
		mongo:    deps.Mongo,
		stats:    deps.Stats,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(srv.logRequests)

	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		r.Post("/api/has", srv.handleCheckAccess)
		r.Post("/buy", srv.handleBuy)
	})

	r.Get("/healthz", srv.handleHealth)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv, nil
}

// Handler exposes the router; used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts the API server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "api_listen",
		"addr":  s.server.Addr,
	}).Info("starting api server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "api_stopped").Info("api server stopped")
			return nil
		}

		return fmt.Errorf("api server listen: %w", err)
	}

	s.logger.WithField("event", "api_stopped").Info("api server stopped")
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.WithFields(logging.Fields{
			"event":       "http_request",
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("handled request")
	})
}

type healthResponse struct {
	Status       string `json:"status"`
	Mongo        string `json:"mongo,omitempty"`
	ActiveAccess *int64 `json:"active_access,omitempty"`
	Charges      *int64 `json:"charges,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	ctx := r.Context()

	if s.mongo == nil {
		resp.Status = "degraded"
		resp.Mongo = "error"
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
		err := s.mongo.Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Mongo = "error"
			s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		}
	}

	if s.stats != nil && resp.Status == "ok" {
		statsCtx, cancel := context.WithTimeout(ctx, statsTimeout)
		active, activeErr := s.stats.CountActiveAccess(statsCtx, time.Now().Unix())
		charges, chargesErr := s.stats.CountCharges(statsCtx)
		cancel()

		if activeErr == nil && chargesErr == nil {
			resp.ActiveAccess = &active
			resp.Charges = &charges
		}
	}

	writeJSON(s.logger, w, http.StatusOK, resp)
}

func writeJSON(logger *logrus.Entry, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithField("event", "response_write_error").WithError(err).Error("failed to encode response")
	}
}
