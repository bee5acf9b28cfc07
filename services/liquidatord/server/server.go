package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ripecore/native/lending"
	"ripecore/observability"
	"ripecore/storage/journal"
)

const (
	serviceName     = "liquidatord"
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
	maxBatchOwners  = 256
)

var errRateLimited = errors.New("rate limit exceeded")

// Engine is the subset of the liquidation engine exposed over HTTP.
type Engine interface {
	Liquidate(ctx context.Context, keeper, owner common.Address, wantsStaked bool) (*lending.LiquidationResult, error)
	LiquidateManyPositions(ctx context.Context, keeper common.Address, owners []common.Address, wantsStaked bool) (*big.Int, error)
	Deleverage(ctx context.Context, caller, owner common.Address, target *big.Int) (*lending.DeleverageResult, error)
	TargetRepay(ctx context.Context, owner common.Address) (*big.Int, error)
}

// PricePublisher accepts oracle updates.
type PricePublisher interface {
	Publish(asset common.Address, price *big.Int, ts time.Time) error
	PublishShareRate(wrapper common.Address, decimals uint8, optimistic, safe *big.Int, ts time.Time) error
}

// EventLog serves journaled engine events.
type EventLog interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
	Ping(ctx context.Context) error
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    Engine
	Prices    PricePublisher
	Events    EventLog
	Auth      *Authenticator
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server exposes the liquidation engine over HTTP.
type Server struct {
	engine  Engine
	prices  PricePublisher
	events  EventLog
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{}, logger)
	}
	srv := &Server{
		engine:  cfg.Engine,
		prices:  cfg.Prices,
		events:  cfg.Events,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), serviceName)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)
		api.Post("/positions/{owner}/liquidate", s.LiquidatePosition)
		api.Post("/positions/{owner}/deleverage", s.DeleveragePosition)
		api.Get("/positions/{owner}/target-repay", s.TargetRepay)
		api.Get("/positions/{owner}/events", s.PositionEvents)
		api.Post("/liquidations/batch", s.LiquidateBatch)
		api.With(s.auth.RequireOracle).Post("/oracle/prices", s.PublishPrices)
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		observability.ModuleMetrics().Observe(serviceName, r.Method+" "+route, status, duration)
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request served",
			slog.String("requestId", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", duration))
	})
}
