// Package api exposes the dispatch operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/globalization/internal/audit"
	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/health"
	"github.com/Proton-105/globalization/internal/middleware"
	"github.com/Proton-105/globalization/internal/payment"
	"github.com/Proton-105/globalization/pkg/logger"
)

// Dispatcher is the operation surface served by the API.
type Dispatcher interface {
	SendPush(ctx context.Context, platform string, recipients []string, content string) error
	SendPushAsync(ctx context.Context, platform string, recipients []string, content string) (string, error)
	PayUser(ctx context.Context, amount decimal.Decimal, user domain.User, opts ...payment.PayOption) (*payment.Receipt, error)
	GetTemplate(key, lang string, data any) (string, error)
	LogAudit(ctx context.Context, action, userID string, details map[string]any) (*audit.Entry, error)
}

// Users looks up and stores user profiles.
type Users interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error
}

// Readiness reports backend health.
type Readiness interface {
	Check(ctx context.Context) health.Report
}

// Deps are the collaborators of the HTTP API. Health and RateLimit may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Users      Users
	Health     Readiness
	Errors     *apperrors.Handler
	RateLimit  *middleware.RateLimit
}

// Server routes requests to the dispatcher.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewHandler builds the routed and middleware-wrapped API handler.
func NewHandler(deps Deps, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if deps.Errors == nil {
		deps.Errors = apperrors.NewHandler(log, false)
	}

	s := &Server{deps: deps, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/push", s.handlePush)
	mux.HandleFunc("POST /v1/payouts", s.handlePayout)
	mux.HandleFunc("POST /v1/templates/{key}/render", s.handleRender)
	mux.HandleFunc("POST /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("PUT /v1/users/{id}", s.handlePutUser)
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := []func(http.Handler) http.Handler{
		logger.Middleware,
		middleware.Logging(log),
		middleware.Metrics(mux),
	}
	if deps.RateLimit != nil {
		chain = append(chain, deps.RateLimit.Handler)
	}
	chain = append(chain, middleware.IdempotencyKey)

	return middleware.Chain(mux, chain...)
}
