// Package handler is the thin HTTP layer over the identity resolver. It
// owns request parsing and status mapping; business logic stays in the
// service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"unify/internal/contact/lock"
	"unify/internal/contact/models"
	"unify/internal/platform/metrics"
	"unify/internal/platform/middleware"
	dErrors "unify/pkg/domain-errors"
	"unify/pkg/platform/httputil"
	"unify/pkg/requestcontext"
)

// Service defines the resolver operations the handler depends on.
type Service interface {
	Resolve(ctx context.Context, email, phoneNumber string) (*models.ClusterView, error)
	ListClusters(ctx context.Context) ([]models.ClusterGroup, error)
	Health(ctx context.Context) error
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	guard        *lock.Guard
}

type Option func(*Handler)

// WithGuard serializes concurrent resolutions per field value.
func WithGuard(g *lock.Guard) Option {
	return func(h *Handler) {
		h.guard = g
	}
}

// WithMetrics enables the HTTP latency histogram.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		logger:       logger,
		jwtValidator: jwtValidator,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register wires all routes onto the given router.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	if h.metrics != nil {
		r.Use(middleware.Latency(h.metrics))
	}

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.ContentTypeJSON).Post("/identify", h.handleIdentify)
	r.With(middleware.RequireAuth(h.jwtValidator, h.logger)).Get("/identify", h.handleListClusters)
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	email, phone := req.Normalize()
	if email == "" && phone == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "at least one of email or phoneNumber is required"))
		return
	}

	view, err := h.resolve(ctx, email, phone)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "identity resolution failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, view.ToResponse())
}

func (h *Handler) resolve(ctx context.Context, email, phone string) (*models.ClusterView, error) {
	if h.guard == nil {
		return h.service.Resolve(ctx, email, phone)
	}
	return h.guard.Do(ctx, email, phone, func(ctx context.Context) (*models.ClusterView, error) {
		return h.service.Resolve(ctx, email, phone)
	})
}

func (h *Handler) handleListClusters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groups, err := h.service.ListClusters(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "cluster listing failed",
			"subject", middleware.GetSubject(ctx),
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "cluster listing failed"))
		return
	}

	h.logger.InfoContext(ctx, "clusters listed",
		"request_id", requestcontext.RequestID(ctx),
		"subject", middleware.GetSubject(ctx),
		"clusters", len(groups),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"clusters": groups,
		"total":    len(groups),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "connected",
	})
}
