package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/rewards/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	groupMe       = "me"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// groupOrder fixes the mount order so route tables print deterministically.
var groupOrder = []string{groupMe, groupAdmin, groupWebhooks, groupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// NewRouter builds the rewards HTTP surface: /healthz and /readyz at the root, plus the me, admin,
// webhooks and internal groups under /api/v1. A group is mounted only when a registrar is supplied,
// so the worker binary can reuse the router for health checks alone.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		groups:   make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	mounted := 0
	for _, name := range groupOrder {
		if g := cfg.groups[name]; g != nil && g.registrar != nil {
			mounted++
		}
	}
	if mounted == 0 {
		return r
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.groups[name]
			if g == nil || g.registrar == nil {
				continue
			}
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware. It runs after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout replaces the per-request timeout. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		cfg.timeout = d
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMeRoutes mounts the signed-in user's balance, ledger and redemption routes.
func WithMeRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(groupMe).registrar = reg
	}
}

// WithAdminRoutes mounts staff review and rate administration.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(groupAdmin).registrar = reg
	}
}

// WithWebhookRoutes mounts the Stripe and affiliate network callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(groupWebhooks).registrar = reg
	}
}

// WithWebhookMiddlewares applies mw to the webhooks group only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupWebhooks)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithInternalRoutes mounts the service-to-service event, sweep and payout routes.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(groupInternal).registrar = reg
	}
}

// WithInternalMiddlewares applies mw to the internal group only, typically OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}
