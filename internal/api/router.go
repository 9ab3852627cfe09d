package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/deliverly/marketplace-api/docs"
	"github.com/deliverly/marketplace-api/internal/api/handler"
	"github.com/deliverly/marketplace-api/internal/api/middleware"
	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/core/service"
	"github.com/deliverly/marketplace-api/internal/infrastructure/telemetry"
	"github.com/deliverly/marketplace-api/internal/pkg/config"
)

// RatePolicies are the three named limits routes are charged against.
type RatePolicies struct {
	Auth      ports.RatePolicy
	API       ports.RatePolicy
	Sensitive ports.RatePolicy
}

// NewRatePolicies builds the policies from configuration. Failed logins and
// registrations are refunded so only successful auth attempts use quota.
func NewRatePolicies(cfg config.RateLimitConfig) RatePolicies {
	return RatePolicies{
		Auth: ports.RatePolicy{
			Name:               "auth",
			KeyPrefix:          "rl:auth:",
			Window:             cfg.AuthWindow,
			MaxRequests:        cfg.AuthMax,
			SkipFailedRequests: true,
		},
		API: ports.RatePolicy{
			Name:        "api",
			KeyPrefix:   "rl:api:",
			Window:      cfg.APIWindow,
			MaxRequests: cfg.APIMax,
		},
		Sensitive: ports.RatePolicy{
			Name:        "sensitive",
			KeyPrefix:   "rl:sensitive:",
			Window:      cfg.SensitiveWindow,
			MaxRequests: cfg.SensitiveMax,
		},
	}
}

// Dependencies are the use cases the router mounts. Readiness is optional.
type Dependencies struct {
	Arbiter      middleware.Arbiter
	Auth         ports.AuthService
	Lifecycle    ports.FirmLifecycle
	Subscription ports.SubscriptionGate
	Readiness    *handler.HealthDependenciesHandler
	Log          zerolog.Logger
	// TrustProxy reads the client IP from X-Forwarded-For instead of the
	// peer address. Anonymous rate keys are built from that IP.
	TrustProxy   bool
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies, rates RatePolicies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)
	e.IPExtractor = echo.ExtractIPDirect()
	if deps.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	// HTTP metrics live in a per-router registry so tests can build more than
	// one router; /metrics gathers it together with the default registry.
	httpMetrics := prometheus.NewRegistry()

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(telemetry.Middleware())
	e.Use(requestLogger(deps.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "marketplace",
		Subsystem:  "http",
		Registerer: httpMetrics,
	}))

	// --- Handlers ---
	authHandler := handler.NewAuthHandler(deps.Auth)
	firmHandler := handler.NewFirmHandler(deps.Lifecycle)
	subscriptionHandler := handler.NewSubscriptionHandler(deps.Subscription)
	guard := func(p service.RoutePolicy) echo.MiddlewareFunc {
		return middleware.Guard(deps.Arbiter, p)
	}

	// --- Auth routes (anonymous) ---
	e.POST("/auth/register", authHandler.Register, guard(service.RoutePolicy{
		Name: "auth.register",
		Rate: &rates.Auth,
	}))
	e.POST("/auth/login", authHandler.Login, guard(service.RoutePolicy{
		Name: "auth.login",
		Rate: &rates.Auth,
	}))

	// --- Tenant routes ---
	v1 := e.Group("/v1")
	v1.GET("/firms/public", firmHandler.ListPublic, guard(service.RoutePolicy{
		Name: "firms.public",
		Auth: service.AuthOptional,
		Rate: &rates.API,
	}))
	v1.GET("/scope", firmHandler.Scope, guard(tenantRead("scope", rates)))
	v1.GET("/firms/:firm_id", firmHandler.Get, guard(tenantRead("firms.get", rates)))
	v1.GET("/firms/:firm_id/subscription", subscriptionHandler.Get, guard(tenantRead("subscription.get", rates)))
	v1.POST("/firms/:firm_id/subscription/refresh", subscriptionHandler.Refresh, guard(tenantRead("subscription.refresh", rates)))
	v1.POST("/firms/:firm_id/members", authHandler.CreateMember, guard(service.RoutePolicy{
		Name:               "firms.members.create",
		Auth:               service.AuthRequired,
		Rate:               &rates.Sensitive,
		TenantScoped:       true,
		Roles:              []domain.Role{domain.RoleFirmOwner},
		RequireEntitlement: true,
	}))
	v1.POST("/firms/:firm_id/submit", firmHandler.Submit, guard(service.RoutePolicy{
		Name:               "firms.submit",
		Auth:               service.AuthRequired,
		Rate:               &rates.Sensitive,
		TenantScoped:       true,
		Roles:              []domain.Role{domain.RoleFirmOwner},
		RequireEntitlement: true,
		Transition:         domain.TransitionSubmitForReview,
	}))

	// --- Platform admin routes ---
	adminOnly := []domain.Role{domain.RolePlatformAdmin}
	admin := v1.Group("/admin")
	admin.GET("/firms", firmHandler.AdminList, guard(service.RoutePolicy{
		Name:  "admin.firms.list",
		Auth:  service.AuthRequired,
		Rate:  &rates.API,
		Roles: adminOnly,
	}))
	for action, t := range map[string]domain.FirmTransition{
		"approve":    domain.TransitionApprove,
		"reject":     domain.TransitionReject,
		"suspend":    domain.TransitionSuspend,
		"reactivate": domain.TransitionReactivate,
	} {
		admin.POST("/firms/:firm_id/"+action, firmHandler.AdminTransition(t), guard(service.RoutePolicy{
			Name:       "admin.firms." + action,
			Auth:       service.AuthRequired,
			Rate:       &rates.Sensitive,
			Roles:      adminOnly,
			Transition: t,
		}))
	}
	admin.PUT("/firms/:firm_id/subscription", subscriptionHandler.ChangePlan, guard(service.RoutePolicy{
		Name:  "admin.subscription.change",
		Auth:  service.AuthRequired,
		Rate:  &rates.Sensitive,
		Roles: adminOnly,
	}))

	// --- Health probes, metrics and docs (no auth required) ---
	e.GET("/health", handler.NewHealthHandler().Liveness)
	if deps.Readiness != nil {
		e.GET("/health/ready", deps.Readiness.Readiness)
	}
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, httpMetrics},
	}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// tenantRead is the policy of plain reads inside the caller's own firm.
func tenantRead(name string, rates RatePolicies) service.RoutePolicy {
	return service.RoutePolicy{
		Name:         name,
		Auth:         service.AuthRequired,
		Rate:         &rates.API,
		TenantScoped: true,
	}
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= 500 {
				ev = log.Error().Err(v.Error)
			}
			if traceID := telemetry.TraceIDFromContext(c.Request().Context()); traceID != "" {
				ev = ev.Str("trace_id", traceID)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
