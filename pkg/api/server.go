package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/middleware"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/proxy"
	"github.com/prometheus/client_golang/prometheus"
)

// Config wires the server's collaborators. Optional collaborators left nil
// disable their routes.
type Config struct {
	Auth middleware.Authenticator
	// Sessions enables POST /api/logout
	Sessions SessionEnder
	Checkout CheckoutCreator
	Webhooks WebhookHandler
	Credits  CreditSpender
	Users    UserAdmin
	Stats    StatsReader
	Logs     LogReader
	// Files is nil when object storage is not configured
	Files FileService
	Proxy *proxy.Proxy
	// ProxyLimiter throttles the proxy routes per caller; nil disables limiting
	ProxyLimiter middleware.Limiter
	// Chatbot is nil when no OpenAI key is configured
	Chatbot ChatResponder

	Health   *observability.HealthChecker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *observability.Logger

	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server is the docmeter HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	cfg     Config
}

// NewServer creates a new API server and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}

	s := &Server{router: mux.NewRouter(), cfg: cfg}
	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(cfg.AllowedOrigins),
	}
	if cfg.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	}
	s.handler = observability.InstrumentHandler(httputil.Chain(chain...)(s.router), "docmeter")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))

	if s.cfg.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.cfg.Health)
	}
	if s.cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.cfg.Registry)).Methods(http.MethodGet)
	}

	// Processor webhooks authenticate by signature, not session
	if s.cfg.Webhooks != nil {
		NewWebhookHandlers(s.cfg.Webhooks).RegisterRoutes(s.router)
	}

	if s.cfg.Proxy != nil {
		var mw []mux.MiddlewareFunc
		if s.cfg.ProxyLimiter != nil {
			mw = append(mw, middleware.NewRateLimitMiddleware(s.cfg.ProxyLimiter, "proxy", s.cfg.Metrics).Handler)
		}
		s.cfg.Proxy.Register(s.router, mw...)
	}

	if s.cfg.Auth == nil {
		return
	}

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(middleware.NewAuthMiddleware(s.cfg.Auth, false).Handler)

	if s.cfg.Sessions != nil {
		NewSessionHandlers(s.cfg.Sessions).RegisterRoutes(authed)
	}
	if s.cfg.Users != nil {
		NewUserHandlers(s.cfg.Users).RegisterRoutes(authed)
	}
	if s.cfg.Credits != nil {
		NewCreditsHandlers(s.cfg.Credits).RegisterRoutes(authed)
	}
	if s.cfg.Checkout != nil {
		NewBillingHandlers(s.cfg.Checkout).RegisterRoutes(authed)
	}
	if s.cfg.Files != nil {
		NewFileHandlers(s.cfg.Files).RegisterRoutes(authed)
	}
	if s.cfg.Chatbot != nil {
		NewChatbotHandlers(s.cfg.Chatbot).RegisterRoutes(authed)
	}

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	NewAdminHandlers(s.cfg.Stats, s.cfg.Users, s.cfg.Logs).RegisterRoutes(admin)
}

// Router exposes the route table, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
