// Package server is the gateway's HTTP surface: catalog routes forwarded to
// the platform service, user lifecycle endpoints, the pricing fan-out, the
// GraphQL proxy and health.
package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/auth"
	"github.com/wolfeidau/platform-gateway/internal/command"
	httpmiddleware "github.com/wolfeidau/platform-gateway/internal/http"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
)

// Config holds the HTTP surface limits.
type Config struct {
	// ChunkSize bounds the id list sent per pricing breakdown call.
	ChunkSize      int
	MaxBodyBytes   int64
	MaxUploadBytes int64
	// RateLimit is requests per second per client; zero disables it.
	RateLimit float64
	RateBurst int
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string
}

func (c Config) withDefaults() Config {
	if c.ChunkSize < 1 {
		c.ChunkSize = rpc.DefaultChunkSize
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	return c
}

const capturedBodyLimit = 64 << 10

// HealthChecker reports whether the platform transport is usable.
type HealthChecker interface {
	Healthy() bool
}

// Server wraps the gateway's handlers and their dependencies.
type Server struct {
	cfg      Config
	platform rpc.Caller
	users    UserService
	authn    *auth.Authenticator
	routes   []command.Route
	graphql  http.Handler
	health   HealthChecker
}

// NewServer creates a server serving command.Routes.
func NewServer(cfg Config, platform rpc.Caller, userService UserService, authn *auth.Authenticator) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		platform: platform,
		users:    userService,
		authn:    authn,
		routes:   command.Routes,
	}
}

// WithRoutes replaces the route table.
func (s *Server) WithRoutes(routes []command.Route) *Server {
	s.routes = routes
	return s
}

// WithGraphQL serves h at POST /graphql.
func (s *Server) WithGraphQL(h http.Handler) *Server {
	s.graphql = h
	return s
}

// WithHealth reports h from GET /api/health.
func (s *Server) WithHealth(h HealthChecker) *Server {
	s.health = h
	return s
}

// custom returns the handler for a named custom route.
func (s *Server) custom(route command.Route) (http.Handler, error) {
	switch route.Handler {
	case command.HandlerCreateUser:
		return http.HandlerFunc(s.createUser), nil
	case command.HandlerUpdateUser:
		return http.HandlerFunc(s.updateUser), nil
	case command.HandlerDeleteUser:
		return http.HandlerFunc(s.deleteUser), nil
	case command.HandlerResetPassword:
		return http.HandlerFunc(s.resetPassword), nil
	case command.HandlerChangePassword:
		return http.HandlerFunc(s.changePassword), nil
	case command.HandlerListIdentityUsers:
		return http.HandlerFunc(s.listIdentityUsers), nil
	case command.HandlerPricingBreakdown:
		return s.pricingBreakdown(route), nil
	default:
		return nil, fmt.Errorf("no handler named %q for %s", route.Handler, route.Key())
	}
}

func (s *Server) routeHandler(route command.Route) (http.Handler, error) {
	switch route.Kind {
	case command.KindCustom:
		if route.Handler != command.HandlerPricingBreakdown && s.users == nil {
			return nil, fmt.Errorf("%s needs a user service", route.Key())
		}
		return s.custom(route)
	case command.KindUpload:
		return s.upload(route), nil
	default:
		return s.forward(route), nil
	}
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() (http.Handler, error) {
	if err := command.Validate(s.routes); err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.healthCheck)

	if s.graphql != nil {
		mux.Handle("POST /graphql", s.graphql)
	}

	for _, route := range s.routes {
		h, err := s.routeHandler(route)
		if err != nil {
			return nil, err
		}
		mux.Handle(route.Key(), s.authn.Middleware(route.Access, route.Permissions, WriteError)(h))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, apperror.NotFound(fmt.Sprintf("cannot %s %s", r.Method, r.URL.Path)))
	})

	log.Info().Int("routes", len(s.routes)).Bool("graphql", s.graphql != nil).Msg("Routes registered")

	proxies, err := httpmiddleware.ParseTrustedProxies(s.cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	limiter := httpmiddleware.NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)

	return httpmiddleware.Chain(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.ClientIP(proxies),
		httpmiddleware.AccessLog(),
		httpmiddleware.Recover(WriteError),
		httpmiddleware.RateLimit(limiter, func(w http.ResponseWriter, r *http.Request) {
			writeErrorStatus(w, http.StatusTooManyRequests, "too many requests")
		}),
		httpmiddleware.CaptureBody(capturedBodyLimit),
	), nil
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	healthy := s.health == nil || s.health.Healthy()

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}

	WriteData(w, status, map[string]any{
		"status":    state,
		"transport": healthy,
	})
}
