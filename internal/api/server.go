// Package api exposes the wallet session and dashboard over HTTP.
package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/referral-dashboard/internal/circuitbreaker"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/ratelimit"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

// SessionService is the session manager as seen by the HTTP layer
type SessionService interface {
	Session() types.Session
	Connect(ctx context.Context, p wallet.Provider) error
	Logout(ctx context.Context) error
	SwitchNetwork(ctx context.Context) error
	Refresh(ctx context.Context) (*types.AggregateResult, error)
	IsRegistered(ctx context.Context) (bool, error)
	Register(ctx context.Context, code string) (*types.Registration, error)
	ResolveReferrer(ctx context.Context, code string) (*big.Int, common.Address, error)
}

// NoticeSource hands out queued user notices
type NoticeSource interface {
	Drain() []types.Notice
}

// BreakerSource reports contract read circuit breakers
type BreakerSource interface {
	GetAllStats() []circuitbreaker.Stats
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	sessions   SessionService
	notices    NoticeSource
	breakers   BreakerSource
	limiter    ratelimit.Limiter
	costs      *ratelimit.CostRegistry
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance. A nil limiter disables rate limiting.
func NewServer(
	config *ServerConfig,
	sessions SessionService,
	notices NoticeSource,
	breakers BreakerSource,
	limiter ratelimit.Limiter,
	costs *ratelimit.CostRegistry,
) *Server {
	if costs == nil {
		costs = ratelimit.NewCostRegistry(nil)
	}
	s := &Server{
		router:   mux.NewRouter(),
		sessions: sessions,
		notices:  notices,
		breakers: breakers,
		limiter:  limiter,
		costs:    costs,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter, s.costs))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET").Name("health")

	api := s.router.PathPrefix("/api").Subrouter()

	// Session endpoints
	api.HandleFunc("/session", s.handleGetSession).Methods("GET").Name("session")
	api.HandleFunc("/session/connect", s.handleConnect).Methods("POST").Name("connect")
	api.HandleFunc("/session/logout", s.handleLogout).Methods("POST").Name("logout")
	api.HandleFunc("/session/switch-network", s.handleSwitchNetwork).Methods("POST").Name("switch-network")
	api.HandleFunc("/notices", s.handleNotices).Methods("GET").Name("notices")
	api.HandleFunc("/ratelimit", s.handleRateLimit).Methods("GET").Name("ratelimit")

	// Dashboard and registration endpoints
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET").Name(ratelimit.RouteDashboard)
	api.HandleFunc("/registration", s.handleRegistration).Methods("GET").Name("registration")
	api.HandleFunc("/register", s.handleRegister).Methods("POST").Name(ratelimit.RouteRegister)
	api.HandleFunc("/referrals/resolve", s.handleResolveReferrer).Methods("GET").Name(ratelimit.RouteResolve)
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "referral-dashboard",
		"session": s.sessions.Session().Status,
	}
	if s.breakers != nil {
		response["breakers"] = s.breakers.GetAllStats()
	}
	respondJSON(w, http.StatusOK, response)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
