// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/service"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// VaultAPI is the subset of the vault service exposed over HTTP
type VaultAPI interface {
	VaultIDs() []common.Address
	Summary(ctx context.Context, vaultID common.Address) (types.VaultSummary, error)
	Account(vaultID, account common.Address) (*service.AccountView, error)
	StrategyInfo(vaultID, strategyID common.Address) (types.StrategySummary, error)
	Allocation(vaultID common.Address) ([]service.AllocationView, error)
	Reports(ctx context.Context, vaultID common.Address, strategyID *common.Address, limit int) ([]*models.HarvestReport, error)
	CheckConsistency(vaultID common.Address) (*service.ConsistencyResult, error)
	Monitor() *service.OperationMonitor
	BackendHealth(ctx context.Context) map[string]string

	Deposit(ctx context.Context, vaultID, depositor common.Address, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(ctx context.Context, vaultID common.Address, req service.WithdrawRequest) (*vault.WithdrawResult, error)
	Harvest(ctx context.Context, vaultID, strategyID common.Address) (*vault.HarvestReport, error)

	AddStrategy(ctx context.Context, vaultID common.Address, spec config.StrategySpec) error
	UpdateDebtRatio(ctx context.Context, vaultID, strategyID common.Address, bps uint64) error
	RevokeStrategy(ctx context.Context, vaultID, strategyID common.Address) error
	SetEmergencyExit(ctx context.Context, vaultID, strategyID common.Address) error
	RemoveStrategy(ctx context.Context, vaultID, strategyID common.Address) error
	MigrateStrategy(ctx context.Context, vaultID, oldID common.Address, spec config.StrategySpec) error
	SetEmergencyShutdown(ctx context.Context, vaultID common.Address, active bool) error
	SetDepositLimit(ctx context.Context, vaultID common.Address, limit *uint256.Int) error

	Fund(account common.Address, amount *uint256.Int) error
	Simulate(strategyID common.Address, earn, lose *uint256.Int) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	vaults     VaultAPI
	logger     *logging.Logger
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
	// RequestsPerSecond and Burst bound each client; zero disables limiting
	RequestsPerSecond float64
	Burst             int
}

// NewServerConfig fills timeouts around the process configuration
func NewServerConfig(srv config.ServerConfig, rl config.RateLimitConfig) *ServerConfig {
	return &ServerConfig{
		Host:              srv.Host,
		Port:              srv.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
	}
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig, vaults VaultAPI, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		vaults: vaults,
		logger: logger.WithComponent("api"),
		config: cfg,
	}

	s.setupRouter()

	return s
}

// Handler returns the routed handler, middleware included
func (s *Server) Handler() http.Handler { return s.router }

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: recovery must wrap everything below logging
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// preflight requests are answered by CORSMiddleware once a route matches
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/vaults", s.handleListVaults).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/accounts/{account}/fund", s.handleFund).Methods("POST")

	// Vault endpoints
	v := api.PathPrefix("/vaults/{vault}").Subrouter()
	v.HandleFunc("", s.handleGetVault).Methods("GET")
	v.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	v.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	v.HandleFunc("/accounts/{account}", s.handleGetAccount).Methods("GET")
	v.HandleFunc("/allocation", s.handleAllocation).Methods("GET")
	v.HandleFunc("/reports", s.handleReports).Methods("GET")
	v.HandleFunc("/consistency", s.handleConsistency).Methods("GET")
	v.HandleFunc("/shutdown", s.handleShutdown).Methods("PUT")
	v.HandleFunc("/deposit-limit", s.handleDepositLimit).Methods("PUT")

	// Strategy endpoints
	v.HandleFunc("/strategies", s.handleAddStrategy).Methods("POST")
	v.HandleFunc("/strategies/{strategy}", s.handleGetStrategy).Methods("GET")
	v.HandleFunc("/strategies/{strategy}", s.handleRemoveStrategy).Methods("DELETE")
	v.HandleFunc("/strategies/{strategy}/harvest", s.handleHarvest).Methods("POST")
	v.HandleFunc("/strategies/{strategy}/debt-ratio", s.handleDebtRatio).Methods("PUT")
	v.HandleFunc("/strategies/{strategy}/revoke", s.handleRevoke).Methods("POST")
	v.HandleFunc("/strategies/{strategy}/emergency-exit", s.handleEmergencyExit).Methods("POST")
	v.HandleFunc("/strategies/{strategy}/migrate", s.handleMigrate).Methods("POST")
	v.HandleFunc("/strategies/{strategy}/simulate", s.handleSimulate).Methods("POST")
}

// handleHealth handles health check requests.
// A failing backend degrades the status without failing the request: the in-memory
// ledger keeps serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	backends := s.vaults.BackendHealth(r.Context())
	for _, state := range backends {
		if state != "ok" {
			status = "degraded"
		}
	}

	body := map[string]interface{}{
		"status":  status,
		"service": "yield-vault",
		"vaults":  len(s.vaults.VaultIDs()),
	}
	if len(backends) > 0 {
		body["backends"] = backends
	}
	respondJSON(w, http.StatusOK, body)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
