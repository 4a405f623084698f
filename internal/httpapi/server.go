package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentmarket/engine/internal/config"
	"github.com/agentmarket/engine/internal/services/address"
	"github.com/agentmarket/engine/internal/services/auth"
	"github.com/agentmarket/engine/internal/services/coinregistry"
	"github.com/agentmarket/engine/internal/services/deadline"
	"github.com/agentmarket/engine/internal/services/fees"
	"github.com/agentmarket/engine/internal/services/jobs"
	"github.com/agentmarket/engine/internal/services/ledger"
	"github.com/agentmarket/engine/internal/services/ratelimit"
	"github.com/agentmarket/engine/internal/services/sandbox"
	"github.com/agentmarket/engine/internal/services/wallet"
	"github.com/agentmarket/engine/internal/storage/postgres"
)

// Server holds every dependency the handlers need. It carries no state of
// its own beyond the wired services — all durable state lives in Postgres
// and Redis.
type Server struct {
	store         *postgres.Store
	ledger        *ledger.Ledger
	jobs          *jobs.Service
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	deadlines     *deadline.Queue
	addresses     *wallet.AddressService
	deposits      *wallet.DepositService
	withdrawals   *wallet.WithdrawalWorker
	linker        *address.AddressService
	coins         *coinregistry.Registry
	verifier      *sandbox.Verifier
	schedule      fees.Schedule
	cfg           *config.Config
	log           *zap.Logger
}

// Deps bundles every wired service Server needs, so the constructor stays
// one call even as the dependency set grows.
type Deps struct {
	Store         *postgres.Store
	Ledger        *ledger.Ledger
	Jobs          *jobs.Service
	Authenticator *auth.Authenticator
	Limiter       *ratelimit.Limiter
	Deadlines     *deadline.Queue
	Addresses     *wallet.AddressService
	Deposits      *wallet.DepositService
	Withdrawals   *wallet.WithdrawalWorker
	Linker        *address.AddressService
	Coins         *coinregistry.Registry
	Verifier      *sandbox.Verifier
	Schedule      fees.Schedule
	Config        *config.Config
	Log           *zap.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		store:         d.Store,
		ledger:        d.Ledger,
		jobs:          d.Jobs,
		authenticator: d.Authenticator,
		limiter:       d.Limiter,
		deadlines:     d.Deadlines,
		addresses:     d.Addresses,
		deposits:      d.Deposits,
		withdrawals:   d.Withdrawals,
		linker:        d.Linker,
		coins:         d.Coins,
		verifier:      d.Verifier,
		schedule:      d.Schedule,
		cfg:           d.Config,
		log:           d.Log,
	}
}

// Router builds the full route table. Route groups follow §6's endpoint
// list exactly; each handler's rate-limit category follows §4.5's table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/fees", s.unauthenticated(ratelimit.CategoryRead, s.handleFeeSchedule)).Methods(http.MethodGet)

	r.HandleFunc("/agents", s.unauthenticated(ratelimit.CategoryRegistration, s.handleRegisterAgent)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleGetAgent)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", s.authenticated(ratelimit.CategoryWrite, s.handleUpdateAgent)).Methods(http.MethodPatch)
	r.HandleFunc("/agents/{id}", s.authenticated(ratelimit.CategoryWrite, s.handleDeactivateAgent)).Methods(http.MethodDelete)
	r.HandleFunc("/agents/{id}/agent-card", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleGetAgentCard)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/reputation", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleGetReputation)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/balance", s.authenticated(ratelimit.CategoryRead, s.handleGetBalance)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/deposit", s.authenticated(ratelimit.CategoryWrite, s.handleDevDirectDeposit)).Methods(http.MethodPost)

	r.HandleFunc("/agents/{id}/listings", s.authenticated(ratelimit.CategoryWrite, s.handleCreateListing)).Methods(http.MethodPost)
	r.HandleFunc("/listings", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleListListings)).Methods(http.MethodGet)
	r.HandleFunc("/listings/{id}", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleGetListing)).Methods(http.MethodGet)
	r.HandleFunc("/listings/{id}", s.authenticated(ratelimit.CategoryWrite, s.handleUpdateListing)).Methods(http.MethodPatch)
	r.HandleFunc("/discover", s.unauthenticated(ratelimit.CategoryDiscovery, s.handleDiscover)).Methods(http.MethodGet)

	r.HandleFunc("/jobs", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleProposeJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.authenticated(ratelimit.CategoryRead, s.handleGetJob)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/counter", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleCounterJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/accept", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleAcceptJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/fund", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleFundJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/start", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleStartJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/deliver", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleDeliverJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/verify", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleVerifyJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/complete", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleCompleteJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/fail", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleFailJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/dispute", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleDisputeJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/cancel", s.authenticated(ratelimit.CategoryJobLifecycle, s.handleCancelJob)).Methods(http.MethodPost)

	r.HandleFunc("/jobs/{id}/reviews", s.authenticated(ratelimit.CategoryWrite, s.handleCreateReview)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/reviews", s.unauthenticated(ratelimit.CategoryRead, s.handleListJobReviews)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/reviews", s.unauthenticated(ratelimit.CategoryRead, s.handleListAgentReviews)).Methods(http.MethodGet)

	r.HandleFunc("/agents/{id}/wallet/deposit-address", s.authenticated(ratelimit.CategoryRead, s.handleGetDepositAddress)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/wallet/deposit-notify", s.authenticated(ratelimit.CategoryWrite, s.handleNotifyDeposit)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/wallet/withdraw", s.authenticated(ratelimit.CategoryWrite, s.handleRequestWithdrawal)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/wallet/balance", s.authenticated(ratelimit.CategoryRead, s.handleGetBalance)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/wallet/transactions", s.authenticated(ratelimit.CategoryRead, s.handleWalletTransactions)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/wallet/linked-addresses", s.authenticated(ratelimit.CategoryRead, s.handleLinkedAddresses)).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
