package rpc

import (
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"merchantvault/native/vault"
	"merchantvault/observability"
)

// Server exposes the operations of a single vault deployment over HTTP. The
// caller identities in payloads are assumed to have been authenticated by the
// fronting gateway; the engine still enforces per-operation authorization.
type Server struct {
	engine   *vault.Engine
	vaultKey [32]byte
	log      *slog.Logger
	metrics  *observability.VaultMetrics
	limiter  *RateLimiter
}

// NewServer constructs an HTTP server bound to an engine and vault key.
func NewServer(engine *vault.Engine, vaultKey [32]byte, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, vaultKey: vaultKey, log: log, metrics: observability.Metrics()}
}

// SetRateLimiter throttles mutating endpoints. Passing nil leaves the server
// unthrottled.
func (s *Server) SetRateLimiter(limiter *RateLimiter) {
	s.limiter = limiter
}

// Router assembles the chi routing tree for the vault API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/deposits", s.handleDeposit)
			r.Post("/withdrawals", s.handleWithdraw)
			r.Post("/orders", s.handleRecordOrder)
			r.Post("/config", s.handleUpdateConfig)
			r.Post("/agents", s.handleAuthorizeAgent)
			r.Delete("/agents", s.handleRevokeAgent)
		})
		r.Get("/merchants/{merchant}/rewards", s.handleCalculateRewards)
		r.Get("/merchants/{merchant}/tier", s.handleMerchantTier)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"vault":  hex.EncodeToString(s.vaultKey[:]),
	})
}

type depositRequest struct {
	Merchant         string `json:"merchant"`
	Asset            string `json:"asset"`
	Amount           uint64 `json:"amount"`
	TokenSource      string `json:"tokenSource,omitempty"`
	TokenDestination string `json:"tokenDestination,omitempty"`
}

type accountResponse struct {
	Merchant               string `json:"merchant"`
	Asset                  string `json:"asset"`
	TotalDeposited         uint64 `json:"totalDeposited"`
	AccruedRewards         uint64 `json:"accruedRewards"`
	Active                 bool   `json:"active"`
	DepositedAt            int64  `json:"depositedAt"`
	TotalOrdersProcessed   uint64 `json:"totalOrdersProcessed"`
	TotalVolumeUSD         uint64 `json:"totalVolumeUsd"`
	CurrentMonthVolume     uint64 `json:"currentMonthVolume"`
	MonthlyUniqueCustomers uint32 `json:"monthlyUniqueCustomers"`
	CurrentYieldBps        uint16 `json:"currentYieldBps"`
}

func newAccountResponse(acct *vault.MerchantAccount) accountResponse {
	return accountResponse{
		Merchant:               hex.EncodeToString(acct.Merchant[:]),
		Asset:                  acct.Asset.String(),
		TotalDeposited:         acct.TotalDeposited,
		AccruedRewards:         acct.AccruedRewards,
		Active:                 acct.Active,
		DepositedAt:            acct.DepositedAt,
		TotalOrdersProcessed:   acct.TotalOrdersProcessed,
		TotalVolumeUSD:         acct.TotalVolumeUSD,
		CurrentMonthVolume:     acct.CurrentMonthVolume,
		MonthlyUniqueCustomers: acct.MonthlyUniqueCustomers,
		CurrentYieldBps:        acct.CurrentYieldBps,
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	merchant, err := decodeIdentity("merchant", req.Merchant)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	asset, err := parseAssetClass(req.Asset)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := decodeTokenAccounts(req.TokenSource, req.TokenDestination)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	acct, err := s.engine.Deposit(s.vaultKey, merchant, asset, req.Amount, token)
	s.metrics.RecordOutcome("deposit", err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Deposits.Inc()
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

type withdrawRequest struct {
	Merchant         string `json:"merchant"`
	TokenSource      string `json:"tokenSource,omitempty"`
	TokenDestination string `json:"tokenDestination,omitempty"`
}

type withdrawResponse struct {
	Account accountResponse `json:"account"`
	Payout  uint64          `json:"payout"`
	Reward  rewardResponse  `json:"reward"`
}

type rewardResponse struct {
	DaysElapsed    uint64 `json:"daysElapsed"`
	YieldBps       uint16 `json:"yieldBps"`
	GrossReward    uint64 `json:"grossReward"`
	MerchantReward uint64 `json:"merchantReward"`
}

func newRewardResponse(r *vault.RewardBreakdown) rewardResponse {
	return rewardResponse{
		DaysElapsed:    r.DaysElapsed,
		YieldBps:       r.YieldBps,
		GrossReward:    r.GrossReward,
		MerchantReward: r.MerchantReward,
	}
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	merchant, err := decodeIdentity("merchant", req.Merchant)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := decodeTokenAccounts(req.TokenSource, req.TokenDestination)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	receipt, err := s.engine.Withdraw(s.vaultKey, merchant, token)
	s.metrics.RecordOutcome("withdraw", err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Withdrawals.Inc()
	s.metrics.PayoutUnits.Observe(float64(receipt.Payout))
	writeJSON(w, http.StatusOK, withdrawResponse{
		Account: newAccountResponse(receipt.Account),
		Payout:  receipt.Payout,
		Reward:  newRewardResponse(&receipt.Reward),
	})
}

type recordOrderRequest struct {
	Agent          string `json:"agent"`
	Merchant       string `json:"merchant"`
	OrderAmountUSD uint64 `json:"orderAmountUsd"`
}

func (s *Server) handleRecordOrder(w http.ResponseWriter, r *http.Request) {
	var req recordOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	agent, err := decodeIdentity("agent", req.Agent)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	merchant, err := decodeIdentity("merchant", req.Merchant)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	acct, err := s.engine.RecordOrder(s.vaultKey, agent, merchant, req.OrderAmountUSD)
	s.metrics.RecordOutcome("record_order", err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Orders.Inc()
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

type configUpdateRequest struct {
	Caller           string  `json:"caller"`
	MinDepositNative *uint64 `json:"minDepositNative,omitempty"`
	MinDepositToken  *uint64 `json:"minDepositToken,omitempty"`
	RewardShareBps   *uint16 `json:"rewardShareBps,omitempty"`
	StakingEnabled   *bool   `json:"stakingEnabled,omitempty"`
}

type configResponse struct {
	MinDepositNative uint64 `json:"minDepositNative"`
	MinDepositToken  uint64 `json:"minDepositToken"`
	RewardShareBps   uint16 `json:"rewardShareBps"`
	StakingEnabled   bool   `json:"stakingEnabled"`
	TotalDeposits    uint64 `json:"totalDeposits"`
	TotalMerchants   uint32 `json:"totalMerchants"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := decodeIdentity("caller", req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	reg, err := s.engine.UpdateConfig(s.vaultKey, caller, vault.ConfigUpdate{
		MinDepositNative: req.MinDepositNative,
		MinDepositToken:  req.MinDepositToken,
		RewardShareBps:   req.RewardShareBps,
		StakingEnabled:   req.StakingEnabled,
	})
	s.metrics.RecordOutcome("update_config", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		MinDepositNative: reg.MinDepositNative,
		MinDepositToken:  reg.MinDepositToken,
		RewardShareBps:   reg.RewardShareBps,
		StakingEnabled:   reg.StakingEnabled,
		TotalDeposits:    reg.TotalDeposits,
		TotalMerchants:   reg.TotalMerchants,
	})
}

type agentRequest struct {
	Caller   string `json:"caller"`
	Merchant string `json:"merchant"`
	Agent    string `json:"agent"`
}

func (s *Server) decodeAgentRequest(w http.ResponseWriter, r *http.Request) (caller, merchant, agent [20]byte, ok bool) {
	var req agentRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var err error
	if caller, err = decodeIdentity("caller", req.Caller); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if merchant, err = decodeIdentity("merchant", req.Merchant); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if agent, err = decodeIdentity("agent", req.Agent); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ok = true
	return
}

func (s *Server) handleAuthorizeAgent(w http.ResponseWriter, r *http.Request) {
	caller, merchant, agent, ok := s.decodeAgentRequest(w, r)
	if !ok {
		return
	}
	err := s.engine.AuthorizeAgent(s.vaultKey, caller, merchant, agent)
	s.metrics.RecordOutcome("authorize_agent", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (s *Server) handleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	caller, merchant, agent, ok := s.decodeAgentRequest(w, r)
	if !ok {
		return
	}
	err := s.engine.RevokeAgent(s.vaultKey, caller, merchant, agent)
	s.metrics.RecordOutcome("revoke_agent", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) merchantFromPath(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	merchant, err := decodeIdentity("merchant", chi.URLParam(r, "merchant"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return [20]byte{}, false
	}
	return merchant, true
}

func (s *Server) handleCalculateRewards(w http.ResponseWriter, r *http.Request) {
	merchant, ok := s.merchantFromPath(w, r)
	if !ok {
		return
	}
	reward, err := s.engine.CalculateRewards(s.vaultKey, merchant)
	s.metrics.RecordOutcome("calculate_rewards", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRewardResponse(reward))
}

type tierResponse struct {
	Tier             string `json:"tier"`
	YieldBps         uint16 `json:"yieldBps"`
	MonthlyVolumeUSD uint64 `json:"monthlyVolumeUsd"`
}

func (s *Server) handleMerchantTier(w http.ResponseWriter, r *http.Request) {
	merchant, ok := s.merchantFromPath(w, r)
	if !ok {
		return
	}
	report, err := s.engine.MerchantTier(s.vaultKey, merchant)
	s.metrics.RecordOutcome("merchant_tier", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tierResponse{
		Tier:             report.Tier.String(),
		YieldBps:         report.YieldBps,
		MonthlyVolumeUSD: report.MonthlyVolumeUSD,
	})
}
