package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/service"
)

// DepositRequest moves amount from account into the vault
type DepositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// DepositResponse reports the shares minted
type DepositResponse struct {
	Vault   string `json:"vault"`
	Account string `json:"account"`
	Shares  string `json:"shares"`
}

// WithdrawRequest redeems shares. Omitted shares redeem the whole balance; omitted
// maxLossBps uses the default tolerance.
type WithdrawRequest struct {
	Account    string  `json:"account"`
	Shares     string  `json:"shares,omitempty"`
	Recipient  string  `json:"recipient,omitempty"`
	MaxLossBPS *uint64 `json:"maxLossBps,omitempty"`
}

// FundRequest credits an account with test assets
type FundRequest struct {
	Amount string `json:"amount"`
}

// ShutdownRequest toggles emergency shutdown
type ShutdownRequest struct {
	Active bool `json:"active"`
}

// DepositLimitRequest sets the vault's deposit limit
type DepositLimitRequest struct {
	Limit string `json:"limit"`
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	ids := s.vaults.VaultIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"vaults": out})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	summary, err := s.vaults.Summary(r.Context(), vaultID)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	var req DepositRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		invalidInput(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}

	shares, err := s.vaults.Deposit(r.Context(), vaultID, account, amount)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, DepositResponse{
		Vault:   vaultID.Hex(),
		Account: account.Hex(),
		Shares:  shares.Dec(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}

	owner, err := parseAddress("account", req.Account)
	if err != nil {
		invalidInput(w, err.Error())
		return
	}
	in := service.WithdrawRequest{Owner: owner, MaxLossBPS: req.MaxLossBPS}
	if req.Recipient != "" {
		if in.Recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			invalidInput(w, err.Error())
			return
		}
	}
	if in.Shares, err = optionalAmount("shares", req.Shares); err != nil {
		respondServiceError(w, err, nil)
		return
	}

	res, err := s.vaults.Withdraw(r.Context(), vaultID, in)
	if err != nil {
		var extra map[string]interface{}
		if res != nil {
			extra = map[string]interface{}{"result": service.NewWithdrawView(res)}
		}
		respondServiceError(w, err, extra)
		return
	}
	respondJSON(w, http.StatusOK, service.NewWithdrawView(res))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	view, err := s.vaults.Account(vaultID, account)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	plan, err := s.vaults.Allocation(vaultID)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vault":       vaultID.Hex(),
		"allocations": plan,
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	query := r.URL.Query()

	var strategyID *common.Address
	if raw := query.Get("strategy"); raw != "" {
		id, err := parseAddress("strategy", raw)
		if err != nil {
			invalidInput(w, err.Error())
			return
		}
		strategyID = &id
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		invalidInput(w, err.Error())
		return
	}

	reports, err := s.vaults.Reports(r.Context(), vaultID, strategyID, limit)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vault":   vaultID.Hex(),
		"reports": reports,
		"count":   len(reports),
	})
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	res, err := s.vaults.CheckConsistency(vaultID)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	var req ShutdownRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	if err := s.vaults.SetEmergencyShutdown(r.Context(), vaultID, req.Active); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondSummary(w, r, vaultID)
}

func (s *Server) handleDepositLimit(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	var req DepositLimitRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	limit, err := uint256.FromDecimal(req.Limit)
	if err != nil {
		invalidInput(w, "limit: not a base-10 integer")
		return
	}
	if err := s.vaults.SetDepositLimit(r.Context(), vaultID, limit); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondSummary(w, r, vaultID)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	var req FundRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	if err := s.vaults.Fund(account, amount); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"funded":  amount.Dec(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	monitor := s.vaults.Monitor()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": monitor.Stats(),
		"issues":     monitor.Check(),
	})
}

// respondSummary answers an admin call with the vault's state after the change
func (s *Server) respondSummary(w http.ResponseWriter, r *http.Request, vaultID common.Address) {
	summary, err := s.vaults.Summary(r.Context(), vaultID)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
