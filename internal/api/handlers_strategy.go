package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/types"
)

// StrategyRequest attaches a new strategy handle
type StrategyRequest struct {
	ID                string             `json:"id"`
	Kind              types.StrategyKind `json:"kind"`
	Endpoint          string             `json:"endpoint,omitempty"`
	DebtRatio         uint64             `json:"debtRatio"`
	MinDebtPerHarvest string             `json:"minDebtPerHarvest,omitempty"`
	MaxDebtPerHarvest string             `json:"maxDebtPerHarvest,omitempty"`
	PerformanceFee    uint64             `json:"performanceFee"`
}

// MigrateRequest names the unit taking over a strategy's position
type MigrateRequest struct {
	NewStrategy string             `json:"newStrategy"`
	Kind        types.StrategyKind `json:"kind"`
	Endpoint    string             `json:"endpoint,omitempty"`
}

// DebtRatioRequest sets a strategy's share of total assets in basis points
type DebtRatioRequest struct {
	DebtRatio *uint64 `json:"debtRatio"`
}

// SimulateRequest moves a simulated position
type SimulateRequest struct {
	Earn string `json:"earn,omitempty"`
	Lose string `json:"lose,omitempty"`
}

func (s *Server) handleAddStrategy(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := pathAddress(w, r, "vault")
	if !ok {
		return
	}
	var req StrategyRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	id, err := parseAddress("id", req.ID)
	if err != nil {
		invalidInput(w, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = types.KindSimulated
	}

	err = s.vaults.AddStrategy(r.Context(), vaultID, config.StrategySpec{
		ID:                id.Hex(),
		Kind:              req.Kind,
		Endpoint:          req.Endpoint,
		DebtRatio:         req.DebtRatio,
		MinDebtPerHarvest: req.MinDebtPerHarvest,
		MaxDebtPerHarvest: req.MaxDebtPerHarvest,
		PerformanceFee:    req.PerformanceFee,
	})
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, id, http.StatusCreated)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	s.respondStrategy(w, vaultID, strategyID, http.StatusOK)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	report, err := s.vaults.Harvest(r.Context(), vaultID, strategyID)
	if err != nil {
		var extra map[string]interface{}
		if report != nil {
			extra = map[string]interface{}{"report": models.NewHarvestReport(report)}
		}
		respondServiceError(w, err, extra)
		return
	}
	respondJSON(w, http.StatusOK, models.NewHarvestReport(report))
}

func (s *Server) handleDebtRatio(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	var req DebtRatioRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	if req.DebtRatio == nil {
		invalidInput(w, "debtRatio is required")
		return
	}
	if err := s.vaults.UpdateDebtRatio(r.Context(), vaultID, strategyID, *req.DebtRatio); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, strategyID, http.StatusOK)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	if err := s.vaults.RevokeStrategy(r.Context(), vaultID, strategyID); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, strategyID, http.StatusOK)
}

func (s *Server) handleEmergencyExit(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	if err := s.vaults.SetEmergencyExit(r.Context(), vaultID, strategyID); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, strategyID, http.StatusOK)
}

func (s *Server) handleRemoveStrategy(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	if err := s.vaults.RemoveStrategy(r.Context(), vaultID, strategyID); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	vaultID, oldID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	var req MigrateRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	newID, err := parseAddress("newStrategy", req.NewStrategy)
	if err != nil {
		invalidInput(w, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = types.KindSimulated
	}

	err = s.vaults.MigrateStrategy(r.Context(), vaultID, oldID, config.StrategySpec{
		ID:       newID.Hex(),
		Kind:     req.Kind,
		Endpoint: req.Endpoint,
	})
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, newID, http.StatusOK)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	vaultID, strategyID, ok := strategyPath(w, r)
	if !ok {
		return
	}
	var req SimulateRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidInput(w, "Invalid request body: "+err.Error())
		return
	}
	earn, err := optionalAmount("earn", req.Earn)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	lose, err := optionalAmount("lose", req.Lose)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	// the strategy must belong to this vault
	if _, err := s.vaults.StrategyInfo(vaultID, strategyID); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	if err := s.vaults.Simulate(strategyID, earn, lose); err != nil {
		respondServiceError(w, err, nil)
		return
	}
	s.respondStrategy(w, vaultID, strategyID, http.StatusOK)
}

func strategyPath(w http.ResponseWriter, r *http.Request) (vaultID, strategyID common.Address, ok bool) {
	if vaultID, ok = pathAddress(w, r, "vault"); !ok {
		return
	}
	strategyID, ok = pathAddress(w, r, "strategy")
	return
}

func (s *Server) respondStrategy(w http.ResponseWriter, vaultID, strategyID common.Address, status int) {
	info, err := s.vaults.StrategyInfo(vaultID, strategyID)
	if err != nil {
		respondServiceError(w, err, nil)
		return
	}
	respondJSON(w, status, info)
}
