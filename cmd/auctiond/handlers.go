package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tarunjayantvm/cricket-auction/internal/auction"
)

// commandServer translates thin JSON endpoints into engine commands. Auth
// policy is out of scope: the original trusted the session, this trusts the
// request.
type commandServer struct {
	engine *auction.Engine
}

func newCommandServer(engine *auction.Engine) *commandServer {
	return &commandServer{engine: engine}
}

func (s *commandServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/bidders", s.handleRegisterBidder)
	mux.HandleFunc("/api/lots", s.handleRegisterLot)
	mux.HandleFunc("/api/open", s.handleOpenLot)
	mux.HandleFunc("/api/bid", s.handlePlaceBid)
	mux.HandleFunc("/api/resolve", s.handleForceResolve)
	mux.HandleFunc("/api/state", s.handleState)
}

func (s *commandServer) handleRegisterBidder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"display_name"`
		Capital     int64  `json:"capital"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Handle == "" {
		http.Error(w, "handle is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.RegisterBidder(req.Handle, req.DisplayName, req.Capital); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"handle": req.Handle})
}

func (s *commandServer) handleRegisterLot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auction.RegisterLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	lot, err := s.engine.RegisterLot(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"lot_id": lot.ID.String()})
}

func (s *commandServer) handleOpenLot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	lot, err := s.engine.OpenLot()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lot.Summary())
}

func (s *commandServer) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Handle string `json:"handle"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be a positive integer", http.StatusBadRequest)
		return
	}
	if err := s.engine.PlaceBid(req.Handle, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *commandServer) handleForceResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var outcome auction.Outcome
	switch req.Outcome {
	case string(auction.OutcomeSold):
		outcome = auction.OutcomeSold
	case string(auction.OutcomeUnsold):
		outcome = auction.OutcomeUnsold
	default:
		http.Error(w, "outcome must be sold or unsold", http.StatusBadRequest)
		return
	}
	if err := s.engine.ForceResolve(outcome); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *commandServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if auction.IsValidation(err) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"code":    auction.ErrorCode(err),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
