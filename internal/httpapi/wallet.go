package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/wallet"
)

// handleGetDepositAddress implements GET /agents/{id}/wallet/deposit-address,
// deriving the agent's address on the configured settlement chain on first
// request.
func (s *Server) handleGetDepositAddress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only view their own deposit address"))
		return
	}
	addr, err := s.addresses.GetOrDeriveDepositAddress(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Internal("derive deposit address", err))
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

type notifyDepositRequest struct {
	TxHash string `json:"txHash"`
}

// handleNotifyDeposit implements POST /agents/{id}/wallet/deposit-notify: an
// agent tells the platform it broadcast a deposit transaction; the platform
// verifies the receipt and starts a confirmation watcher running
// independently of this request.
func (s *Server) handleNotifyDeposit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only notify deposits to their own address"))
		return
	}
	var req notifyDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TxHash == "" {
		writeError(w, apperr.Validation("txHash is required"))
		return
	}

	deposit, err := s.deposits.IngestNotifiedDeposit(r.Context(), id, req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	go wallet.NewConfirmationWatcher(s.deposits, deposit.ID).Run(context.Background())
	writeJSON(w, http.StatusAccepted, deposit)
}

type requestWithdrawalRequest struct {
	Amount             models.Credits `json:"amount"`
	DestinationAddress string         `json:"destinationAddress"`
}

// handleRequestWithdrawal implements POST /agents/{id}/wallet/withdraw: the
// gross amount is deducted from the agent's balance immediately, then a
// worker drives the on-chain payout independently of this request,
// refunding on failure.
func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only withdraw from their own balance"))
		return
	}
	var req requestWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, apperr.Validation("amount must be positive"))
		return
	}
	if req.DestinationAddress == "" {
		writeError(w, apperr.Validation("destinationAddress is required"))
		return
	}

	withdrawal, err := models.NewWithdrawalRequest(id, req.DestinationAddress, req.Amount, s.schedule.WithdrawalFlatFee)
	if err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if err := s.ledger.DeductWithdrawal(r.Context(), id, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateWithdrawal(r.Context(), withdrawal); err != nil {
		writeError(w, err)
		return
	}
	go s.withdrawals.Run(context.Background(), withdrawal.ID)
	writeJSON(w, http.StatusAccepted, withdrawal)
}

// handleWalletTransactions implements GET /agents/{id}/wallet/transactions:
// an agent's deposits and withdrawals as two separate lists, each
// most-recent-first and capped at 100 entries.
func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only view their own wallet history"))
		return
	}
	deposits, err := s.store.ListDepositsForAgent(r.Context(), id, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	withdrawals, err := s.store.ListWithdrawalsForAgent(r.Context(), id, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deposits":    deposits,
		"withdrawals": withdrawals,
	})
}

// handleLinkedAddresses implements GET /agents/{id}/wallet/linked-addresses:
// the multi-chain address book showing, per chain, the address the agent's
// own HD public key would have at index 0 — derived from the agent's
// subtree of the platform seed, not a shared platform key. Only the
// configured settlement chain carries a real, watched DepositAddress; every
// other entry here is informational.
func (s *Server) handleLinkedAddresses(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only view their own linked addresses"))
		return
	}
	agentKey, err := s.addresses.DeriveAgentMasterKey(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Internal("derive agent key", err))
		return
	}
	book, metrics, err := s.linker.GenerateMultiCoinAddresses(agentKey, s.coins)
	if err != nil {
		writeError(w, apperr.Internal("generate linked addresses", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"addressBook": book,
		"metrics":     metrics,
	})
}
