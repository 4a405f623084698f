package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	scrypto "github.com/agentmarket/engine/internal/services/crypto"
)

// newWebhookSecret generates the per-agent secret used to sign outbound
// webhook deliveries, so an agent can verify a notification actually came
// from the marketplace.
func newWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type registerAgentRequest struct {
	PublicKeyHex string   `json:"publicKey"`
	DisplayName  string   `json:"displayName"`
	EndpointURL  string   `json:"endpointUrl"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := models.ValidateDisplayName(req.DisplayName); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if err := models.ValidateEndpointURL(req.EndpointURL); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if err := models.ValidateCapabilities(req.Capabilities); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	pubKey, err := scrypto.ParsePublicKeyHex(req.PublicKeyHex)
	if err != nil {
		writeError(w, apperr.Validation("malformed public key: "+err.Error()))
		return
	}
	if existing, _ := s.store.GetAgentByPublicKeyHex(r.Context(), req.PublicKeyHex); existing != nil {
		writeError(w, apperr.StateConflict("an agent with this public key already exists"))
		return
	}

	webhookSecret, err := newWebhookSecret()
	if err != nil {
		writeError(w, apperr.Internal("generate webhook secret", err))
		return
	}
	agent := &models.Agent{
		PublicKey:     []byte(pubKey),
		PublicKeyHex:  req.PublicKeyHex,
		DisplayName:   req.DisplayName,
		EndpointURL:   req.EndpointURL,
		Capabilities:  req.Capabilities,
		WebhookSecret: webhookSecret,
	}
	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleGetAgentCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":        agent.ID,
		"displayName":    agent.DisplayName,
		"capabilities":   agent.Capabilities,
		"capabilityCard": agent.CapabilityCard,
	})
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sellerReputation": agent.SellerReputation,
		"clientReputation": agent.ClientReputation,
	})
}

type updateAgentRequest struct {
	DisplayName    *string                 `json:"displayName,omitempty"`
	EndpointURL    *string                 `json:"endpointUrl,omitempty"`
	Capabilities   []string                `json:"capabilities,omitempty"`
	CapabilityCard map[string]interface{}  `json:"capabilityCard,omitempty"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only update their own profile"))
		return
	}
	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DisplayName != nil {
		if err := models.ValidateDisplayName(*req.DisplayName); err != nil {
			writeError(w, apperr.Validation(err.Error()))
			return
		}
		actor.DisplayName = *req.DisplayName
	}
	if req.EndpointURL != nil {
		if err := models.ValidateEndpointURL(*req.EndpointURL); err != nil {
			writeError(w, apperr.Validation(err.Error()))
			return
		}
		actor.EndpointURL = *req.EndpointURL
	}
	if req.Capabilities != nil {
		if err := models.ValidateCapabilities(req.Capabilities); err != nil {
			writeError(w, apperr.Validation(err.Error()))
			return
		}
		actor.Capabilities = req.Capabilities
	}
	if req.CapabilityCard != nil {
		actor.CapabilityCard = req.CapabilityCard
	}
	if err := s.store.UpdateProfile(r.Context(), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

// handleDeactivateAgent implements §3's deactivation lifecycle: cancels or
// fails-with-refund every affected job, then flips status to deactivated.
func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only deactivate themselves"))
		return
	}
	if err := s.jobs.DeactivateSweep(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.SetAgentStatus(r.Context(), id, models.AgentStatusDeactivated); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only view their own balance"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": actor.Balance})
}

// handleDevDirectDeposit implements the dev-only direct credit endpoint,
// gated entirely by config.DevDirectDepositEnabled — disabled by default,
// and always 501 in any environment that hasn't explicitly opted in.
func (s *Server) handleDevDirectDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevDirectDepositEnabled {
		writeError(w, apperr.NotImplemented("dev direct deposit is disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != id {
		writeError(w, apperr.Authentication("agents may only deposit to their own balance"))
		return
	}
	var req struct {
		Amount models.Credits `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, apperr.Validation("amount must be positive"))
		return
	}
	if err := s.ledger.CreditDeposit(r.Context(), id, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}
