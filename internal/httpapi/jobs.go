package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/sandbox"
)

type proposeJobRequest struct {
	SellerID             string          `json:"sellerId"`
	ListingID             string          `json:"listingId,omitempty"`
	Price                 models.Credits  `json:"price"`
	Requirements          string          `json:"requirements,omitempty"`
	AcceptanceCriteria    json.RawMessage `json:"acceptanceCriteria,omitempty"`
	MaxRounds             int             `json:"maxRounds,omitempty"`
	DeliveryDeadlineHours int             `json:"deliveryDeadlineHours,omitempty"`
}

// handleProposeJob implements POST /jobs: the calling agent always proposes
// as client, opening a new negotiation with the named seller.
func (s *Server) handleProposeJob(w http.ResponseWriter, r *http.Request) {
	actor := agentFromContext(r.Context())
	var req proposeJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SellerID == "" {
		writeError(w, apperr.Validation("sellerId is required"))
		return
	}
	if req.SellerID == actor.ID {
		writeError(w, apperr.Validation("client and seller must differ"))
		return
	}
	if req.Price <= 0 {
		writeError(w, apperr.Validation("price must be positive"))
		return
	}
	if len(req.AcceptanceCriteria) > 0 {
		if err := sandbox.ValidateCriteria(req.AcceptanceCriteria); err != nil {
			writeError(w, err)
			return
		}
	}
	var deadline *time.Time
	if req.DeliveryDeadlineHours > 0 {
		d := time.Now().Add(time.Duration(req.DeliveryDeadlineHours) * time.Hour)
		deadline = &d
	}

	job, err := s.jobs.Propose(r.Context(), actor.ID, req.SellerID, req.ListingID, req.Price, req.Requirements, req.AcceptanceCriteria, req.MaxRounds, deadline)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.ID != job.ClientID && actor.ID != job.SellerID {
		writeError(w, apperr.Authentication("agent is not a party to this job"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type counterJobRequest struct {
	Price        models.Credits `json:"price"`
	Requirements string         `json:"requirements,omitempty"`
}

func (s *Server) handleCounterJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	var req counterJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Price <= 0 {
		writeError(w, apperr.Validation("price must be positive"))
		return
	}
	job, err := s.jobs.Counter(r.Context(), id, actor.ID, req.Price, req.Requirements)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type acceptJobRequest struct {
	AcceptanceCriteriaHash string `json:"acceptanceCriteriaHash,omitempty"`
}

func (s *Server) handleAcceptJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	var req acceptJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Accept(r.Context(), id, actor.ID, req.AcceptanceCriteriaHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleFundJob implements POST /jobs/{id}/fund: the ledger locks and debits
// the client's balance and opens escrow, then the job's deadline (if any) is
// registered with the deadline consumer.
func (s *Server) handleFundJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.jobs.Fund(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.DeliveryDeadline != nil {
		if err := s.deadlines.Enqueue(r.Context(), job.ID, *job.DeliveryDeadline); err != nil {
			s.log.Warn("failed to enqueue job deadline", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.jobs.Start(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type deliverJobRequest struct {
	Result json.RawMessage `json:"result"`
}

// handleDeliverJob implements POST /jobs/{id}/deliver, charging the storage
// fee against the seller's balance for the serialized deliverable size
// before recording it.
func (s *Server) handleDeliverJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	var req deliverJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Result) == 0 {
		writeError(w, apperr.Validation("result is required"))
		return
	}

	storageFee := s.schedule.StorageFee(int64(len(req.Result)))
	if err := s.ledger.ChargeFee(r.Context(), actor.ID, storageFee); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.jobs.Deliver(r.Context(), id, actor.ID, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleVerifyJob implements POST /jobs/{id}/verify: runs the deliverable
// against the job's acceptance criteria in the sandbox, charges the
// verification fee against the client, then releases or refunds escrow
// according to the outcome.
func (s *Server) handleVerifyJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.ID != job.ClientID {
		writeError(w, apperr.Authentication("only the client may request verification"))
		return
	}
	if job.Status != models.JobStatusDelivered {
		writeError(w, apperr.StateConflict("job is "+string(job.Status)+", cannot verify"))
		return
	}
	if len(job.AcceptanceCriteria) == 0 {
		writeError(w, apperr.Validation("job has no acceptance criteria to verify against"))
		return
	}

	result, err := s.verifier.Verify(r.Context(), job.AcceptanceCriteria, job.DeliverableResult)
	if err != nil {
		writeError(w, err)
		return
	}

	verificationFee := s.schedule.VerificationFee(result.ElapsedSecs)
	if err := s.ledger.ChargeFee(r.Context(), job.ClientID, verificationFee); err != nil {
		writeError(w, err)
		return
	}

	var updated *models.Job
	if result.Passed {
		updated, err = s.jobs.MarkVerified(r.Context(), id)
	} else {
		updated, err = s.jobs.Fail(r.Context(), id, actor.ID, "verification failed")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if updated.Status.IsTerminal() {
		if rmErr := s.deadlines.Remove(r.Context(), id); rmErr != nil {
			s.log.Warn("failed to remove job deadline", zap.Error(rmErr))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": updated, "verification": result})
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.jobs.Complete(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deadlines.Remove(r.Context(), id); err != nil {
		s.log.Warn("failed to remove job deadline", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, job)
}

type failJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleFailJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	var req failJobRequest
	_ = decodeJSON(r, &req)
	job, err := s.jobs.Fail(r.Context(), id, actor.ID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deadlines.Remove(r.Context(), id); err != nil {
		s.log.Warn("failed to remove job deadline", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDisputeJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.jobs.Dispute(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	job, err := s.jobs.Cancel(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
