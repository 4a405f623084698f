// Package jobs implements the job lifecycle service (C6): the authorized,
// audited wrapper around models.Job's transition table. Every call checks
// the acting agent's role before attempting the edge, and negotiation
// rounds/acceptance-criteria hashing follow §4.2 exactly.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/ledger"
)

// Repository persists jobs. Implemented by the Postgres storage layer.
type Repository interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
	ActiveJobIDsForAgent(ctx context.Context, agentID string) ([]string, error)
}

// EscrowLookup resolves the escrow id attached to a job, for the verify and
// fail paths which need to release or refund it.
type EscrowLookup interface {
	GetEscrowIDForJob(ctx context.Context, jobID string) (string, error)
}

// Service wraps the job state machine with party-authorization checks and
// wires the escrow mutation into the verify/fail edges.
type Service struct {
	repo    Repository
	escrows EscrowLookup
	ledger  *ledger.Ledger
}

func New(repo Repository, escrows EscrowLookup, l *ledger.Ledger) *Service {
	return &Service{repo: repo, escrows: escrows, ledger: l}
}

func requireParty(actorID string, allowed ...string) error {
	for _, id := range allowed {
		if actorID == id {
			return nil
		}
	}
	return apperr.Authentication("agent is not a party to this job in the required role")
}

// Propose creates a new job in the proposed state, opening the negotiation
// log at round 0.
func (s *Service) Propose(ctx context.Context, clientID, sellerID, listingID string, price models.Credits, requirements string, criteria json.RawMessage, maxRounds int, deliveryDeadline *time.Time) (*models.Job, error) {
	if maxRounds == 0 {
		maxRounds = models.DefaultMaxRounds
	}
	if err := models.ValidateMaxRounds(maxRounds); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	var hash string
	if len(criteria) > 0 {
		h, err := models.HashAcceptanceCriteria(criteria)
		if err != nil {
			return nil, apperr.Validation("malformed acceptance criteria: " + err.Error())
		}
		hash = h
	}

	now := time.Now()
	job := &models.Job{
		ID:                     uuid.NewString(),
		ClientID:               clientID,
		SellerID:               sellerID,
		ListingID:              listingID,
		Status:                 models.JobStatusProposed,
		AcceptanceCriteria:     criteria,
		AcceptanceCriteriaHash: hash,
		Requirements:           requirements,
		AgreedPrice:            price,
		DeliveryDeadline:       deliveryDeadline,
		MaxRounds:              maxRounds,
		CurrentRound:           0,
		NegotiationLog: []models.NegotiationEntry{{
			Round:        0,
			ProposerID:   clientID,
			Price:        price,
			Requirements: requirements,
			CreatedAt:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Counter records a counter-offer from either party, advancing the round
// and updating the agreed price. Exceeding max rounds cancels the job.
func (s *Service) Counter(ctx context.Context, jobID, actorID string, price models.Credits, requirements string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusNegotiating) && job.Status != models.JobStatusNegotiating {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot counter")
	}

	nextRound := job.CurrentRound + 1
	if nextRound > job.MaxRounds {
		job.Status = models.JobStatusCancelled
		job.UpdatedAt = time.Now()
		if err := s.repo.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		return nil, apperr.StateConflict("negotiation exceeded max rounds, job cancelled")
	}

	job.Status = models.JobStatusNegotiating
	job.CurrentRound = nextRound
	job.AgreedPrice = price
	job.Requirements = requirements
	job.NegotiationLog = append(job.NegotiationLog, models.NegotiationEntry{
		Round:        nextRound,
		ProposerID:   actorID,
		Price:        price,
		Requirements: requirements,
		CreatedAt:    time.Now(),
	})
	job.UpdatedAt = time.Now()

	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Accept locks in the current terms. When acceptance criteria were set at
// proposal time, the seller must echo the matching hash; the client
// (criteria author) is exempt.
func (s *Service) Accept(ctx context.Context, jobID, actorID, acceptanceCriteriaHash string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusAgreed) {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot accept")
	}

	if job.AcceptanceCriteriaHash != "" && actorID == job.SellerID {
		if acceptanceCriteriaHash == "" {
			return nil, apperr.Validation("acceptance_criteria_hash is required")
		}
		if !job.VerifyAcceptanceCriteriaHash(acceptanceCriteriaHash) {
			return nil, apperr.StateConflict("acceptance_criteria_hash does not match")
		}
	}

	job.Status = models.JobStatusAgreed
	job.UpdatedAt = time.Now()
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Fund is called by the client once the job is agreed; the actual balance
// mutation and escrow row creation lives in the ledger, which also
// transitions the job to funded.
func (s *Service) Fund(ctx context.Context, jobID, actorID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID); err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusAgreed {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot fund")
	}

	if _, err := s.ledger.FundEscrow(ctx, job.ID, job.ClientID, job.SellerID, job.AgreedPrice); err != nil {
		return nil, err
	}

	job.Status = models.JobStatusFunded
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Start is called by the seller to begin work.
func (s *Service) Start(ctx context.Context, jobID, actorID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusInProgress) {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot start")
	}
	job.Status = models.JobStatusInProgress
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Deliver attaches the deliverable. The storage fee charge happens at the
// handler layer (which knows the serialized size) before calling this.
func (s *Service) Deliver(ctx context.Context, jobID, actorID string, result json.RawMessage) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.SellerID); err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusInProgress {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot deliver")
	}
	job.DeliverableResult = result
	job.Status = models.JobStatusDelivered
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Complete is the client directly accepting a delivered result without
// running the verification sandbox, releasing escrow immediately.
func (s *Service) Complete(ctx context.Context, jobID, actorID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID); err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDelivered {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot complete")
	}
	return s.releaseAndComplete(ctx, job)
}

// MarkVerified transitions a delivered (or verifying) job to completed,
// releasing escrow. Called by the verification sandbox path after a pass.
func (s *Service) MarkVerified(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDelivered && job.Status != models.JobStatusVerifying {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot verify")
	}
	return s.releaseAndComplete(ctx, job)
}

func (s *Service) releaseAndComplete(ctx context.Context, job *models.Job) (*models.Job, error) {
	escrowID, err := s.escrows.GetEscrowIDForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.ReleaseEscrow(ctx, escrowID); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusCompleted
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Fail transitions a job to failed and refunds its escrow if one was
// funded. Callable by either party (disputes over a failure are handled
// separately via Dispute).
func (s *Service) Fail(ctx context.Context, jobID, actorID, reason string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusFailed) {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot fail")
	}

	if escrowID, err := s.escrows.GetEscrowIDForJob(ctx, job.ID); err == nil && escrowID != "" {
		if err := s.ledger.RefundEscrow(ctx, escrowID, reason); err != nil {
			return nil, err
		}
	}

	job.Status = models.JobStatusFailed
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Dispute records a dispute against a failed job. v1 has no automated
// arbitration; the edge exists so future resolution tooling has somewhere
// to land.
func (s *Service) Dispute(ctx context.Context, jobID, actorID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusDisputed) {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot dispute")
	}
	job.Status = models.JobStatusDisputed
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// Cancel moves a proposed/negotiating/agreed job to cancelled.
func (s *Service) Cancel(ctx context.Context, jobID, actorID string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(actorID, job.ClientID, job.SellerID); err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(models.JobStatusCancelled) {
		return nil, apperr.StateConflict("job is " + string(job.Status) + ", cannot cancel")
	}
	job.Status = models.JobStatusCancelled
	job.UpdatedAt = time.Now()
	return job, s.repo.SaveJob(ctx, job)
}

// DeactivateSweep cancels or fails every job still active for a
// deactivating agent: pre-funding jobs are cancelled outright, funded jobs
// are failed (refunding escrow back to the client). Jobs already in a
// terminal state are left untouched.
func (s *Service) DeactivateSweep(ctx context.Context, agentID string) error {
	ids, err := s.repo.ActiveJobIDsForAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := s.repo.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.CanTransition(models.JobStatusCancelled) {
			if _, err := s.Cancel(ctx, id, agentID); err != nil {
				return err
			}
			continue
		}
		if job.Status.CanTransition(models.JobStatusFailed) {
			if _, err := s.Fail(ctx, id, agentID, "counterparty agent deactivated"); err != nil {
				return err
			}
		}
	}
	return nil
}
