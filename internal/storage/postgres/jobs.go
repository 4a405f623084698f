package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/ledger"
)

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var criteria, deliverable, negotiation []byte
	var listingID *string
	err := row.Scan(
		&j.ID, &j.ClientID, &j.SellerID, &listingID, &j.Status,
		&criteria, &j.AcceptanceCriteriaHash, &j.Requirements, &j.AgreedPrice,
		&j.DeliveryDeadline, &negotiation, &j.MaxRounds, &j.CurrentRound,
		&deliverable, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("job not found")
		}
		return nil, apperr.Internal("scan job row", err)
	}
	if listingID != nil {
		j.ListingID = *listingID
	}
	if len(criteria) > 0 {
		j.AcceptanceCriteria = json.RawMessage(criteria)
	}
	if len(deliverable) > 0 {
		j.DeliverableResult = json.RawMessage(deliverable)
	}
	if len(negotiation) > 0 {
		if err := json.Unmarshal(negotiation, &j.NegotiationLog); err != nil {
			return nil, apperr.Internal("decode negotiation log", err)
		}
	}
	return &j, nil
}

const jobColumns = `id, client_id, seller_id, listing_id, status,
	acceptance_criteria, acceptance_criteria_hash, requirements, agreed_price,
	delivery_deadline, negotiation_log, max_rounds, current_round,
	deliverable_result, created_at, updated_at`

// GetJob implements jobs.Repository.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// SaveJob implements jobs.Repository: upserts the full row, since the job
// service always loads-mutates-saves the whole aggregate under no
// additional locking (the ledger owns the only cross-job-and-balance
// invariants, and takes its own row locks independently).
func (s *Store) SaveJob(ctx context.Context, job *models.Job) error {
	negotiation, err := json.Marshal(job.NegotiationLog)
	if err != nil {
		return apperr.Internal("encode negotiation log", err)
	}
	var listingID *string
	if job.ListingID != "" {
		listingID = &job.ListingID
	}

	if job.ID == "" {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO jobs (client_id, seller_id, listing_id, status, acceptance_criteria,
				acceptance_criteria_hash, requirements, agreed_price, delivery_deadline,
				negotiation_log, max_rounds, current_round, deliverable_result)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at, updated_at`,
			job.ClientID, job.SellerID, listingID, job.Status, nullableJSON(job.AcceptanceCriteria),
			job.AcceptanceCriteriaHash, job.Requirements, job.AgreedPrice, job.DeliveryDeadline,
			negotiation, job.MaxRounds, job.CurrentRound, nullableJSON(job.DeliverableResult),
		).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return apperr.Internal("insert job", err)
		}
		return nil
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, client_id, seller_id, listing_id, status, acceptance_criteria,
			acceptance_criteria_hash, requirements, agreed_price, delivery_deadline,
			negotiation_log, max_rounds, current_round, deliverable_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			acceptance_criteria = EXCLUDED.acceptance_criteria,
			acceptance_criteria_hash = EXCLUDED.acceptance_criteria_hash,
			requirements = EXCLUDED.requirements, agreed_price = EXCLUDED.agreed_price,
			delivery_deadline = EXCLUDED.delivery_deadline, negotiation_log = EXCLUDED.negotiation_log,
			max_rounds = EXCLUDED.max_rounds, current_round = EXCLUDED.current_round,
			deliverable_result = EXCLUDED.deliverable_result, updated_at = now()`,
		job.ID, job.ClientID, job.SellerID, listingID, job.Status, nullableJSON(job.AcceptanceCriteria),
		job.AcceptanceCriteriaHash, job.Requirements, job.AgreedPrice, job.DeliveryDeadline,
		negotiation, job.MaxRounds, job.CurrentRound, nullableJSON(job.DeliverableResult))
	if err != nil {
		return apperr.Internal("save job", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// GetEscrowIDForJob implements jobs.EscrowLookup.
func (s *Store) GetEscrowIDForJob(ctx context.Context, jobID string) (string, error) {
	var escrowID string
	err := s.pool.QueryRow(ctx, `SELECT id FROM escrows WHERE job_id = $1`, jobID).Scan(&escrowID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", apperr.NotFound("no escrow for job")
		}
		return "", apperr.Internal("lookup escrow for job", err)
	}
	return escrowID, nil
}

// GetJobStatus implements deadline.JobStore.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", apperr.NotFound("job not found")
		}
		return "", apperr.Internal("lookup job status", err)
	}
	return status, nil
}

// ActiveJobsWithDeadlines implements deadline.JobStore, used by the deadline
// queue's startup recovery pass.
func (s *Store) ActiveJobsWithDeadlines(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_deadline FROM jobs
		WHERE status IN ('funded', 'in_progress', 'delivered') AND delivery_deadline IS NOT NULL`)
	if err != nil {
		return nil, apperr.Internal("query active jobs with deadlines", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var id string
		var deadline time.Time
		if err := rows.Scan(&id, &deadline); err != nil {
			return nil, apperr.Internal("scan active job deadline row", err)
		}
		out[id] = deadline
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate active job deadline rows", err)
	}
	return out, nil
}

// ActiveJobIDsForAgent implements jobs.Repository, used to sweep an agent's
// open jobs on deactivation.
func (s *Store) ActiveJobIDsForAgent(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE (client_id = $1 OR seller_id = $1)
		AND status NOT IN ('completed', 'failed', 'disputed', 'resolved', 'cancelled')`, agentID)
	if err != nil {
		return nil, apperr.Internal("list active jobs for agent", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan active job id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate active job rows", err)
	}
	return ids, nil
}

// JobDeadlineStore adapts Store and the ledger into deadline.JobStore's
// FailJobAndRefund, which needs both the job row and the escrow mutation.
type JobDeadlineStore struct {
	*Store
	ledger *ledger.Ledger
}

func NewJobDeadlineStore(store *Store, l *ledger.Ledger) *JobDeadlineStore {
	return &JobDeadlineStore{Store: store, ledger: l}
}

// FailJobAndRefund implements deadline.JobStore: marks the job failed and
// refunds its escrow. The ledger's RefundEscrow already transitions the job
// to failed, so this only needs to resolve the escrow id first.
func (j *JobDeadlineStore) FailJobAndRefund(ctx context.Context, jobID, reason string) error {
	escrowID, err := j.GetEscrowIDForJob(ctx, jobID)
	if err != nil {
		return err
	}
	return j.ledger.RefundEscrow(ctx, escrowID, reason)
}
