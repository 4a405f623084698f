// Package ledger implements the custodial balance and escrow mutation
// discipline of §4.3: every path that moves Credits between an agent
// balance and an escrow hold runs inside one transaction, acquires its row
// locks in canonical order (agent rows before the escrow row on fund;
// escrow row before agent rows on release/refund, per the fund path
// acquiring the lock it already holds first), and emits an append-only
// audit entry. The audit log is never updated or deleted.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/fees"
)

// Ledger owns all balance and escrow mutations.
type Ledger struct {
	pool     *pgxpool.Pool
	schedule fees.Schedule
}

func New(pool *pgxpool.Pool, schedule fees.Schedule) *Ledger {
	return &Ledger{pool: pool, schedule: schedule}
}

// lockAgentRow locks the agent row FOR UPDATE and returns its current
// balance. Callers always lock agent rows in ascending id order when more
// than one agent is involved, so two concurrent two-party credits never
// deadlock.
func lockAgentRow(ctx context.Context, tx pgx.Tx, agentID string) (models.Credits, error) {
	var balance models.Credits
	err := tx.QueryRow(ctx, `SELECT balance FROM agents WHERE id = $1 FOR UPDATE`, agentID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, apperr.NotFound("agent not found")
		}
		return 0, apperr.Internal("lock agent row", err)
	}
	return balance, nil
}

func setAgentBalance(ctx context.Context, tx pgx.Tx, agentID string, balance models.Credits) error {
	_, err := tx.Exec(ctx, `UPDATE agents SET balance = $1 WHERE id = $2`, balance, agentID)
	if err != nil {
		return apperr.Internal("update agent balance", err)
	}
	return nil
}

func insertAuditEntry(ctx context.Context, tx pgx.Tx, entry *models.EscrowAuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_audit_log (id, escrow_id, action, actor_id, amount, metadata, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, now())`,
		entry.EscrowID, entry.Action, entry.ActorID, entry.Amount, entry.Metadata)
	if err != nil {
		return apperr.Internal("insert audit entry", err)
	}
	return nil
}

func lowerFirst(a, b string) (first, second string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// FundEscrow implements §4.3's escrow fund path: lock client row, re-check
// sufficient balance, subtract agreed price, create escrow(funded),
// transition job to funded, emit created+funded audit entries.
func (l *Ledger) FundEscrow(ctx context.Context, jobID, clientID, sellerID string, agreedPrice models.Credits) (*models.Escrow, error) {
	var escrow *models.Escrow

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var existing int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM escrows WHERE job_id = $1`, jobID).Scan(&existing); err != nil {
			return apperr.Internal("check existing escrow", err)
		}
		if existing > 0 {
			return apperr.StateConflict("escrow already exists for job")
		}

		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound("job not found")
			}
			return apperr.Internal("lock job row", err)
		}
		if status != "agreed" {
			return apperr.StateConflict("job must be in agreed state to fund escrow")
		}

		balance, err := lockAgentRow(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if balance.LessThan(agreedPrice) {
			return apperr.Validation("insufficient balance to fund escrow")
		}

		newBalance := balance.Sub(agreedPrice)
		if err := setAgentBalance(ctx, tx, clientID, newBalance); err != nil {
			return err
		}

		now := time.Now()
		escrow = &models.Escrow{
			JobID:    jobID,
			ClientID: clientID,
			SellerID: sellerID,
			Amount:   agreedPrice,
			Status:   models.EscrowStatusFunded,
			FundedAt: &now,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO escrows (id, job_id, client_id, seller_id, amount, status, funded_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
			RETURNING id`,
			escrow.JobID, escrow.ClientID, escrow.SellerID, escrow.Amount, escrow.Status, escrow.FundedAt,
		).Scan(&escrow.ID)
		if err != nil {
			return apperr.Internal("insert escrow", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE jobs SET status = 'funded', updated_at = now() WHERE id = $1`, jobID); err != nil {
			return apperr.Internal("transition job to funded", err)
		}

		createdMeta, _ := models.NewEscrowAuditEntry(escrow.ID, models.EscrowAuditCreated, clientID, agreedPrice, models.CreatedMetadata{AgreedPrice: agreedPrice})
		if err := insertAuditEntry(ctx, tx, createdMeta); err != nil {
			return err
		}
		fundedMeta, _ := models.NewEscrowAuditEntry(escrow.ID, models.EscrowAuditFunded, clientID, agreedPrice, models.FundedMetadata{ClientBalanceAfter: newBalance})
		return insertAuditEntry(ctx, tx, fundedMeta)
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// ReleaseEscrow implements §4.3's release path: lock escrow row, require
// funded, compute the base fee split, deduct the client's half if solvent
// (waived otherwise), credit the seller with the remainder, mark the
// escrow released, transition the job to completed, and record the full
// fee breakdown in the audit entry.
func (l *Ledger) ReleaseEscrow(ctx context.Context, escrowID string) (*fees.BaseFeeSplit, error) {
	var split fees.BaseFeeSplit

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var e models.Escrow
		err := tx.QueryRow(ctx, `
			SELECT id, job_id, client_id, seller_id, amount, status
			FROM escrows WHERE id = $1 FOR UPDATE`, escrowID,
		).Scan(&e.ID, &e.JobID, &e.ClientID, &e.SellerID, &e.Amount, &e.Status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound("escrow not found")
			}
			return apperr.Internal("lock escrow row", err)
		}
		if e.Status != models.EscrowStatusFunded {
			return apperr.StateConflict("escrow must be funded to release")
		}

		first, second := lowerFirst(e.ClientID, e.SellerID)
		balances := map[string]models.Credits{}
		for _, id := range []string{first, second} {
			b, err := lockAgentRow(ctx, tx, id)
			if err != nil {
				return err
			}
			balances[id] = b
		}

		split = l.schedule.BaseFee(e.Amount, balances[e.ClientID])

		if !split.ClientShareWaived {
			if err := setAgentBalance(ctx, tx, e.ClientID, balances[e.ClientID].Sub(split.ClientShare)); err != nil {
				return err
			}
		}
		if err := setAgentBalance(ctx, tx, e.SellerID, balances[e.SellerID].Add(split.SellerNetCredited)); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE escrows SET status = 'released', released_at = now() WHERE id = $1`, e.ID); err != nil {
			return apperr.Internal("mark escrow released", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, e.JobID); err != nil {
			return apperr.Internal("transition job to completed", err)
		}

		breakdown := models.FeeBreakdown{
			BaseFeeTotal:      split.Total,
			ClientShare:       split.ClientShare,
			SellerShare:       split.SellerShare,
			ClientShareWaived: split.ClientShareWaived,
			SellerNetCredited: split.SellerNetCredited,
		}
		entry, _ := models.NewEscrowAuditEntry(e.ID, models.EscrowAuditReleased, "", e.Amount, breakdown)
		return insertAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return &split, nil
}

// RefundEscrow implements §4.3's refund path: lock escrow row, require
// funded, credit the client the full amount, mark the escrow refunded,
// transition the job to failed if not already terminal.
func (l *Ledger) RefundEscrow(ctx context.Context, escrowID, reason string) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var e models.Escrow
		err := tx.QueryRow(ctx, `
			SELECT id, job_id, client_id, seller_id, amount, status
			FROM escrows WHERE id = $1 FOR UPDATE`, escrowID,
		).Scan(&e.ID, &e.JobID, &e.ClientID, &e.SellerID, &e.Amount, &e.Status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound("escrow not found")
			}
			return apperr.Internal("lock escrow row", err)
		}
		if e.Status != models.EscrowStatusFunded {
			return apperr.StateConflict("escrow must be funded to refund")
		}

		balance, err := lockAgentRow(ctx, tx, e.ClientID)
		if err != nil {
			return err
		}
		if err := setAgentBalance(ctx, tx, e.ClientID, balance.Add(e.Amount)); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE escrows SET status = 'refunded' WHERE id = $1`, e.ID); err != nil {
			return apperr.Internal("mark escrow refunded", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'failed', updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled', 'resolved')`, e.JobID,
		); err != nil {
			return apperr.Internal("transition job to failed", err)
		}

		entry, _ := models.NewEscrowAuditEntry(e.ID, models.EscrowAuditRefunded, "", e.Amount, models.RefundedMetadata{Reason: reason})
		return insertAuditEntry(ctx, tx, entry)
	})
}

// CreditDeposit adds a confirmed on-chain deposit to an agent's balance.
// Implements wallet.BalanceCreditor.
func (l *Ledger) CreditDeposit(ctx context.Context, agentID string, amount models.Credits) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		balance, err := lockAgentRow(ctx, tx, agentID)
		if err != nil {
			return err
		}
		return setAgentBalance(ctx, tx, agentID, balance.Add(amount))
	})
}

// RefundWithdrawal restores a gross amount to an agent's balance after a
// withdrawal fails post-deduction. Implements wallet.BalanceRefunder.
func (l *Ledger) RefundWithdrawal(ctx context.Context, agentID string, grossAmount models.Credits) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		balance, err := lockAgentRow(ctx, tx, agentID)
		if err != nil {
			return err
		}
		return setAgentBalance(ctx, tx, agentID, balance.Add(grossAmount))
	})
}

// DeductWithdrawal debits the gross withdrawal amount from an agent's
// balance at request time, before any on-chain action is taken. A failed
// withdrawal restores it via RefundWithdrawal.
func (l *Ledger) DeductWithdrawal(ctx context.Context, agentID string, grossAmount models.Credits) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		balance, err := lockAgentRow(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if balance.LessThan(grossAmount) {
			return apperr.Validation("insufficient balance to request withdrawal")
		}
		return setAgentBalance(ctx, tx, agentID, balance.Sub(grossAmount))
	})
}

// ChargeFee debits a flat fee (verification or storage) from an agent's
// balance, used outside the escrow lifecycle. Insufficient balance is a
// validation error per §4.4: "Insufficient balance for a fee → 422."
func (l *Ledger) ChargeFee(ctx context.Context, agentID string, amount models.Credits) error {
	if amount <= 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		balance, err := lockAgentRow(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return apperr.Validation(fmt.Sprintf("insufficient balance for fee of %s", amount))
		}
		return setAgentBalance(ctx, tx, agentID, balance.Sub(amount))
	})
}
