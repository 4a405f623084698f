package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

// GetDepositAddress implements wallet.AddressRepository.
func (s *Store) GetDepositAddress(ctx context.Context, agentID string) (*models.DepositAddress, error) {
	var a models.DepositAddress
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, address, index, chain_id, created_at
		FROM deposit_addresses WHERE agent_id = $1`, agentID,
	).Scan(&a.ID, &a.AgentID, &a.Address, &a.Index, &a.ChainID, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("no deposit address for agent")
		}
		return nil, apperr.Internal("lookup deposit address", err)
	}
	return &a, nil
}

// NextDerivationIndex allocates the next unused HD derivation index from a
// dedicated sequence, so concurrent first-deposit-address requests never
// collide.
func (s *Store) NextDerivationIndex(ctx context.Context) (uint32, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('deposit_address_index_seq')`).Scan(&next)
	if err != nil {
		return 0, apperr.Internal("allocate derivation index", err)
	}
	return uint32(next), nil
}

// SaveDepositAddress implements wallet.AddressRepository.
func (s *Store) SaveDepositAddress(ctx context.Context, addr *models.DepositAddress) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO deposit_addresses (agent_id, address, index, chain_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		addr.AgentID, addr.Address, addr.Index, addr.ChainID,
	).Scan(&addr.ID, &addr.CreatedAt)
	if err != nil {
		return apperr.Internal("insert deposit address", err)
	}
	return nil
}

func scanDeposit(row pgx.Row) (*models.DepositTransaction, error) {
	var d models.DepositTransaction
	err := row.Scan(
		&d.ID, &d.AgentID, &d.TxHash, &d.SourceAddress, &d.AmountUSDC, &d.AmountCredits,
		&d.BlockNumber, &d.Confirmations, &d.Status, &d.DetectedAt, &d.CreditedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("deposit not found")
		}
		return nil, apperr.Internal("scan deposit row", err)
	}
	return &d, nil
}

const depositColumns = `id, agent_id, tx_hash, source_address, amount_usdc, amount_credits,
	block_number, confirmations, status, detected_at, credited_at`

// CreateDeposit implements wallet.DepositRepository. tx_hash's unique index
// rejects a duplicate notification of the same on-chain transaction.
func (s *Store) CreateDeposit(ctx context.Context, d *models.DepositTransaction) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO deposit_transactions (agent_id, tx_hash, source_address, amount_usdc,
			amount_credits, block_number, confirmations, status, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		d.AgentID, d.TxHash, d.SourceAddress, d.AmountUSDC, d.AmountCredits,
		d.BlockNumber, d.Confirmations, d.Status, d.DetectedAt,
	).Scan(&d.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.StateConflict("deposit transaction already notified")
		}
		return apperr.Internal("insert deposit", err)
	}
	return nil
}

// GetDeposit implements wallet.DepositRepository.
func (s *Store) GetDeposit(ctx context.Context, id string) (*models.DepositTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_transactions WHERE id = $1`, id)
	return scanDeposit(row)
}

// UpdateDeposit implements wallet.DepositRepository.
func (s *Store) UpdateDeposit(ctx context.Context, d *models.DepositTransaction) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposit_transactions SET confirmations = $1, status = $2, credited_at = $3
		WHERE id = $4`,
		d.Confirmations, d.Status, d.CreditedAt, d.ID)
	if err != nil {
		return apperr.Internal("update deposit", err)
	}
	return nil
}

// CreditDepositAtomically implements wallet.DepositRepository: it locks the
// deposit row for the entire credit decision, so a second caller racing on
// the same row blocks on the SELECT ... FOR UPDATE until the first commits
// and then sees the post-credit status.
func (s *Store) CreditDepositAtomically(ctx context.Context, depositID string, confirmations uint32, credit func(ctx context.Context, d *models.DepositTransaction) (bool, error)) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_transactions WHERE id = $1 FOR UPDATE`, depositID)
		d, err := scanDeposit(row)
		if err != nil {
			return err
		}

		shouldMarkCredited, err := credit(ctx, d)
		if err != nil {
			return err
		}
		if !shouldMarkCredited {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE deposit_transactions SET confirmations = $1, status = 'credited', credited_at = now()
			WHERE id = $2`,
			confirmations, depositID)
		if err != nil {
			return apperr.Internal("mark deposit credited", err)
		}
		return nil
	})
}

// ListDepositsForAgent returns an agent's deposit history, most recent
// first, for the wallet transactions endpoint.
func (s *Store) ListDepositsForAgent(ctx context.Context, agentID string, limit int) ([]*models.DepositTransaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+depositColumns+` FROM deposit_transactions WHERE agent_id = $1 ORDER BY detected_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, apperr.Internal("list deposits for agent", err)
	}
	defer rows.Close()

	var out []*models.DepositTransaction
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate deposit rows", err)
	}
	return out, nil
}

// ListWithdrawalsForAgent returns an agent's withdrawal history, most
// recent first, for the wallet transactions endpoint.
func (s *Store) ListWithdrawalsForAgent(ctx context.Context, agentID string, limit int) ([]*models.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, gross_amount, flat_fee, net_payout, destination_address,
			status, tx_hash, error_message, requested_at, processed_at
		FROM withdrawal_requests WHERE agent_id = $1 ORDER BY requested_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, apperr.Internal("list withdrawals for agent", err)
	}
	defer rows.Close()

	var out []*models.WithdrawalRequest
	for rows.Next() {
		var w models.WithdrawalRequest
		if err := rows.Scan(&w.ID, &w.AgentID, &w.GrossAmount, &w.FlatFee, &w.NetPayout, &w.DestinationAddress,
			&w.Status, &w.TxHash, &w.ErrorMessage, &w.RequestedAt, &w.ProcessedAt); err != nil {
			return nil, apperr.Internal("scan withdrawal row", err)
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate withdrawal rows", err)
	}
	return out, nil
}

// ConfirmingDepositIDs implements wallet.ConfirmingDepositLister, used by
// startup recovery to re-spawn a confirmation watcher per in-flight deposit.
func (s *Store) ConfirmingDepositIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM deposit_transactions WHERE status = 'confirming'`)
	if err != nil {
		return nil, apperr.Internal("list confirming deposits", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan confirming deposit id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate confirming deposit rows", err)
	}
	return ids, nil
}

// GetWithdrawal implements wallet.WithdrawalRepository.
func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, gross_amount, flat_fee, net_payout, destination_address,
			status, tx_hash, error_message, requested_at, processed_at
		FROM withdrawal_requests WHERE id = $1`, id,
	).Scan(&w.ID, &w.AgentID, &w.GrossAmount, &w.FlatFee, &w.NetPayout, &w.DestinationAddress,
		&w.Status, &w.TxHash, &w.ErrorMessage, &w.RequestedAt, &w.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("withdrawal not found")
		}
		return nil, apperr.Internal("lookup withdrawal", err)
	}
	return &w, nil
}

// CreateWithdrawal persists a new withdrawal request in pending status. The
// caller (the wallet HTTP handler) must have already deducted the gross
// amount via ledger.DeductWithdrawal in the same logical operation.
func (s *Store) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (agent_id, gross_amount, flat_fee, net_payout, destination_address, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, requested_at`,
		w.AgentID, w.GrossAmount, w.FlatFee, w.NetPayout, w.DestinationAddress, w.Status,
	).Scan(&w.ID, &w.RequestedAt)
	if err != nil {
		return apperr.Internal("insert withdrawal", err)
	}
	return nil
}

// UpdateWithdrawal implements wallet.WithdrawalRepository.
func (s *Store) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE withdrawal_requests SET status = $1, tx_hash = $2, error_message = $3, processed_at = $4
		WHERE id = $5`,
		w.Status, w.TxHash, w.ErrorMessage, w.ProcessedAt, w.ID)
	if err != nil {
		return apperr.Internal("update withdrawal", err)
	}
	return nil
}

// PendingAndProcessingWithdrawals implements wallet.WithdrawalRepository,
// used by startup recovery to re-spawn a worker per in-flight withdrawal.
func (s *Store) PendingAndProcessingWithdrawals(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM withdrawal_requests WHERE status IN ('pending', 'processing')`)
	if err != nil {
		return nil, apperr.Internal("list pending withdrawals", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan withdrawal id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate withdrawal rows", err)
	}
	return ids, nil
}
