package wallet

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/arcsign/chainadapter"

	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/audit"
	chainsvc "github.com/agentmarket/engine/internal/services/chainadapter"
)

// WithdrawalRepository persists withdrawal requests.
type WithdrawalRepository interface {
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	PendingAndProcessingWithdrawals(ctx context.Context) ([]string, error)
}

// BalanceRefunder restores a gross amount to an agent's balance under a
// row lock, used when a withdrawal fails after the gross amount was
// already deducted at request time.
type BalanceRefunder interface {
	RefundWithdrawal(ctx context.Context, agentID string, grossAmount models.Credits) error
}

// WithdrawalWorker drives one pending withdrawal request from pending
// through processing to completed or failed. One instance runs per
// in-flight withdrawal.
type WithdrawalWorker struct {
	withdrawals  WithdrawalRepository
	refunder     BalanceRefunder
	chainService *chainsvc.Service
	signer       chainadapter.Signer
	treasuryAddr string
	chainID      string
	usdcContract string
	audit        *audit.AuditLogger
	log          *zap.Logger
}

func NewWithdrawalWorker(withdrawals WithdrawalRepository, refunder BalanceRefunder, chainService *chainsvc.Service, signer chainadapter.Signer, treasuryAddr, chainID, usdcContract string, auditLogger *audit.AuditLogger, log *zap.Logger) *WithdrawalWorker {
	return &WithdrawalWorker{
		withdrawals:  withdrawals,
		refunder:     refunder,
		chainService: chainService,
		signer:       signer,
		treasuryAddr: treasuryAddr,
		chainID:      chainID,
		usdcContract: usdcContract,
		audit:        auditLogger,
		log:          log,
	}
}

// logTreasurySign appends a SUCCESS/FAILURE entry for one treasury signing
// operation to the append-only security audit log, independent of the
// transactional escrow_audit_log the ledger maintains in Postgres.
func (w *WithdrawalWorker) logTreasurySign(withdrawalID string, err error) {
	if w.audit == nil {
		return
	}
	entry := audit.AuditLogEntry{
		ID:        withdrawalID,
		WalletID:  w.treasuryAddr,
		Timestamp: time.Now(),
		Operation: "TREASURY_SIGN_WITHDRAWAL",
		Status:    "SUCCESS",
	}
	if err != nil {
		entry.Status = "FAILURE"
		entry.FailureReason = err.Error()
	}
	if logErr := w.audit.LogOperation(entry); logErr != nil {
		w.log.Warn("failed to write treasury signing audit entry", zap.Error(logErr), zap.String("withdrawalId", withdrawalID))
	}
}

// Run processes one withdrawal id. The gross amount was already deducted
// at request time; on any failure this refunds it back under a row lock.
func (w *WithdrawalWorker) Run(ctx context.Context, withdrawalID string) {
	wd, err := w.withdrawals.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		w.log.Warn("withdrawal worker failed to load request", zap.Error(err), zap.String("withdrawalId", withdrawalID))
		return
	}
	if wd.Status != models.WithdrawalStatusPending {
		return
	}

	wd.Status = models.WithdrawalStatusProcessing
	if err := w.withdrawals.UpdateWithdrawal(ctx, wd); err != nil {
		w.log.Warn("withdrawal worker failed to mark processing", zap.Error(err), zap.String("withdrawalId", withdrawalID))
		return
	}

	txHash, err := w.buildSignBroadcast(ctx, wd)
	w.logTreasurySign(withdrawalID, err)
	if err != nil {
		w.log.Warn("withdrawal failed, refunding gross amount", zap.Error(err), zap.String("withdrawalId", withdrawalID))
		w.fail(ctx, wd, err.Error())
		return
	}

	now := time.Now()
	wd.Status = models.WithdrawalStatusCompleted
	wd.TxHash = txHash
	wd.ProcessedAt = &now
	if err := w.withdrawals.UpdateWithdrawal(ctx, wd); err != nil {
		w.log.Warn("withdrawal worker failed to mark completed", zap.Error(err), zap.String("withdrawalId", withdrawalID))
	}
}

func (w *WithdrawalWorker) buildSignBroadcast(ctx context.Context, wd *models.WithdrawalRequest) (string, error) {
	amountBaseUnits := new(big.Int).Mul(big.NewInt(int64(wd.NetPayout)), big.NewInt(10000))

	req := &chainadapter.TransactionRequest{
		From:     w.treasuryAddr,
		To:       wd.DestinationAddress,
		Asset:    "USDC",
		Amount:   amountBaseUnits,
		FeeSpeed: chainadapter.FeeSpeed("normal"),
		ChainSpecific: map[string]interface{}{
			"token_contract": w.usdcContract,
		},
	}

	unsigned, err := w.chainService.BuildTransaction(ctx, w.chainID, req, "")
	if err != nil {
		return "", err
	}
	signed, err := w.chainService.SignTransaction(ctx, w.chainID, unsigned, w.signer, "")
	if err != nil {
		return "", err
	}
	receipt, err := w.chainService.BroadcastTransaction(ctx, w.chainID, signed, "")
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

func (w *WithdrawalWorker) fail(ctx context.Context, wd *models.WithdrawalRequest, reason string) {
	now := time.Now()
	wd.Status = models.WithdrawalStatusFailed
	wd.ErrorMessage = reason
	wd.ProcessedAt = &now
	if err := w.withdrawals.UpdateWithdrawal(ctx, wd); err != nil {
		w.log.Warn("withdrawal worker failed to persist failure", zap.Error(err), zap.String("withdrawalId", wd.ID))
	}
	if err := w.refunder.RefundWithdrawal(ctx, wd.AgentID, wd.GrossAmount); err != nil {
		w.log.Error("withdrawal worker failed to refund gross amount", zap.Error(err), zap.String("withdrawalId", wd.ID))
	}
}
