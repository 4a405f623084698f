package wallet

import (
	"context"

	"go.uber.org/zap"
)

// ConfirmingDepositLister lists deposit ids awaiting confirmation, for
// startup recovery.
type ConfirmingDepositLister interface {
	ConfirmingDepositIDs(ctx context.Context) ([]string, error)
}

// Recover re-spawns a confirmation watcher for every still-confirming
// deposit and a withdrawal worker for every pending or processing
// withdrawal. Both are idempotent: a watcher or worker for a row that
// changed status between restart and recovery simply observes the new
// status and exits on its first iteration.
func Recover(ctx context.Context, deposits ConfirmingDepositLister, depositService *DepositService, withdrawals WithdrawalRepository, withdrawalWorker *WithdrawalWorker, log *zap.Logger) {
	depositIDs, err := deposits.ConfirmingDepositIDs(ctx)
	if err != nil {
		log.Error("startup recovery failed to list confirming deposits", zap.Error(err))
	} else {
		for _, id := range depositIDs {
			watcher := NewConfirmationWatcher(depositService, id)
			go watcher.Run(ctx)
		}
		log.Info("startup recovery re-spawned deposit watchers", zap.Int("count", len(depositIDs)))
	}

	withdrawalIDs, err := withdrawals.PendingAndProcessingWithdrawals(ctx)
	if err != nil {
		log.Error("startup recovery failed to list pending withdrawals", zap.Error(err))
		return
	}
	for _, id := range withdrawalIDs {
		go withdrawalWorker.Run(ctx, id)
	}
	log.Info("startup recovery re-spawned withdrawal workers", zap.Int("count", len(withdrawalIDs)))
}
