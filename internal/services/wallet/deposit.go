package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/arcsign/chainadapter/rpc"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

type rpcLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

type rpcReceipt struct {
	Status      string    `json:"status"`
	BlockNumber string    `json:"blockNumber"`
	Logs        []rpcLog  `json:"logs"`
}

// DepositRepository persists deposit transactions.
type DepositRepository interface {
	CreateDeposit(ctx context.Context, d *models.DepositTransaction) error
	GetDeposit(ctx context.Context, id string) (*models.DepositTransaction, error)
	UpdateDeposit(ctx context.Context, d *models.DepositTransaction) error

	// CreditDepositAtomically locks the deposit row FOR UPDATE, loads its
	// current state, and runs credit against it. If credit returns
	// shouldMarkCredited=true, the row is transitioned to credited in the
	// same transaction. The row lock is held for the whole call, so two
	// concurrent watchers for the same deposit serialize: the second one
	// blocks until the first commits, then observes status=credited and
	// does nothing.
	CreditDepositAtomically(ctx context.Context, depositID string, confirmations uint32, credit func(ctx context.Context, d *models.DepositTransaction) (shouldMarkCredited bool, err error)) error
}

// BalanceCreditor credits an agent's balance atomically, implemented by the
// ledger.
type BalanceCreditor interface {
	CreditDeposit(ctx context.Context, agentID string, amount models.Credits) error
}

// DepositService ingests agent-reported deposit transactions and confirms
// them over time.
type DepositService struct {
	rpcClient             rpc.RPCClient
	deposits              DepositRepository
	addresses             AddressRepository
	ledger                BalanceCreditor
	usdcContract          string
	requiredConfirmations uint32
	minimumDepositUSDC    int64
	log                   *zap.Logger
}

func NewDepositService(rpcClient rpc.RPCClient, deposits DepositRepository, addresses AddressRepository, ledger BalanceCreditor, usdcContract string, requiredConfirmations uint32, minimumDepositUSDC int64, log *zap.Logger) *DepositService {
	return &DepositService{
		rpcClient:             rpcClient,
		deposits:              deposits,
		addresses:             addresses,
		ledger:                ledger,
		usdcContract:          strings.ToLower(usdcContract),
		requiredConfirmations: requiredConfirmations,
		minimumDepositUSDC:    minimumDepositUSDC,
		log:                   log,
	}
}

// IngestNotifiedDeposit handles an agent's notification that it broadcast a
// deposit transaction: fetches the receipt, rejects if absent or reverted,
// decodes the ERC-20 Transfer events, finds one to the agent's deposit
// address above the configured minimum, and records a confirming deposit.
func (s *DepositService) IngestNotifiedDeposit(ctx context.Context, agentID, txHash string) (*models.DepositTransaction, error) {
	depositAddr, err := s.addresses.GetDepositAddress(ctx, agentID)
	if err != nil || depositAddr == nil {
		return nil, apperr.NotFound("agent has no deposit address yet")
	}

	raw, err := s.rpcClient.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, apperr.UpstreamUnavailable("fetch transaction receipt", err)
	}
	if raw == nil || string(raw) == "null" {
		return nil, apperr.Validation("transaction receipt not yet available")
	}

	var receipt rpcReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, apperr.Internal("decode transaction receipt", err)
	}
	if receipt.Status == "0x0" {
		return nil, apperr.Validation("transaction reverted")
	}

	blockNum, err := hexutil.DecodeUint64(receipt.BlockNumber)
	if err != nil {
		return nil, apperr.Internal("decode receipt block number", err)
	}

	amount, found := findTransferToAddress(receipt.Logs, s.usdcContract, depositAddr.Address)
	if !found {
		return nil, apperr.Validation("no matching USDC transfer found in transaction receipt")
	}
	if amount.Cmp(big.NewInt(s.minimumDepositUSDC)) < 0 {
		return nil, apperr.Validation("deposit amount below configured minimum")
	}

	amountUSDC := models.USDCUnits(amount.Int64())
	deposit := &models.DepositTransaction{
		AgentID:       agentID,
		TxHash:        txHash,
		SourceAddress: depositAddr.Address,
		AmountUSDC:    amountUSDC,
		AmountCredits: amountUSDC.ToCredits(),
		BlockNumber:   blockNum,
		Status:        models.DepositStatusConfirming,
		DetectedAt:    time.Now(),
	}
	if err := s.deposits.CreateDeposit(ctx, deposit); err != nil {
		return nil, err
	}
	return deposit, nil
}

// findTransferToAddress scans receipt logs for an ERC-20 Transfer event
// emitted by tokenContract whose `to` matches target, returning the
// transferred amount in the token's base units.
func findTransferToAddress(logs []rpcLog, tokenContract, target string) (*big.Int, bool) {
	targetTopic := strings.ToLower(common.HexToAddress(target).Hex())
	for _, l := range logs {
		if !strings.EqualFold(l.Address, tokenContract) {
			continue
		}
		if len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], erc20TransferTopic) {
			continue
		}
		to := "0x" + strings.TrimLeft(strings.TrimPrefix(l.Topics[2], "0x"), "0")
		if !strings.EqualFold(common.HexToAddress(to).Hex(), common.HexToAddress(targetTopic).Hex()) {
			continue
		}
		amount := new(big.Int)
		amount.SetString(strings.TrimPrefix(l.Data, "0x"), 16)
		return amount, true
	}
	return nil, false
}

// ConfirmationWatcher polls the RPC for the current block height and
// credits a confirming deposit once it reaches the required confirmation
// depth. One instance runs per in-flight deposit.
type ConfirmationWatcher struct {
	deposit   *DepositService
	depositID string
	pollEvery time.Duration
}

func NewConfirmationWatcher(deposit *DepositService, depositID string) *ConfirmationWatcher {
	return &ConfirmationWatcher{deposit: deposit, depositID: depositID, pollEvery: 4 * time.Second}
}

// Run polls until the deposit is credited, fails, or ctx is cancelled.
// Crediting re-checks the deposit's status under a row lock so it is
// idempotent against concurrent watchers for the same row (e.g. after a
// restart re-spawns one).
func (w *ConfirmationWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d, err := w.deposit.deposits.GetDeposit(ctx, w.depositID)
		if err != nil {
			w.deposit.log.Warn("confirmation watcher failed to load deposit", zap.Error(err), zap.String("depositId", w.depositID))
			continue
		}
		if d.Status != models.DepositStatusConfirming {
			return
		}

		raw, err := w.deposit.rpcClient.Call(ctx, "eth_blockNumber", []interface{}{})
		if err != nil {
			w.deposit.log.Warn("confirmation watcher RPC call failed", zap.Error(err))
			continue
		}
		var hexHeight string
		if err := json.Unmarshal(raw, &hexHeight); err != nil {
			continue
		}
		currentBlock, err := hexutil.DecodeUint64(hexHeight)
		if err != nil {
			continue
		}

		confirmations := currentBlock - d.BlockNumber
		if confirmations < uint64(w.deposit.requiredConfirmations) {
			continue
		}

		if err := w.deposit.creditDeposit(ctx, d.ID, uint32(confirmations)); err != nil {
			w.deposit.log.Warn("failed to credit deposit", zap.Error(err), zap.String("depositId", w.depositID))
			continue
		}
		return
	}
}

// creditDeposit re-checks and credits depositID under its row lock, so that
// two watchers racing on the same deposit (a notify-spawned one and a
// startup-recovery-spawned one) never both observe "confirming" and both
// credit the balance.
func (s *DepositService) creditDeposit(ctx context.Context, depositID string, confirmations uint32) error {
	return s.deposits.CreditDepositAtomically(ctx, depositID, confirmations, func(ctx context.Context, fresh *models.DepositTransaction) (bool, error) {
		if fresh.Status != models.DepositStatusConfirming {
			return false, nil
		}
		fresh.Confirmations = confirmations
		if !fresh.CanCredit(s.requiredConfirmations, models.USDCUnits(s.minimumDepositUSDC)) {
			return false, fmt.Errorf("deposit %s no longer eligible to credit", fresh.ID)
		}
		if err := s.ledger.CreditDeposit(ctx, fresh.AgentID, fresh.AmountCredits); err != nil {
			return false, err
		}
		return true, nil
	})
}
