package models

import "time"

// DepositAddress is the platform's deterministically-derived receive
// address for one agent on the configured settlement chain, derived at
// path m/44'/60'/0'/0/{index} from the platform HD seed.
type DepositAddress struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	Address    string    `json:"address"`
	Index      uint32    `json:"index"`
	ChainID    string    `json:"chainId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DepositTransactionStatus is the lifecycle of an observed inbound transfer.
type DepositTransactionStatus string

const (
	DepositStatusPending    DepositTransactionStatus = "pending"
	DepositStatusConfirming DepositTransactionStatus = "confirming"
	DepositStatusCredited   DepositTransactionStatus = "credited"
	DepositStatusFailed     DepositTransactionStatus = "failed"
)

// DepositTransaction is an observed on-chain ERC-20 transfer into an agent's
// deposit address. TxHash is globally unique; crediting is idempotent and
// only happens once confirmations reach the configured requirement and the
// amount is at or above the configured minimum.
type DepositTransaction struct {
	ID            string                    `json:"id"`
	AgentID       string                    `json:"agentId"`
	TxHash        string                    `json:"txHash"`
	SourceAddress string                    `json:"sourceAddress"`
	AmountUSDC    USDCUnits                 `json:"amountUsdc"`
	AmountCredits Credits                   `json:"amountCredits"`
	BlockNumber   uint64                    `json:"blockNumber"`
	Confirmations uint32                    `json:"confirmations"`
	Status        DepositTransactionStatus  `json:"status"`
	DetectedAt    time.Time                 `json:"detectedAt"`
	CreditedAt    *time.Time                `json:"creditedAt,omitempty"`
}

// CanCredit reports whether the observed state satisfies the crediting
// invariant: confirmations at or above the required depth, never credited
// twice.
func (d *DepositTransaction) CanCredit(requiredConfirmations uint32, minimumUSDC USDCUnits) bool {
	if d.Status == DepositStatusCredited || d.Status == DepositStatusFailed {
		return false
	}
	return d.Confirmations >= requiredConfirmations && d.AmountUSDC >= minimumUSDC
}

// WithdrawalStatus is the lifecycle of an outbound payout.
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
)

// WithdrawalRequest is a request to pay an agent out on-chain. GrossAmount
// is deducted from the agent's balance at creation time, before any
// on-chain action is taken; a terminal Failed status restores it.
type WithdrawalRequest struct {
	ID                 string           `json:"id"`
	AgentID            string           `json:"agentId"`
	GrossAmount        Credits          `json:"grossAmount"`
	FlatFee            Credits          `json:"flatFee"`
	NetPayout          Credits          `json:"netPayout"`
	DestinationAddress string           `json:"destinationAddress"`
	Status             WithdrawalStatus `json:"status"`
	TxHash             string           `json:"txHash,omitempty"`
	ErrorMessage       string           `json:"errorMessage,omitempty"`
	RequestedAt        time.Time        `json:"requestedAt"`
	ProcessedAt        *time.Time       `json:"processedAt,omitempty"`
}

// NewWithdrawalRequest computes the net payout and validates it is positive.
func NewWithdrawalRequest(agentID, destination string, gross, flatFee Credits) (*WithdrawalRequest, error) {
	net := gross.Sub(flatFee)
	if net.LessThan(Credits(1)) {
		return nil, ErrWithdrawalBelowFee
	}
	return &WithdrawalRequest{
		AgentID:            agentID,
		GrossAmount:        gross,
		FlatFee:            flatFee,
		NetPayout:          net,
		DestinationAddress: destination,
		Status:             WithdrawalStatusPending,
	}, nil
}
