package models

import (
	"encoding/json"
	"time"
)

// EscrowStatus is monotonic along {pending -> funded -> released|refunded};
// disputed is terminal at the ledger layer (dispute resolution, if any,
// happens at the job layer).
type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusFunded   EscrowStatus = "funded"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusDisputed EscrowStatus = "disputed"
)

// Escrow is the custodial hold against a client's balance for the duration
// of one job. There is exactly one escrow per job.
type Escrow struct {
	ID         string       `json:"id"`
	JobID      string       `json:"jobId"`
	ClientID   string       `json:"clientId"`
	SellerID   string       `json:"sellerId"`
	Amount     Credits      `json:"amount"`
	Status     EscrowStatus `json:"status"`
	FundedAt   *time.Time   `json:"fundedAt,omitempty"`
	ReleasedAt *time.Time   `json:"releasedAt,omitempty"`
}

// EscrowAuditAction is the closed set of audit log entry kinds. Each kind
// carries its own typed metadata payload rather than a generic string map,
// per the append-only-log design note.
type EscrowAuditAction string

const (
	EscrowAuditCreated  EscrowAuditAction = "created"
	EscrowAuditFunded   EscrowAuditAction = "funded"
	EscrowAuditReleased EscrowAuditAction = "released"
	EscrowAuditRefunded EscrowAuditAction = "refunded"
	EscrowAuditDisputed EscrowAuditAction = "disputed"
	EscrowAuditResolved EscrowAuditAction = "resolved"
)

// FeeBreakdown is the typed metadata payload for a `released` audit entry:
// the full base-fee split computed at escrow release.
type FeeBreakdown struct {
	BaseFeeTotal       Credits `json:"baseFeeTotal"`
	ClientShare        Credits `json:"clientShare"`
	SellerShare        Credits `json:"sellerShare"`
	ClientShareWaived  bool    `json:"clientShareWaived"`
	SellerNetCredited  Credits `json:"sellerNetCredited"`
}

// CreatedMetadata is the typed metadata payload for a `created` audit entry.
type CreatedMetadata struct {
	AgreedPrice Credits `json:"agreedPrice"`
}

// FundedMetadata is the typed metadata payload for a `funded` audit entry.
type FundedMetadata struct {
	ClientBalanceAfter Credits `json:"clientBalanceAfter"`
}

// RefundedMetadata is the typed metadata payload for a `refunded` audit entry.
type RefundedMetadata struct {
	Reason string `json:"reason"`
}

// DisputedMetadata is the typed metadata payload for a `disputed` audit entry.
type DisputedMetadata struct {
	Reason string `json:"reason"`
}

// ResolvedMetadata is the typed metadata payload for a `resolved` audit
// entry. v1 has no automated resolver; this exists so the edge is wired.
type ResolvedMetadata struct {
	Resolution string `json:"resolution"`
}

// EscrowAuditEntry is one append-only row in the escrow audit log. It is
// never updated or deleted after insertion. Metadata is marshaled from one
// of the typed *Metadata structs above, keyed by Action.
type EscrowAuditEntry struct {
	ID        string            `json:"id"`
	EscrowID  string            `json:"escrowId"`
	Action    EscrowAuditAction `json:"action"`
	ActorID   string            `json:"actorId,omitempty"`
	Amount    Credits           `json:"amount"`
	Metadata  json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewEscrowAuditEntry marshals the given typed metadata and constructs the
// audit row. Passing metadata of the wrong shape for action is a
// programmer error, not a runtime validation concern — callers always pass
// the *Metadata struct matching the action constant.
func NewEscrowAuditEntry(escrowID string, action EscrowAuditAction, actorID string, amount Credits, metadata interface{}) (*EscrowAuditEntry, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return &EscrowAuditEntry{
		EscrowID: escrowID,
		Action:   action,
		ActorID:  actorID,
		Amount:   amount,
		Metadata: raw,
	}, nil
}
