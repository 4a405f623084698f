package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus is a job's position in the state machine.
type JobStatus string

const (
	JobStatusProposed    JobStatus = "proposed"
	JobStatusNegotiating JobStatus = "negotiating"
	JobStatusAgreed      JobStatus = "agreed"
	JobStatusFunded      JobStatus = "funded"
	JobStatusInProgress  JobStatus = "in_progress"
	JobStatusDelivered   JobStatus = "delivered"
	JobStatusVerifying   JobStatus = "verifying"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusDisputed    JobStatus = "disputed"
	JobStatusResolved    JobStatus = "resolved"
	JobStatusCancelled   JobStatus = "cancelled"
)

// jobTransitions enumerates every allowed source -> sink edge. Any request
// that does not traverse one of these edges fails with a 409 conflict.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusProposed:    {JobStatusNegotiating: true, JobStatusAgreed: true, JobStatusCancelled: true},
	JobStatusNegotiating: {JobStatusAgreed: true, JobStatusCancelled: true},
	JobStatusAgreed:      {JobStatusFunded: true, JobStatusCancelled: true},
	JobStatusFunded:      {JobStatusInProgress: true},
	JobStatusInProgress:  {JobStatusDelivered: true, JobStatusFailed: true},
	JobStatusDelivered:   {JobStatusVerifying: true, JobStatusFailed: true, JobStatusCompleted: true},
	JobStatusVerifying:   {JobStatusCompleted: true, JobStatusFailed: true},
	JobStatusFailed:      {JobStatusDisputed: true},
	JobStatusDisputed:    {JobStatusResolved: true},
	// completed, resolved, cancelled are terminal: no outgoing edges.
}

// CanTransition reports whether moving from the job's current status to
// `to` traverses an allowed edge of the state machine.
func (s JobStatus) CanTransition(to JobStatus) bool {
	edges, ok := jobTransitions[s]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	_, ok := jobTransitions[s]
	return !ok
}

const (
	DefaultMaxRounds = 5
	MinMaxRounds     = 1
	MaxMaxRounds     = 20
)

// NegotiationEntry is one append-only entry in a job's negotiation log.
type NegotiationEntry struct {
	Round        int       `json:"round"`
	ProposerID   string    `json:"proposerId"`
	Price        Credits   `json:"price"`
	Requirements string    `json:"requirements,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Job is the marketplace's central state entity: a negotiated, escrowed,
// verified unit of work between a client and a seller.
type Job struct {
	ID                     string             `json:"id"`
	ClientID               string             `json:"clientId"`
	SellerID               string             `json:"sellerId"`
	ListingID              string             `json:"listingId,omitempty"`
	Status                 JobStatus          `json:"status"`
	AcceptanceCriteria     json.RawMessage    `json:"acceptanceCriteria,omitempty"`
	AcceptanceCriteriaHash string             `json:"acceptanceCriteriaHash,omitempty"`
	Requirements           string             `json:"requirements,omitempty"`
	AgreedPrice            Credits            `json:"agreedPrice"`
	DeliveryDeadline       *time.Time         `json:"deliveryDeadline,omitempty"`
	NegotiationLog         []NegotiationEntry `json:"negotiationLog"`
	MaxRounds              int                `json:"maxRounds"`
	CurrentRound           int                `json:"currentRound"`
	DeliverableResult      json.RawMessage    `json:"-"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// HashAcceptanceCriteria returns the lowercase hex SHA-256 of the canonical
// (compact, key-sorted) JSON serialization of the given criteria.
func HashAcceptanceCriteria(criteria json.RawMessage) (string, error) {
	canonical, err := canonicalizeJSON(criteria)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalizeJSON re-marshals arbitrary JSON with map keys sorted, which
// encoding/json already guarantees for map[string]interface{} values.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// VerifyAcceptanceCriteriaHash reports whether candidateHash matches the
// job's stored criteria hash.
func (j *Job) VerifyAcceptanceCriteriaHash(candidateHash string) bool {
	return j.AcceptanceCriteriaHash != "" && j.AcceptanceCriteriaHash == candidateHash
}

// Result returns the deliverable only when the job has reached its terminal
// success state; callers must never surface DeliverableResult directly.
func (j *Job) Result() json.RawMessage {
	if j.Status != JobStatusCompleted {
		return nil
	}
	return j.DeliverableResult
}

// MarshalJSON applies result redaction at the serialization boundary so no
// handler can accidentally leak the deliverable outside status=completed.
func (j Job) MarshalJSON() ([]byte, error) {
	type alias Job
	return json.Marshal(struct {
		alias
		Result json.RawMessage `json:"result,omitempty"`
	}{
		alias:  alias(j),
		Result: j.Result(),
	})
}

func ValidateMaxRounds(n int) error {
	if n < MinMaxRounds || n > MaxMaxRounds {
		return errors.New("maxRounds must be between 1 and 20")
	}
	return nil
}
