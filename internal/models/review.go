package models

import (
	"errors"
	"time"
)

// ReviewRole is which side of the job the reviewer occupied.
type ReviewRole string

const (
	ReviewRoleClientReviewingSeller ReviewRole = "client_reviewing_seller"
	ReviewRoleSellerReviewingClient ReviewRole = "seller_reviewing_client"
)

// reviewableJobStatuses is the set of job statuses a review may be left on.
var reviewableJobStatuses = map[JobStatus]bool{
	JobStatusCompleted: true,
	JobStatusFailed:    true,
	JobStatusResolved:  true,
}

// JobIsReviewable reports whether reviews may be left on a job in this status.
func JobIsReviewable(status JobStatus) bool {
	return reviewableJobStatuses[status]
}

// Review is one reviewer's rating of the counterparty on a completed job.
// At most one review exists per (job, reviewer).
type Review struct {
	ID         string     `json:"id"`
	JobID      string     `json:"jobId"`
	ReviewerID string     `json:"reviewerId"`
	Rating     int        `json:"rating"`
	Role       ReviewRole `json:"role"`
	Tags       []string   `json:"tags,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return errors.New("rating must be between 1 and 5")
	}
	return nil
}

func ValidateReviewRole(role ReviewRole) error {
	switch role {
	case ReviewRoleClientReviewingSeller, ReviewRoleSellerReviewingClient:
		return nil
	default:
		return errors.New("invalid review role")
	}
}
