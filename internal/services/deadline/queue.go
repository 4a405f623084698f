// Package deadline implements the delivery-deadline consumer (C8): a Redis
// sorted set of (job_id -> deadline_unix_seconds) and a single cooperative
// consumer loop that fails and refunds jobs whose deadline has passed.
package deadline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentmarket/engine/internal/models"
)

const redisKey = "deadlines"

// JobStore is the subset of job/ledger access the consumer needs: loading a
// job's current status and failing it with an escrow refund.
type JobStore interface {
	GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error)
	FailJobAndRefund(ctx context.Context, jobID, reason string) error
	ActiveJobsWithDeadlines(ctx context.Context) (map[string]time.Time, error)
}

// Queue is the Redis-backed sorted set of pending deadlines.
type Queue struct {
	client *redis.Client
	jobs   JobStore
	log    *zap.Logger
}

func NewQueue(client *redis.Client, jobs JobStore, log *zap.Logger) *Queue {
	return &Queue{client: client, jobs: jobs, log: log}
}

// Enqueue records a job's deadline. Idempotent: re-adding the same
// (job, score) is a no-op via ZADD's natural semantics.
func (q *Queue) Enqueue(ctx context.Context, jobID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: jobID,
	}).Err()
}

// Remove drops a job's entry, called when a job completes before its
// deadline. A missed removal is safe: the consumer's status check at step 4
// is the backstop.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, redisKey, jobID).Err()
}

// RecoverOnStartup re-enqueues every active job with a deadline so a
// restart never loses one. Safe to call repeatedly: ZADD is idempotent.
func (q *Queue) RecoverOnStartup(ctx context.Context) error {
	active, err := q.jobs.ActiveJobsWithDeadlines(ctx)
	if err != nil {
		return err
	}
	for jobID, deadline := range active {
		if err := q.Enqueue(ctx, jobID, deadline); err != nil {
			return err
		}
	}
	q.log.Info("deadline queue recovered active jobs", zap.Int("count", len(active)))
	return nil
}

const (
	emptyQueuePoll = 10 * time.Second
	maxFutureSleep = 60 * time.Second
)

// Run executes the cooperative consumer loop indefinitely until ctx is
// cancelled: peek the lowest-scored element, sleep past it if it's in the
// future (capped so newly-inserted earlier deadlines are never missed),
// otherwise pop it atomically and fail+refund the job if it's still active.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.log.Info("deadline consumer stopping on context cancellation")
			return
		default:
		}

		lowest, err := q.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			q.log.Warn("deadline queue peek failed", zap.Error(err))
			if !sleepOrDone(ctx, emptyQueuePoll) {
				return
			}
			continue
		}
		if len(lowest) == 0 {
			if !sleepOrDone(ctx, emptyQueuePoll) {
				return
			}
			continue
		}

		jobID := lowest[0].Member.(string)
		deadlineUnix := int64(lowest[0].Score)
		now := time.Now().Unix()

		if deadlineUnix > now {
			wait := time.Duration(deadlineUnix-now) * time.Second
			if wait > maxFutureSleep {
				wait = maxFutureSleep
			}
			if !sleepOrDone(ctx, wait) {
				return
			}
			continue
		}

		removed, err := q.client.ZRem(ctx, redisKey, jobID).Result()
		if err != nil {
			q.log.Warn("deadline queue remove failed", zap.Error(err), zap.String("jobId", jobID))
			continue
		}
		if removed == 0 {
			// Another consumer won the race to remove this element.
			continue
		}

		status, err := q.jobs.GetJobStatus(ctx, jobID)
		if err != nil {
			q.log.Warn("deadline consumer failed to load job", zap.Error(err), zap.String("jobId", jobID))
			continue
		}
		switch status {
		case models.JobStatusFunded, models.JobStatusInProgress, models.JobStatusDelivered:
			if err := q.jobs.FailJobAndRefund(ctx, jobID, "delivery deadline exceeded"); err != nil {
				q.log.Warn("deadline consumer failed to fail+refund job", zap.Error(err), zap.String("jobId", jobID))
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
