package deadline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentmarket/engine/internal/models"
)

type fakeJobStore struct {
	statuses map[string]models.JobStatus
	failed   map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{statuses: map[string]models.JobStatus{}, failed: map[string]string{}}
}

func (f *fakeJobStore) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	return f.statuses[jobID], nil
}

func (f *fakeJobStore) FailJobAndRefund(ctx context.Context, jobID, reason string) error {
	f.failed[jobID] = reason
	f.statuses[jobID] = models.JobStatusFailed
	return nil
}

func (f *fakeJobStore) ActiveJobsWithDeadlines(ctx context.Context) (map[string]time.Time, error) {
	return nil, nil
}

func newTestQueue(t *testing.T, jobs JobStore) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueue(client, jobs, zap.NewNop())
}

func TestEnqueueIsIdempotent(t *testing.T) {
	jobs := newFakeJobStore()
	q := newTestQueue(t, jobs)
	ctx := context.Background()
	deadline := time.Now().Add(time.Hour)

	if err := q.Enqueue(ctx, "job-1", deadline); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-1", deadline); err != nil {
		t.Fatalf("Enqueue (repeat): %v", err)
	}

	count, err := q.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry after repeated enqueue, got %d", count)
	}
}

func TestRunFailsExpiredJob(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.statuses["job-expired"] = models.JobStatusInProgress

	q := newTestQueue(t, jobs)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.Enqueue(ctx, "job-expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the consumer to fail the expired job")
		default:
		}
		if _, ok := jobs.failed["job-expired"]; ok {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	jobs := newFakeJobStore()
	q := newTestQueue(t, jobs)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Remove(ctx, "job-2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	count, err := q.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected entry to be removed, got count %d", count)
	}
}
