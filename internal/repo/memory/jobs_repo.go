package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aivent/aivent/internal/domain/job"
)

// JobsRepo keeps the queue in a map, honoring the same state machine as the
// postgres repo. Used by worker tests and local experiments.
type JobsRepo struct {
	mu    sync.Mutex
	items map[string]job.Job
	now   func() time.Time
}

func NewJobsRepo() *JobsRepo {
	return &JobsRepo{
		items: make(map[string]job.Job),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides time for tests.
func (r *JobsRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *JobsRepo) Create(_ context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)

	r.mu.Lock()
	defer r.mu.Unlock()

	if j.IdempotencyKey != nil {
		for _, existing := range r.items {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *j.IdempotencyKey {
				return job.Job{}, errors.New("duplicate idempotency key")
			}
		}
	}

	r.items[j.ID] = j
	return j, nil
}

func (r *JobsRepo) ClaimNext(_ context.Context, workerID string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	runnable := make([]job.Job, 0)

	for _, j := range r.items {
		if j.Status == job.StatusPending && !j.RunAt.After(now) && j.Attempts < j.MaxAttempts {
			runnable = append(runnable, j)
		}
	}

	if len(runnable) == 0 {
		return job.Job{}, job.ErrJobNotFound
	}

	sort.Slice(runnable, func(i, k int) bool {
		if !runnable[i].RunAt.Equal(runnable[k].RunAt) {
			return runnable[i].RunAt.Before(runnable[k].RunAt)
		}
		return runnable[i].CreatedAt.Before(runnable[k].CreatedAt)
	})

	j := runnable[0]
	j.Status = job.StatusProcessing
	j.LockedAt = &now
	j.LockedBy = &workerID
	j.UpdatedAt = now
	r.items[j.ID] = j

	return j, nil
}

func (r *JobsRepo) MarkDone(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}

	j.Status = job.StatusDone
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = nil
	j.UpdatedAt = r.now()
	r.items[id] = j
	return nil
}

func (r *JobsRepo) MarkFailed(_ context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}

	j.Status = job.StatusFailed
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = &errMsg
	j.UpdatedAt = r.now()
	r.items[id] = j
	return nil
}

func (r *JobsRepo) Reschedule(_ context.Context, id string, runAt time.Time, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}

	j.Status = job.StatusPending
	j.Attempts++
	j.RunAt = runAt
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = &errMsg
	j.UpdatedAt = r.now()
	r.items[id] = j
	return nil
}

func (r *JobsRepo) RequeueStaleProcessing(_ context.Context, lockTTL time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64

	for id, j := range r.items {
		if j.Status != job.StatusProcessing || j.LockedAt == nil {
			continue
		}
		if now.Sub(*j.LockedAt) < lockTTL {
			continue
		}

		j.Status = job.StatusPending
		j.LockedAt = nil
		j.LockedBy = nil
		j.UpdatedAt = now
		r.items[id] = j
		n++
	}

	return n, nil
}

func (r *JobsRepo) GetByID(_ context.Context, id string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

// Put seeds a job in an arbitrary state.
func (r *JobsRepo) Put(j job.Job) {
	r.mu.Lock()
	r.items[j.ID] = j
	r.mu.Unlock()
}

// All returns a snapshot of every job.
func (r *JobsRepo) All() []job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]job.Job, 0, len(r.items))
	for _, j := range r.items {
		out = append(out, j)
	}
	return out
}
