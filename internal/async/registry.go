package async

import (
	"sort"
	"sync"
	"time"
)

// JobKind distinguishes what a Job Record is tracking.
type JobKind string

const (
	JobKindIndexing JobKind = "indexing"
	JobKindSearch   JobKind = "search"
)

// JobStatus is a Job Record's place in its (terminal) state machine:
// running -> {completed | failed}.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// maxRetainedJobs bounds how many completed/failed records Cleanup keeps.
const maxRetainedJobs = 10

// Job is a snapshot of one tracked operation's progress and outcome.
type Job struct {
	ID        string
	Kind      JobKind
	Status    JobStatus
	Phase     string
	Current   int
	Total     int
	StartedAt time.Time
	EndedAt   *time.Time
	Result    interface{}
	Error     string
}

// Registry is the in-process map id -> Job Record. At most one indexing
// job is "current" at a time: the most recently started one, cleared
// when it completes or fails.
type Registry struct {
	mu                 sync.RWMutex
	jobs               map[string]*Job
	currentIndexingJob string
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// StartJob registers a new running job under id, replacing any existing
// record for the same id. If kind is JobKindIndexing, it becomes the
// current indexing job.
func (r *Registry) StartJob(id string, kind JobKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[id] = &Job{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusRunning,
		StartedAt: time.Now(),
	}
	if kind == JobKindIndexing {
		r.currentIndexingJob = id
	}
}

// UpdateProgress records a job's current phase and progress counters.
// No-op if the job doesn't exist or has already reached a terminal state.
func (r *Registry) UpdateProgress(id, phase string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != JobStatusRunning {
		return
	}
	job.Phase = phase
	job.Current = current
	job.Total = total
}

// CompleteJob transitions a job to completed with the given result.
func (r *Registry) CompleteJob(id string, result interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finish(id, JobStatusCompleted, result, "")
}

// FailJob transitions a job to failed with the given error message.
func (r *Registry) FailJob(id string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finish(id, JobStatusFailed, nil, errMsg)
}

func (r *Registry) finish(id string, status JobStatus, result interface{}, errMsg string) {
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = status
	job.EndedAt = &now
	job.Result = result
	job.Error = errMsg

	if r.currentIndexingJob == id {
		r.currentIndexingJob = ""
	}
}

// GetJob returns a copy of the job record for id, or nil if unknown.
func (r *Registry) GetJob(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// GetCurrentIndexingJob returns the running indexing job, or nil if none
// is currently in flight.
func (r *Registry) GetCurrentIndexingJob() *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.currentIndexingJob == "" {
		return nil
	}
	job, ok := r.jobs[r.currentIndexingJob]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// Cleanup retains only the maxRetainedJobs most recently ended
// completed/failed records; running jobs are never evicted.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var finished []*Job
	for _, job := range r.jobs {
		if job.Status != JobStatusRunning {
			finished = append(finished, job)
		}
	}
	if len(finished) <= maxRetainedJobs {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].EndedAt.After(*finished[j].EndedAt)
	})
	for _, stale := range finished[maxRetainedJobs:] {
		delete(r.jobs, stale.ID)
	}
}
