package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidevro/bugatube/constant"
	"github.com/aidevro/bugatube/dto"
)

// Job is one tracked ingest task, from acceptance to terminal state.
// Values are copied in and out of the registry; callers never share
// pointers with it.
type Job struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Source    constant.SourceKind
	URL       string
	Title     string
	Status    constant.JobStatus
	Stage     string
	Progress  float64
	CreatedAt time.Time
}

// Item shapes the job for the status query and queueUpdate pushes.
func (j Job) Item() dto.QueueItem {
	return dto.QueueItem{
		VideoID:  j.ID,
		URL:      j.URL,
		Title:    j.Title,
		Status:   j.Status,
		Progress: j.Progress,
		UserID:   j.OwnerID,
		Stage:    j.Stage,
	}
}

// Update is a partial job state; nil fields are left untouched.
type Update struct {
	Status   *constant.JobStatus
	Stage    *string
	Progress *float64
}

// Registry is the in-memory source of truth for in-flight and terminal
// jobs. Contents are process-lifetime only.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]Job)}
}

func (r *Registry) Create(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = constant.JobStatusPending
	}
	r.jobs[job.ID] = job
}

func (r *Registry) Get(id uuid.UUID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Apply merges a partial update into the job. Progress is clamped to
// [0,100] and never decreases while the job is pending; the only
// exception is the reset to 0 that accompanies a transition to failed.
// A terminal job is never moved back to pending.
func (r *Registry) Apply(id uuid.UUID, upd Update) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}

	failing := upd.Status != nil && *upd.Status == constant.JobStatusFailed

	if upd.Status != nil {
		if !job.Status.Terminal() || (*upd.Status).Terminal() {
			job.Status = *upd.Status
		}
	}
	if upd.Stage != nil {
		job.Stage = *upd.Stage
	}
	if upd.Progress != nil {
		p := *upd.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if failing || p > job.Progress {
			job.Progress = p
		}
	}

	r.jobs[id] = job
	return job, true
}

// Progress records a new progress sample and stage label.
func (r *Registry) Progress(id uuid.UUID, stage string, progress float64) (Job, bool) {
	return r.Apply(id, Update{Stage: &stage, Progress: &progress})
}

// Complete marks the job completed at 100%.
func (r *Registry) Complete(id uuid.UUID) (Job, bool) {
	status := constant.JobStatusCompleted
	stage := constant.StageCompleted
	progress := 100.0
	return r.Apply(id, Update{Status: &status, Stage: &stage, Progress: &progress})
}

// Fail marks the job failed and resets its progress.
func (r *Registry) Fail(id uuid.UUID) (Job, bool) {
	status := constant.JobStatusFailed
	stage := constant.StageFailed
	progress := 0.0
	return r.Apply(id, Update{Status: &status, Stage: &stage, Progress: &progress})
}

// ListByOwner returns the owner's jobs ordered by creation time.
func (r *Registry) ListByOwner(owner uuid.UUID) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []Job
	for _, job := range r.jobs {
		if job.OwnerID == owner {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// ItemsByOwner is ListByOwner shaped for the wire.
func (r *Registry) ItemsByOwner(owner uuid.UUID) []dto.QueueItem {
	jobs := r.ListByOwner(owner)
	items := make([]dto.QueueItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, job.Item())
	}
	return items
}

func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// ClearFailed removes the owner's failed jobs and reports how many
// were dropped. Pending and completed jobs, and other owners' jobs,
// are untouched.
func (r *Registry) ClearFailed(owner uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.OwnerID == owner && job.Status == constant.JobStatusFailed {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
