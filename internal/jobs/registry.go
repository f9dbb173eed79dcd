// Package jobs tracks submitted transcription jobs so the HTTP surface can
// serve asynchronous status lookups and live progress streams. The registry
// is in-process state: jobs are ephemeral and vanish on restart.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Phase is the coarse lifecycle position of a job.
type Phase string

const (
	PhaseUploading Phase = "uploading"
	PhaseSubmitted Phase = "submitted"
	PhasePolling   Phase = "polling"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// PhaseForNote maps the orchestrator's milestone notes onto phases.
func PhaseForNote(note string) (Phase, bool) {
	switch note {
	case "uploading":
		return PhaseUploading, true
	case "starting transcription":
		return PhaseSubmitted, true
	case "transcribing", "formatting results":
		return PhasePolling, true
	case "done":
		return PhaseCompleted, true
	default:
		return "", false
	}
}

// Job is a snapshot of one tracked job.
type Job struct {
	ID        string               `json:"id"`
	OwnerID   int64                `json:"owner_id"`
	Phase     Phase                `json:"phase"`
	Progress  float64              `json:"progress"`
	Note      string               `json:"note,omitempty"`
	Segments  []transcribe.Segment `json:"segments,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorKind string               `json:"error_kind,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Terminal reports whether the job reached a final phase.
func (j Job) Terminal() bool {
	return j.Phase == PhaseCompleted || j.Phase == PhaseFailed
}

// Update is one progress observation delivered to subscribers.
type Update struct {
	Progress float64 `json:"progress"`
	Phase    Phase   `json:"phase"`
	Note     string  `json:"note,omitempty"`
	Error    string  `json:"error,omitempty"`
	Done     bool    `json:"done"`
}

// subscriberBuffer bounds each subscriber channel. Slow consumers lose
// intermediate updates; termination is always observable because the
// channel is closed after the terminal update.
const subscriberBuffer = 16

// Registry holds all live jobs.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	subs map[string]map[int]chan Update
	next int

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		subs: make(map[string]map[int]chan Update),
		now:  time.Now,
	}
}

// Create registers a new job in the uploading phase and returns its ID.
func (r *Registry) Create(ownerID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	now := r.now()
	r.jobs[id] = &Job{
		ID:        id,
		OwnerID:   ownerID,
		Phase:     PhaseUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// Progress records a progress observation and fans it out to subscribers.
func (r *Registry) Progress(id string, value float64, note string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	job.Progress = value
	job.Note = note
	job.UpdatedAt = r.now()
	if phase, ok := PhaseForNote(note); ok && !job.Terminal() {
		job.Phase = phase
	}
	update := Update{Progress: job.Progress, Phase: job.Phase, Note: note}
	r.mu.Unlock()

	r.publish(id, update)
}

// Complete marks the job done with its result.
func (r *Registry) Complete(id string, segments []transcribe.Segment) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	job.Phase = PhaseCompleted
	job.Progress = 1.0
	job.Segments = segments
	job.UpdatedAt = r.now()
	r.mu.Unlock()

	r.publish(id, Update{Progress: 1.0, Phase: PhaseCompleted, Done: true})
}

// Fail marks the job failed. kind is the machine-readable failure category
// callers use to pick a user-facing message.
func (r *Registry) Fail(id, kind string, err error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	job.Phase = PhaseFailed
	job.Error = err.Error()
	job.ErrorKind = kind
	job.UpdatedAt = r.now()
	update := Update{Progress: job.Progress, Phase: PhaseFailed, Error: job.Error, Done: true}
	r.mu.Unlock()

	r.publish(id, update)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Subscribe returns a channel of updates for the job and a cancel function.
// The channel is closed after a terminal update or on cancel.
func (r *Registry) Subscribe(id string) (<-chan Update, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if _, ok := r.subs[id]; !ok {
		r.subs[id] = make(map[int]chan Update)
	}
	token := r.next
	r.next++
	r.subs[id][token] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.subs[id]; ok {
			if c, ok := set[token]; ok {
				delete(set, token)
				close(c)
			}
		}
	}
	return ch, cancel
}

// publish delivers an update to all subscribers of a job, dropping
// intermediate updates for slow consumers. Terminal updates close the
// subscription.
func (r *Registry) publish(id string, update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, ch := range r.subs[id] {
		select {
		case ch <- update:
		default:
			// Slow consumer; progress updates are safe to drop.
		}
		if update.Done {
			delete(r.subs[id], token)
			close(ch)
		}
	}
}

// Sweep removes terminal jobs older than maxAge. Main runs this on a ticker
// so the registry does not grow without bound.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cutoff := r.now().Add(-maxAge)
	for id, job := range r.jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(maxAge)
			}
		}
	}()
}
