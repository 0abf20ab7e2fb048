// Package artifact tracks artifact handles produced for each job.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"TopicPulse/internal/domain"
)

// ErrNotFound is returned for an unknown job or artifact id.
var ErrNotFound = errors.New("artifact not found")

// Publisher receives an artifact envelope for every registration and update.
type Publisher interface {
	Publish(jobID string, env domain.Envelope) domain.Envelope
}

// Registry keeps an ordered list of handles per job. Multiple handles per job
// coexist; consumers choose which one to show.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string][]domain.ArtifactHandle
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry builds an empty registry; publisher may be nil.
func NewRegistry(publisher Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:      map[string][]domain.ArtifactHandle{},
		publisher: publisher,
		logger:    logger.With("component", "artifacts"),
		now:       time.Now,
	}
}

// Register records a freshly produced handle, which must be GENERATING.
func (r *Registry) Register(h domain.ArtifactHandle) (domain.ArtifactHandle, error) {
	if h.ID == "" || h.JobID == "" {
		return domain.ArtifactHandle{}, &domain.ValidationError{Field: "artifact", Reason: "id and job id are required"}
	}
	if !domain.ValidArtifactKind(h.Kind) {
		return domain.ArtifactHandle{}, &domain.ValidationError{Field: "artifact", Reason: fmt.Sprintf("unknown kind %q", h.Kind)}
	}
	if h.Status == "" {
		h.Status = domain.ArtifactGenerating
	}
	if h.Status != domain.ArtifactGenerating {
		return domain.ArtifactHandle{}, &domain.ValidationError{Field: "artifact", Reason: "new handles start as GENERATING"}
	}

	r.mu.Lock()
	for _, existing := range r.jobs[h.JobID] {
		if existing.ID == h.ID {
			r.mu.Unlock()
			return domain.ArtifactHandle{}, &domain.ValidationError{Field: "artifact", Reason: "duplicate id " + h.ID}
		}
	}
	h.UpdatedAt = r.now().UTC()
	r.jobs[h.JobID] = append(r.jobs[h.JobID], h)
	r.mu.Unlock()

	r.publish(h)
	return h, nil
}

// Update moves a GENERATING handle to READY (with locator) or FAILED.
func (r *Registry) Update(jobID, artifactID string, status domain.ArtifactStatus, locator string) (domain.ArtifactHandle, error) {
	locator = strings.TrimSpace(locator)
	switch status {
	case domain.ArtifactReady:
		if locator == "" {
			return domain.ArtifactHandle{}, &domain.ValidationError{Field: "locator", Reason: "required when READY"}
		}
	case domain.ArtifactFailed:
	default:
		return domain.ArtifactHandle{}, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unsupported status %q", status)}
	}

	r.mu.Lock()
	handles := r.jobs[jobID]
	i := slices.IndexFunc(handles, func(h domain.ArtifactHandle) bool { return h.ID == artifactID })
	if i < 0 {
		r.mu.Unlock()
		return domain.ArtifactHandle{}, fmt.Errorf("job %s artifact %s: %w", jobID, artifactID, ErrNotFound)
	}
	h := handles[i]
	if h.Status != domain.ArtifactGenerating {
		r.mu.Unlock()
		return domain.ArtifactHandle{}, fmt.Errorf("artifact %s is %s: %w", artifactID, h.Status, domain.ErrInvalidTransition)
	}
	h.Status = status
	h.Locator = locator
	h.UpdatedAt = r.now().UTC()
	handles[i] = h
	r.mu.Unlock()

	r.logger.Info("artifact updated", "job_id", jobID, "artifact_id", artifactID, "status", status)
	r.publish(h)
	return h, nil
}

// List returns a copy of the job's handles in registration order.
func (r *Registry) List(jobID string) []domain.ArtifactHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ArtifactHandle{}, r.jobs[jobID]...)
}

// Drop forgets every handle of jobID.
func (r *Registry) Drop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

func (r *Registry) publish(h domain.ArtifactHandle) {
	if r.publisher == nil {
		return
	}
	env, err := domain.NewEnvelope(domain.EnvelopeArtifact, h.JobID, h)
	if err != nil {
		r.logger.Error("encode artifact envelope", "job_id", h.JobID, "error", err)
		return
	}
	r.publisher.Publish(h.JobID, env)
}
