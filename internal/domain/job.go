package domain

import "time"

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusQueued              Status = "QUEUED"
	StatusProcessing          Status = "PROCESSING"
	StatusCompleted           Status = "COMPLETED"
	StatusFailed              Status = "FAILED"
	StatusCancelled           Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusQueued, StatusCancelled},
	StatusQueued:              {StatusProcessing, StatusCancelled},
	StatusProcessing:          {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from → to is one of the lifecycle edges.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Progress tracks entity completion while a job runs.
type Progress struct {
	CompletedEntities []string `json:"completed_entities"`
	TotalEntities     int      `json:"total_entities"`
	CurrentStep       string   `json:"current_step"`
}

// Job is one analysis run. Snapshots handed out by the controller are deep copies.
type Job struct {
	ID          string          `json:"id"`
	Request     AnalysisRequest `json:"request"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Progress    Progress        `json:"progress"`
	Result      *JobResult      `json:"result,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
}

// Transition moves the job along a lifecycle edge, stamping timestamps.
// Result and error are only accepted on the matching terminal edge.
func (j *Job) Transition(to Status, at time.Time, result *JobResult, info *ErrorInfo) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{JobID: j.ID, From: j.Status, To: to}
	}
	switch to {
	case StatusProcessing:
		t := at
		j.StartedAt = &t
	case StatusCompleted:
		j.Result = result
	case StatusFailed:
		j.Error = info
	}
	if to.Terminal() {
		t := at
		j.CompletedAt = &t
	}
	j.Status = to
	return nil
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (j Job) Clone() Job {
	j.Request = j.Request.Clone()
	j.Progress.CompletedEntities = append([]string(nil), j.Progress.CompletedEntities...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	if j.Result != nil {
		r := j.Result.Clone()
		j.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		if e.Entities != nil {
			m := make(map[string]string, len(e.Entities))
			for k, v := range e.Entities {
				m[k] = v
			}
			e.Entities = m
		}
		j.Error = &e
	}
	return j
}
