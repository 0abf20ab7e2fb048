package domain

import "time"

// ArtifactKind enumerates renderable outputs derived from a JobResult.
type ArtifactKind string

const (
	ArtifactChart  ArtifactKind = "chart"
	ArtifactReport ArtifactKind = "report"
)

// ArtifactStatus tracks the renderer's progress on a handle.
type ArtifactStatus string

const (
	ArtifactGenerating ArtifactStatus = "GENERATING"
	ArtifactReady      ArtifactStatus = "READY"
	ArtifactFailed     ArtifactStatus = "FAILED"
)

// ArtifactHandle references an artifact produced out of band.
type ArtifactHandle struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Kind      ArtifactKind   `json:"kind"`
	Status    ArtifactStatus `json:"status"`
	Locator   string         `json:"locator,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ValidArtifactKind reports whether k is a known kind.
func ValidArtifactKind(k ArtifactKind) bool {
	return k == ArtifactChart || k == ArtifactReport
}
