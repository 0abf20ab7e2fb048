package ports

import (
	"context"
	"time"

	"TopicPulse/internal/domain"
)

// SearchQuery carries everything a search collaborator needs for one entity.
type SearchQuery struct {
	Topic      string
	Entity     string
	Window     domain.Window
	MaxResults int
}

// Searcher returns source items for one entity.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]domain.SourceItem, error)
}

// Scorer rates a single item against the topic.
type Scorer interface {
	Score(ctx context.Context, item domain.SourceItem, topic string) (domain.Score, error)
}

// BatchScorer is implemented by scorers that accept several items per call.
// The returned slice must align with items.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, items []domain.SourceItem, topic string) ([]domain.Score, error)
}

// Extractor turns free text into the raw JSON extraction document consumed by the decomposer.
type Extractor interface {
	Extract(ctx context.Context, text string, session domain.SessionContext) ([]byte, error)
}

// Summarizer writes the human-readable summary of a finished job.
type Summarizer interface {
	Summarize(ctx context.Context, req domain.AnalysisRequest, result domain.JobResult) (string, error)
}

// JobStore persists job snapshots with last-write-wins semantics.
type JobStore interface {
	Put(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
}

// ArtifactProducer starts rendering an artifact; the returned handle is GENERATING.
type ArtifactProducer interface {
	Produce(ctx context.Context, jobID string, kind domain.ArtifactKind, result domain.JobResult) (domain.ArtifactHandle, error)
}

// Notifier pushes finished-job digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// EnvelopeMirror receives a copy of every sequenced job envelope.
type EnvelopeMirror interface {
	Mirror(env domain.Envelope) error
}

// Scheduler controls when recurring maintenance executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
