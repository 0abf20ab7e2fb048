package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

type recordingPublisher struct {
	mu      sync.Mutex
	heads   map[string]int64
	envs    map[string][]domain.Envelope
	dropped []string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{heads: map[string]int64{}, envs: map[string][]domain.Envelope{}}
}

func (p *recordingPublisher) Publish(jobID string, env domain.Envelope) domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heads[jobID]++
	env.Sequence = p.heads[jobID]
	env.JobID = jobID
	p.envs[jobID] = append(p.envs[jobID], env)
	return env
}

func (p *recordingPublisher) DropJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, jobID)
}

func (p *recordingPublisher) droppedJobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dropped...)
}

func (p *recordingPublisher) envelopes(jobID string) []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Envelope(nil), p.envs[jobID]...)
}

func (p *recordingPublisher) last(jobID string) domain.Envelope {
	envs := p.envelopes(jobID)
	if len(envs) == 0 {
		return domain.Envelope{}
	}
	return envs[len(envs)-1]
}

func (p *recordingPublisher) count(jobID string, t domain.EnvelopeType) int {
	n := 0
	for _, env := range p.envelopes(jobID) {
		if env.Type == t {
			n++
		}
	}
	return n
}

// statuses returns the lifecycle states announced by status envelopes, in order.
func (p *recordingPublisher) statuses(jobID string) []domain.Status {
	var out []domain.Status
	for _, env := range p.envelopes(jobID) {
		if env.Type != domain.EnvelopeStatus {
			continue
		}
		var payload domain.StatusPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			out = append(out, payload.Status)
		}
	}
	return out
}

func (p *recordingPublisher) summaryText(jobID string) string {
	var text string
	for _, env := range p.envelopes(jobID) {
		if env.Type != domain.EnvelopePartialToken {
			continue
		}
		var payload domain.TokenPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			text += payload.Text
		}
	}
	return text
}

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	puts atomic.Int64
	fail error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]domain.Job{}}
}

func (s *memoryStore) Put(_ context.Context, job domain.Job) error {
	s.puts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job.Clone(), ok, nil
}

type fakeSearcher struct {
	fn    func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error)
	calls atomic.Int64
}

func (f *fakeSearcher) Search(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
	f.calls.Add(1)
	return f.fn(ctx, q)
}

type fakeScorer struct {
	values map[string]float64
}

func (f *fakeScorer) Score(_ context.Context, item domain.SourceItem, _ string) (domain.Score, error) {
	return domain.Score{Value: f.values[item.URL], Confidence: 0.9}, nil
}

type fakeProducer struct {
	mu    sync.Mutex
	calls []domain.ArtifactKind
	fail  map[domain.ArtifactKind]bool
}

func (f *fakeProducer) Produce(_ context.Context, jobID string, kind domain.ArtifactKind, _ domain.JobResult) (domain.ArtifactHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	if f.fail[kind] {
		return domain.ArtifactHandle{}, domain.TransientError("renderer", errors.New("busy"))
	}
	return domain.ArtifactHandle{ID: fmt.Sprintf("%s-%s", jobID, kind), JobID: jobID, Kind: kind}, nil
}

type fakeSummarizer struct {
	text string
	err  error
}

func (f fakeSummarizer) Summarize(context.Context, domain.AnalysisRequest, domain.JobResult) (string, error) {
	return f.text, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (f *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digests = append(f.digests, digest)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.digests...)
}

// manualScheduler runs the registered job only when fire is called.
type manualScheduler struct {
	mu      sync.Mutex
	job     func(time.Time)
	stopped bool
}

func (m *manualScheduler) Start(_ context.Context, job func(time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = job
	return nil
}

func (m *manualScheduler) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *manualScheduler) fire(at time.Time) {
	m.mu.Lock()
	job := m.job
	m.mu.Unlock()
	if job != nil {
		job(at)
	}
}

func itemsFor(entity string, n int) []domain.SourceItem {
	items := make([]domain.SourceItem, n)
	for i := range items {
		items[i] = domain.SourceItem{
			URL:   fmt.Sprintf("https://news%d.example/%s", i, entity),
			Title: fmt.Sprintf("%s story %d", entity, i),
		}
	}
	return items
}

var (
	_ ports.JobStore         = (*memoryStore)(nil)
	_ ports.ArtifactProducer = (*fakeProducer)(nil)
	_ ports.Summarizer       = fakeSummarizer{}
	_ ports.Notifier         = (*fakeNotifier)(nil)
	_ ports.Scheduler        = (*manualScheduler)(nil)
)
