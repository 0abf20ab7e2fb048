package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"TopicPulse/internal/aggregate"
	"TopicPulse/internal/artifact"
	"TopicPulse/internal/decomposer"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/metrics"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/worker"
)

// Publisher sequences and delivers job envelopes.
type Publisher interface {
	Publish(jobID string, env domain.Envelope) domain.Envelope
	DropJob(jobID string)
}

// ControllerDeps wires all driven adapters into the job controller.
type ControllerDeps struct {
	Decomposer        *decomposer.Decomposer
	Pool              *worker.Pool
	Aggregator        *aggregate.Aggregator
	Publisher         Publisher
	Artifacts         *artifact.Registry
	Producer          ports.ArtifactProducer
	ArtifactKinds     []domain.ArtifactKind
	MinScoredEntities int
	Store             ports.JobStore
	Summarizer        ports.Summarizer
	Notifier          ports.Notifier
	Metrics           *metrics.Collector
	Logger            *slog.Logger
	CancelGrace       time.Duration
	CallTimeout       time.Duration
	Now               func() time.Time
	NewID             func() string
}

// Controller owns the lifecycle of every job. Each confirmed job gets one
// orchestration goroutine, which is the only writer of its progress and result.
type Controller struct {
	decomposer  *decomposer.Decomposer
	pool        *worker.Pool
	aggregator  *aggregate.Aggregator
	publisher   Publisher
	artifacts   *artifact.Registry
	producer    ports.ArtifactProducer
	kinds       []domain.ArtifactKind
	minScored   int
	store       ports.JobStore
	summarizer  ports.Summarizer
	notifier    ports.Notifier
	metrics     *metrics.Collector
	logger      *slog.Logger
	cancelGrace time.Duration
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	id       string
	job      domain.Job
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	// serializes store writes so the last write is always the latest snapshot
	persistMu sync.Mutex
}

func (e *jobEntry) signalStop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *jobEntry) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *jobEntry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// NewController constructs the orchestration component.
func NewController(deps ControllerDeps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agg := deps.Aggregator
	if agg == nil {
		agg = aggregate.New(0.1)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	grace := deps.CancelGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	callTimeout := deps.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		decomposer:  deps.Decomposer,
		pool:        deps.Pool,
		aggregator:  agg,
		publisher:   deps.Publisher,
		artifacts:   deps.Artifacts,
		producer:    deps.Producer,
		kinds:       deps.ArtifactKinds,
		minScored:   deps.MinScoredEntities,
		store:       deps.Store,
		summarizer:  deps.Summarizer,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "controller"),
		cancelGrace: grace,
		callTimeout: callTimeout,
		now:         now,
		newID:       newID,
		base:        base,
		cancelBase:  cancel,
		jobs:        map[string]*jobEntry{},
	}
}

// CreateResult is the answer to a free-text request.
type CreateResult struct {
	JobID        string                  `json:"job_id,omitempty"`
	Job          *domain.Job             `json:"job,omitempty"`
	ParsedIntent *domain.AnalysisRequest `json:"parsed_intent,omitempty"`
	Confirmation string                  `json:"confirmation,omitempty"`
	DirectReply  string                  `json:"direct_reply,omitempty"`
	Suggestions  []string                `json:"suggestions,omitempty"`
}

// Create decomposes text and, when it is an analysis request, creates a job awaiting confirmation.
func (c *Controller) Create(ctx context.Context, text string, session domain.SessionContext) (CreateResult, error) {
	if c.decomposer == nil {
		return CreateResult{}, fmt.Errorf("decomposer is not configured")
	}
	d := c.decomposer.Decompose(ctx, text, session)
	if d.Request == nil {
		return CreateResult{DirectReply: d.DirectReply, Suggestions: d.Suggestions}, nil
	}

	job, err := c.CreateJob(ctx, *d.Request)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{JobID: job.ID, Job: &job, ParsedIntent: &job.Request, Confirmation: d.Confirmation}, nil
}

// CreateJob validates req and stores a PENDING_CONFIRMATION job.
func (c *Controller) CreateJob(ctx context.Context, req domain.AnalysisRequest) (domain.Job, error) {
	req = req.Clone()
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}

	id := c.newID()
	e := &jobEntry{
		id: id,
		job: domain.Job{
			ID:        id,
			Request:   req,
			Status:    domain.StatusPendingConfirmation,
			CreatedAt: c.now().UTC(),
			Progress:  domain.Progress{CompletedEntities: []string{}, TotalEntities: len(req.Entities)},
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := c.persist(ctx, e); err != nil {
		return domain.Job{}, fmt.Errorf("store job %s: %w", id, err)
	}

	c.mu.Lock()
	c.jobs[id] = e
	snap := c.snapshotLocked(e)
	c.publishLocked(id, domain.EnvelopeStatus, domain.StatusPayload{Status: snap.Status, Message: "awaiting confirmation"})
	c.mu.Unlock()

	c.metrics.JobStatus(string(snap.Status))
	c.logger.Info("job created", "job_id", id, "topic", req.Topic, "entities", len(req.Entities))
	return snap, nil
}

// Confirm starts a pending job (optionally edited) or declines it. A job is
// executed at most once: confirming anything but a pending job fails.
func (c *Controller) Confirm(ctx context.Context, id string, confirmed bool, mods *domain.Modifications) (domain.Job, error) {
	target := domain.StatusQueued
	if !confirmed {
		target = domain.StatusCancelled
	}

	c.mu.Lock()
	e, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return domain.Job{}, c.unavailable(ctx, id, target)
	}
	if e.job.Status != domain.StatusPendingConfirmation {
		err := &domain.TransitionError{JobID: id, From: e.job.Status, To: target}
		c.mu.Unlock()
		return domain.Job{}, err
	}

	if !confirmed {
		snap, err := c.transitionLocked(e, domain.StatusCancelled, nil, nil, "declined at confirmation")
		c.mu.Unlock()
		c.settle(ctx, e, snap, err)
		return snap, err
	}

	if !mods.Empty() {
		req, err := c.decomposer.ApplyModifications(e.job.Request, mods)
		if err != nil {
			c.mu.Unlock()
			return domain.Job{}, err
		}
		e.job.Request = req
		e.job.Progress.TotalEntities = len(req.Entities)
	}

	snap, err := c.transitionLocked(e, domain.StatusQueued, nil, nil, "queued")
	if err == nil {
		e.started = true
		c.wg.Add(1)
		go c.run(e)
	}
	c.mu.Unlock()

	c.settle(ctx, e, snap, err)
	return snap, err
}

// Get returns a snapshot, falling back to storage for jobs no longer in memory.
func (c *Controller) Get(ctx context.Context, id string) (domain.Job, error) {
	c.mu.RLock()
	if e, ok := c.jobs[id]; ok {
		snap := c.snapshotLocked(e)
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	if c.store != nil {
		job, found, err := c.store.Get(ctx, id)
		if err != nil {
			return domain.Job{}, fmt.Errorf("load job %s: %w", id, err)
		}
		if found {
			return job, nil
		}
	}
	return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
}

// Snapshot adapts Get for the stream dispatcher.
func (c *Controller) Snapshot(id string) (domain.Job, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	job, err := c.Get(ctx, id)
	return job, err == nil
}

// Cancel signals a running job to stop and waits up to the grace period for
// the orchestration to acknowledge before recording CANCELLED itself.
func (c *Controller) Cancel(ctx context.Context, id string) (domain.Job, error) {
	c.mu.Lock()
	e, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return domain.Job{}, c.unavailable(ctx, id, domain.StatusCancelled)
	}

	switch e.job.Status {
	case domain.StatusPendingConfirmation:
		snap, err := c.transitionLocked(e, domain.StatusCancelled, nil, nil, "cancelled before confirmation")
		c.mu.Unlock()
		c.settle(ctx, e, snap, err)
		return snap, err
	case domain.StatusQueued, domain.StatusProcessing:
		e.signalStop()
		c.mu.Unlock()
	default:
		err := &domain.TransitionError{JobID: id, From: e.job.Status, To: domain.StatusCancelled}
		c.mu.Unlock()
		return domain.Job{}, err
	}

	c.logger.Info("cancellation requested", "job_id", id)
	timer := time.NewTimer(c.cancelGrace)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		c.logger.Warn("cancellation grace elapsed, forcing", "job_id", id, "grace", c.cancelGrace)
		c.mu.Lock()
		snap, err := c.transitionLocked(e, domain.StatusCancelled, nil, nil, "cancelled")
		c.mu.Unlock()
		if err == nil {
			c.settle(ctx, e, snap, nil)
		}
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
	return c.Get(ctx, id)
}

// UpdateArtifact applies a renderer callback and persists the job with the new handle.
func (c *Controller) UpdateArtifact(ctx context.Context, jobID, artifactID string, status domain.ArtifactStatus, locator string) (domain.ArtifactHandle, error) {
	c.mu.RLock()
	e, ok := c.jobs[jobID]
	c.mu.RUnlock()
	if !ok || c.artifacts == nil {
		return domain.ArtifactHandle{}, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
	}

	h, err := c.artifacts.Update(jobID, artifactID, status, locator)
	if err != nil {
		return domain.ArtifactHandle{}, err
	}
	if err := c.persist(ctx, e); err != nil {
		c.logger.Error("persist artifact update", "job_id", jobID, "error", err)
	}
	return h, nil
}

// Sweep forgets terminal jobs completed before cutoff. Their snapshots stay in storage.
func (c *Controller) Sweep(cutoff time.Time) int {
	c.mu.Lock()
	var dropped []string
	for id, e := range c.jobs {
		if !e.job.Status.Terminal() || e.job.CompletedAt == nil || !e.job.CompletedAt.Before(cutoff) {
			continue
		}
		if e.started && !e.finished() {
			continue
		}
		delete(c.jobs, id)
		dropped = append(dropped, id)
	}
	c.mu.Unlock()

	for _, id := range dropped {
		if c.publisher != nil {
			c.publisher.DropJob(id)
		}
		if c.artifacts != nil {
			c.artifacts.Drop(id)
		}
	}
	if len(dropped) > 0 {
		c.logger.Info("swept finished jobs", "count", len(dropped))
	}
	return len(dropped)
}

// Shutdown stops running orchestrations and waits for them to record their outcome.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancelBase()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// run is the orchestration task of one job.
func (c *Controller) run(e *jobEntry) {
	defer c.wg.Done()
	defer close(e.done)

	ctx := c.base
	logger := c.logger.With("job_id", e.id)

	if e.stopped() {
		c.finishCancelled(ctx, e)
		return
	}

	c.mu.Lock()
	snap, err := c.transitionLocked(e, domain.StatusProcessing, nil, nil, "processing")
	req := e.job.Request.Clone()
	c.mu.Unlock()
	if err != nil {
		return
	}
	c.settle(ctx, e, snap, nil)

	results := c.pool.Run(ctx, worker.Task{
		JobID:    e.id,
		Request:  req,
		Stop:     e.stop,
		Reporter: &jobReporter{c: c, e: e},
	})
	collected := make(map[string]domain.EntityResult, len(req.Entities))
	for res := range results {
		collected[res.Entity] = res
		c.entityDone(ctx, e, res)
	}

	if e.stopped() {
		c.finishCancelled(ctx, e)
		return
	}
	if len(collected) < len(req.Entities) {
		c.finishFailed(ctx, e, &domain.ErrorInfo{Code: domain.CodeInternal, Message: "service stopped before all entities finished"})
		return
	}

	ordered := make([]domain.EntityResult, 0, len(req.Entities))
	for _, name := range req.Entities {
		ordered = append(ordered, collected[name])
	}
	if info := allDegraded(ordered); info != nil {
		logger.Warn("all entities degraded", "entities", len(ordered))
		c.finishFailed(ctx, e, info)
		return
	}

	result := c.aggregator.Job(req, ordered)
	result.Summary = c.summarize(ctx, req, result, logger)
	c.streamSummary(e, result.Summary)
	result.Artifacts = c.produceArtifacts(ctx, e.id, result, logger)

	if e.stopped() {
		c.finishCancelled(ctx, e)
		return
	}

	c.mu.Lock()
	snap, err = c.transitionLocked(e, domain.StatusCompleted, &result, nil, "completed")
	c.mu.Unlock()
	if err != nil {
		return
	}
	c.settle(ctx, e, snap, nil)
	logger.Info("job completed", "overall", result.OverallScore, "confidence", result.Confidence)
	c.notify(ctx, snap, logger)
}

func (c *Controller) finishCancelled(ctx context.Context, e *jobEntry) {
	c.mu.Lock()
	snap, err := c.transitionLocked(e, domain.StatusCancelled, nil, nil, "cancelled")
	c.mu.Unlock()
	if err == nil {
		c.settle(ctx, e, snap, nil)
	}
}

func (c *Controller) finishFailed(ctx context.Context, e *jobEntry, info *domain.ErrorInfo) {
	c.mu.Lock()
	snap, err := c.transitionLocked(e, domain.StatusFailed, nil, info, info.Message)
	c.mu.Unlock()
	if err == nil {
		c.settle(ctx, e, snap, nil)
	}
}

// transitionLocked applies the edge and publishes status plus any terminal envelope.
// Publishing under the controller lock keeps envelope order equal to state order.
func (c *Controller) transitionLocked(e *jobEntry, to domain.Status, result *domain.JobResult, info *domain.ErrorInfo, msg string) (domain.Job, error) {
	if err := e.job.Transition(to, c.now().UTC(), result, info); err != nil {
		return domain.Job{}, err
	}
	snap := c.snapshotLocked(e)
	c.publishLocked(e.id, domain.EnvelopeStatus, domain.StatusPayload{Status: to, Message: msg})

	switch to {
	case domain.StatusCompleted:
		c.publishLocked(e.id, domain.EnvelopeComplete, snap)
	case domain.StatusFailed:
		c.publishLocked(e.id, domain.EnvelopeError, domain.ErrorPayload{Status: to, Code: info.Code, Message: info.Message})
	case domain.StatusCancelled:
		c.publishLocked(e.id, domain.EnvelopeError, domain.ErrorPayload{Status: to, Code: domain.CodeCancelled, Message: msg})
	}
	return snap, nil
}

// settle records metrics and persists after a successful transition.
func (c *Controller) settle(ctx context.Context, e *jobEntry, snap domain.Job, err error) {
	if err != nil {
		return
	}
	c.metrics.JobStatus(string(snap.Status))
	c.logger.Debug("job transitioned", "job_id", e.id, "status", snap.Status)
	if perr := c.persist(ctx, e); perr != nil {
		c.logger.Error("persist job", "job_id", e.id, "status", snap.Status, "error", perr)
	}
}

func (c *Controller) persist(ctx context.Context, e *jobEntry) error {
	if c.store == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	c.mu.RLock()
	snap := c.snapshotLocked(e)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()
	return c.store.Put(ctx, snap)
}

// snapshotLocked copies the job and overlays the registry's current artifact handles.
func (c *Controller) snapshotLocked(e *jobEntry) domain.Job {
	snap := e.job.Clone()
	if snap.Result != nil && c.artifacts != nil {
		if handles := c.artifacts.List(e.id); len(handles) > 0 {
			snap.Result.Artifacts = handles
		}
	}
	return snap
}

func (c *Controller) publishLocked(jobID string, t domain.EnvelopeType, payload any) {
	if c.publisher == nil {
		return
	}
	env, err := domain.NewEnvelope(t, jobID, payload)
	if err != nil {
		c.logger.Error("encode envelope", "job_id", jobID, "type", t, "error", err)
		return
	}
	c.publisher.Publish(jobID, env)
}

func (c *Controller) entityDone(ctx context.Context, e *jobEntry, res domain.EntityResult) {
	c.mu.Lock()
	e.job.Progress.CompletedEntities = append(e.job.Progress.CompletedEntities, res.Entity)
	e.job.Progress.CurrentStep = fmt.Sprintf("%s finished (%s)", res.Entity, res.Status)
	p := e.job.Progress
	c.publishLocked(e.id, domain.EnvelopeProgress, domain.ProgressPayload{
		Entity:            res.Entity,
		Step:              p.CurrentStep,
		CompletedEntities: len(p.CompletedEntities),
		TotalEntities:     p.TotalEntities,
	})
	c.mu.Unlock()

	if err := c.persist(ctx, e); err != nil {
		c.logger.Warn("persist progress", "job_id", e.id, "error", err)
	}
}

func (c *Controller) summarize(ctx context.Context, req domain.AnalysisRequest, result domain.JobResult, logger *slog.Logger) string {
	if c.summarizer == nil {
		return result.Summary
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()
	text, err := c.summarizer.Summarize(callCtx, req, result)
	if err != nil || strings.TrimSpace(text) == "" {
		logger.Warn("summarizer unavailable, using template", "error", err)
		return result.Summary
	}
	return text
}

// streamSummary sends the summary as partial_token chunks that concatenate to the full text.
func (c *Controller) streamSummary(e *jobEntry, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range chunkText(summary, 64) {
		c.publishLocked(e.id, domain.EnvelopePartialToken, domain.TokenPayload{Text: chunk})
	}
}

func (c *Controller) produceArtifacts(ctx context.Context, jobID string, result domain.JobResult, logger *slog.Logger) []domain.ArtifactHandle {
	if c.producer == nil || c.artifacts == nil || len(c.kinds) == 0 {
		return []domain.ArtifactHandle{}
	}
	scored := 0
	for _, e := range result.EntityResults {
		if e.Scored() {
			scored++
		}
	}
	if scored < c.minScored {
		logger.Debug("result not artifact-worthy", "scored_entities", scored, "required", c.minScored)
		return []domain.ArtifactHandle{}
	}

	for _, kind := range c.kinds {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		h, err := c.producer.Produce(callCtx, jobID, kind, result)
		cancel()
		if err != nil {
			logger.Warn("artifact producer failed", "kind", kind, "error", err)
			continue
		}
		if _, err := c.artifacts.Register(h); err != nil {
			logger.Warn("register artifact", "kind", kind, "error", err)
		}
	}
	return c.artifacts.List(jobID)
}

func (c *Controller) notify(ctx context.Context, job domain.Job, logger *slog.Logger) {
	if c.notifier == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()
	if err := c.notifier.PublishDigest(callCtx, buildDigestMessage(job)); err != nil {
		logger.Warn("publish digest", "error", err)
	}
}

// unavailable explains why an operation cannot apply to a job that is not in memory.
func (c *Controller) unavailable(ctx context.Context, id string, to domain.Status) error {
	job, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.TransitionError{JobID: id, From: job.Status, To: to}
}

func allDegraded(results []domain.EntityResult) *domain.ErrorInfo {
	if len(results) == 0 {
		return nil
	}
	reasons := make(map[string]string, len(results))
	for _, r := range results {
		if r.Status != domain.EntityDegraded {
			return nil
		}
		reasons[r.Entity] = r.Error
	}
	return &domain.ErrorInfo{
		Code:     domain.CodeAllEntitiesDegraded,
		Message:  fmt.Sprintf("all %d entities failed to fetch or score", len(results)),
		Entities: reasons,
	}
}

func buildDigestMessage(job domain.Job) string {
	if job.Result == nil {
		return ""
	}
	return fmt.Sprintf("*%s* (%s)\n%s", job.Request.Topic, strings.Join(job.Request.Entities, ", "), job.Result.Summary)
}

// chunkText splits s at spaces into pieces of roughly size bytes without dropping any byte.
func chunkText(s string, size int) []string {
	var out []string
	for len(s) > size {
		end := strings.LastIndexByte(s[:size], ' ') + 1
		if end <= 1 {
			// no space to break on: cut at the last rune boundary that fits
			end = size
			for end > 0 && !utf8.RuneStart(s[end]) {
				end--
			}
			if end == 0 {
				_, end = utf8.DecodeRuneInString(s)
			}
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// jobReporter maps worker sub-steps onto progress and citation envelopes.
type jobReporter struct {
	c *Controller
	e *jobEntry
}

func (r *jobReporter) Step(entity, step string) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	p := r.e.job.Progress
	r.c.publishLocked(r.e.id, domain.EnvelopeProgress, domain.ProgressPayload{
		Entity:            entity,
		Step:              step,
		CompletedEntities: len(p.CompletedEntities),
		TotalEntities:     p.TotalEntities,
	})
}

func (r *jobReporter) Citation(entity string, item domain.ItemScore) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.publishLocked(r.e.id, domain.EnvelopeCitation, domain.CitationPayload{
		Entity: entity,
		URL:    item.Provenance.URL,
		Title:  item.Provenance.Title,
		Source: item.Provenance.SourceID,
		Score:  item.Value,
	})
}
