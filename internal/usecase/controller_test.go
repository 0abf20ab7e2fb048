package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"TopicPulse/internal/aggregate"
	"TopicPulse/internal/artifact"
	"TopicPulse/internal/decomposer"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/logging"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/retry"
	"TopicPulse/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	controller *Controller
	publisher  *recordingPublisher
	store      *memoryStore
	searcher   *fakeSearcher
	notifier   *fakeNotifier
	producer   *fakeProducer
}

type options struct {
	search     func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error)
	grace      time.Duration
	summarizer ports.Summarizer
	withArt    bool
	minScored  int
}

func scenarioSearch(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
	if q.Entity == "A" {
		return itemsFor("A", 2), nil
	}
	return nil, nil
}

func newHarness(t *testing.T, opt options) *harness {
	t.Helper()
	if opt.search == nil {
		opt.search = scenarioSearch
	}
	if opt.grace == 0 {
		opt.grace = 2 * time.Second
	}

	logger := logging.Discard()
	h := &harness{
		publisher: newRecordingPublisher(),
		store:     newMemoryStore(),
		searcher:  &fakeSearcher{fn: opt.search},
		notifier:  &fakeNotifier{},
		producer:  &fakeProducer{},
	}
	scorer := &fakeScorer{values: map[string]float64{
		"https://news0.example/A": 0.5,
		"https://news1.example/A": 0.6,
	}}
	agg := aggregate.New(0.1)
	pool := worker.New(worker.Config{
		GlobalLimit:   4,
		SearchLimit:   4,
		ScoreLimit:    4,
		EntityWorkers: 4,
		CallTimeout:   time.Second,
		Retry:         retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, worker.Deps{Searcher: h.searcher, Scorer: scorer, Aggregator: agg, Logger: logger})

	deps := ControllerDeps{
		Decomposer: decomposer.New(decomposer.Deps{
			Limits: decomposer.Limits{
				DefaultResultsPerEntity: 10,
				MaxResultsPerEntity:     50,
				MaxEntities:             5,
				DefaultWindowDays:       7,
				MaxWindowDays:           90,
			},
			Retry:  retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond},
			Logger: logger,
		}),
		Pool:        pool,
		Aggregator:  agg,
		Publisher:   h.publisher,
		Store:       h.store,
		Summarizer:  opt.summarizer,
		Notifier:    h.notifier,
		Logger:      logger,
		CancelGrace: opt.grace,
		CallTimeout: time.Second,
	}
	if opt.withArt {
		deps.Artifacts = artifact.NewRegistry(h.publisher, logger)
		deps.Producer = h.producer
		deps.ArtifactKinds = []domain.ArtifactKind{domain.ArtifactChart, domain.ArtifactReport}
		deps.MinScoredEntities = opt.minScored
	}
	h.controller = NewController(deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.controller.Shutdown(ctx))
	})
	return h
}

func request(entities ...string) domain.AnalysisRequest {
	return domain.AnalysisRequest{
		Topic:            "X",
		Entities:         entities,
		Window:           domain.LastDays(time.Now(), 7),
		ResultsPerEntity: 10,
	}
}

func (h *harness) waitTerminal(t *testing.T, id string) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.controller.Get(context.Background(), id)
		return err == nil && job.Status.Terminal() && h.publisher.last(id).Type.Terminal()
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func TestCreateReturnsConfirmationForAnalysisRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})

	res, err := h.controller.Create(context.Background(), "Analyze sentiment on energy policy across France and Germany", domain.SessionContext{})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	require.NotNil(t, res.ParsedIntent)

	assert.Equal(t, domain.StatusPendingConfirmation, res.Job.Status)
	assert.Equal(t, res.Job.ID, res.JobID)
	assert.Equal(t, []string{"France", "Germany"}, res.ParsedIntent.Entities)
	assert.Contains(t, res.Confirmation, "energy policy")
	assert.Equal(t, []domain.Status{domain.StatusPendingConfirmation}, h.publisher.statuses(res.Job.ID))

	stored, found, err := h.store.Get(context.Background(), res.Job.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.StatusPendingConfirmation, stored.Status)
	assert.Zero(t, h.searcher.calls.Load())
}

func TestCreateDirectReplyCreatesNoJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})

	res, err := h.controller.Create(context.Background(), "hello there", domain.SessionContext{})
	require.NoError(t, err)
	assert.Nil(t, res.Job)
	assert.NotEmpty(t, res.DirectReply)
	assert.NotEmpty(t, res.Suggestions)
}

func TestCreateJobRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})

	_, err := h.controller.CreateJob(context.Background(), request())
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestCreateJobFailsWhenStoreFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	h.store.fail = errors.New("disk full")

	_, err := h.controller.CreateJob(context.Background(), request("A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestConfirmRunsJobToCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)

	queued, err := h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, queued.Status)

	done := h.waitTerminal(t, job.ID)
	require.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	a, ok := done.Result.Entity("A")
	require.True(t, ok)
	assert.Equal(t, domain.EntityOK, a.Status)
	assert.InDelta(t, 0.55, a.AggregateScore, 1e-9)
	b, ok := done.Result.Entity("B")
	require.True(t, ok)
	assert.Equal(t, domain.EntityNoData, b.Status)
	assert.InDelta(t, 0.55, done.Result.OverallScore, 1e-9)
	assert.ElementsMatch(t, []string{"A", "B"}, done.Progress.CompletedEntities)

	assert.Equal(t, []domain.Status{
		domain.StatusPendingConfirmation,
		domain.StatusQueued,
		domain.StatusProcessing,
		domain.StatusCompleted,
	}, h.publisher.statuses(job.ID))
	assert.Equal(t, domain.EnvelopeComplete, h.publisher.last(job.ID).Type)
	assert.Equal(t, 2, h.publisher.count(job.ID, domain.EnvelopeCitation))
	assert.Equal(t, done.Result.Summary, h.publisher.summaryText(job.ID))

	for i, env := range h.publisher.envelopes(job.ID) {
		assert.Equal(t, int64(i+1), env.Sequence)
	}

	require.Eventually(t, func() bool { return len(h.notifier.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.notifier.sent()[0], "*X* (A, B)")

	stored, found, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestConfirmIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	var terr *domain.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusQueued, terr.To)

	h.waitTerminal(t, job.ID)
	assert.Equal(t, int64(2), h.searcher.calls.Load())
}

func TestConcurrentConfirmStartsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.controller.Confirm(ctx, job.ID, true, nil); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok.Load())
	h.waitTerminal(t, job.ID)
	assert.Equal(t, int64(1), h.searcher.calls.Load())
}

func TestDeclineCancelsWithoutWork(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)

	got, err := h.controller.Confirm(ctx, job.ID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.EnvelopeError, h.publisher.last(job.ID).Type)
	assert.Zero(t, h.searcher.calls.Load())
}

func TestConfirmAppliesModifications(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)

	topic := "Y"
	got, err := h.controller.Confirm(ctx, job.ID, true, &domain.Modifications{Topic: &topic, Entities: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, "Y", got.Request.Topic)
	assert.Equal(t, 2, got.Progress.TotalEntities)

	done := h.waitTerminal(t, job.ID)
	assert.Len(t, done.Result.EntityResults, 2)
}

func TestConfirmRejectsInvalidModifications(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)

	days := 0
	_, err = h.controller.Confirm(ctx, job.ID, true, &domain.Modifications{WindowDays: &days})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	got, err := h.controller.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, got.Status)
}

func TestUnknownJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	_, err := h.controller.Get(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	_, err = h.controller.Confirm(ctx, "nope", true, nil)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	_, err = h.controller.Cancel(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	_, ok := h.controller.Snapshot("nope")
	assert.False(t, ok)
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)

	got, err := h.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	_, err = h.controller.Cancel(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestCancelRunningJobIsAcknowledged(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 4)
	h := newHarness(t, options{search: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		started <- struct{}{}
		time.Sleep(30 * time.Millisecond)
		return itemsFor(q.Entity, 2), nil
	}})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)
	<-started

	got, err := h.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Nil(t, got.Result)

	assert.Zero(t, h.publisher.count(job.ID, domain.EnvelopeComplete))
	assert.Zero(t, h.publisher.count(job.ID, domain.EnvelopeCitation))
	assert.Equal(t, domain.EnvelopeError, h.publisher.last(job.ID).Type)

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(h.publisher.last(job.ID).Payload, &payload))
	assert.Equal(t, domain.CodeCancelled, payload.Code)

	_, err = h.controller.Cancel(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestCancelForcedAfterGrace(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := newHarness(t, options{
		grace: 30 * time.Millisecond,
		search: func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return itemsFor(q.Entity, 1), nil
		},
	})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)
	<-started

	got, err := h.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	close(release)
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, h.controller.Shutdown(shutdownCtx))

	final, err := h.controller.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, final.Status)

	cancelled := 0
	for _, s := range h.publisher.statuses(job.ID) {
		if s == domain.StatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
	assert.Zero(t, h.publisher.count(job.ID, domain.EnvelopeComplete))
}

func TestAllEntitiesDegradedFailsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{search: func(context.Context, ports.SearchQuery) ([]domain.SourceItem, error) {
		return nil, domain.PermanentError("search", errors.New("forbidden"))
	}})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	require.Equal(t, domain.StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, domain.CodeAllEntitiesDegraded, done.Error.Code)
	assert.Len(t, done.Error.Entities, 2)
	assert.Contains(t, done.Error.Entities["A"], "forbidden")

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(h.publisher.last(job.ID).Payload, &payload))
	assert.Equal(t, domain.CodeAllEntitiesDegraded, payload.Code)
	assert.Empty(t, h.notifier.sent())
}

func TestSummarizerTextIsStreamed(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("Coverage of X leans positive in A while B is silent. ", 4)
	h := newHarness(t, options{summarizer: fakeSummarizer{text: text}})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, text, done.Result.Summary)
	assert.Equal(t, text, h.publisher.summaryText(job.ID))
	assert.Greater(t, h.publisher.count(job.ID, domain.EnvelopePartialToken), 1)
}

func TestSummarizerFailureFallsBackToTemplate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{summarizer: fakeSummarizer{err: domain.TransientError("chatgpt", errors.New("429"))}})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Contains(t, done.Result.Summary, "Sentiment on \"X\"")
}

func TestArtifactsProducedAndUpdated(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{withArt: true, minScored: 1})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	require.Len(t, done.Result.Artifacts, 2)
	assert.Equal(t, domain.ArtifactChart, done.Result.Artifacts[0].Kind)
	assert.Equal(t, domain.ArtifactGenerating, done.Result.Artifacts[0].Status)

	chartID := done.Result.Artifacts[0].ID
	updated, err := h.controller.UpdateArtifact(ctx, job.ID, chartID, domain.ArtifactReady, "https://cdn.example/chart.png")
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactReady, updated.Status)

	got, err := h.controller.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/chart.png", got.Result.Artifacts[0].Locator)

	stored, _, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactReady, stored.Result.Artifacts[0].Status)

	_, err = h.controller.UpdateArtifact(ctx, job.ID, chartID, domain.ArtifactFailed, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = h.controller.UpdateArtifact(ctx, "nope", chartID, domain.ArtifactFailed, "")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestArtifactsSkippedBelowThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{withArt: true, minScored: 2})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A", "B"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Empty(t, done.Result.Artifacts)
	assert.Empty(t, h.producer.calls)
}

func TestArtifactProducerFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{withArt: true, minScored: 1})
	h.producer.fail = map[domain.ArtifactKind]bool{domain.ArtifactReport: true}
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)

	done := h.waitTerminal(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.Len(t, done.Result.Artifacts, 1)
	assert.Equal(t, domain.ArtifactChart, done.Result.Artifacts[0].Kind)
}

func TestSweepEvictsFinishedJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	finished, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, finished.ID, true, nil)
	require.NoError(t, err)
	h.waitTerminal(t, finished.ID)

	pending, err := h.controller.CreateJob(ctx, request("B"))
	require.NoError(t, err)

	assert.Zero(t, h.controller.Sweep(time.Now().Add(-time.Hour)))
	require.Eventually(t, func() bool {
		return h.controller.Sweep(time.Now().Add(time.Minute)) == 1
	}, time.Second, 5*time.Millisecond)

	got, err := h.controller.Get(ctx, finished.ID)
	require.NoError(t, err, "evicted jobs are served from the store")
	assert.Equal(t, domain.StatusCompleted, got.Status)

	_, err = h.controller.Confirm(ctx, finished.ID, true, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	still, err := h.controller.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, still.Status)

	assert.Equal(t, []string{finished.ID}, h.publisher.droppedJobs())
}

func TestJanitorSweepsOnSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)
	_, err = h.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)

	driver := &manualScheduler{}
	janitor := NewJanitor(driver, h.controller, time.Hour, logging.Discard())
	require.NoError(t, janitor.Start(ctx))

	driver.fire(time.Now())
	assert.Empty(t, h.publisher.droppedJobs(), "job is kept within retention")

	driver.fire(time.Now().Add(2 * time.Hour))
	assert.Equal(t, []string{job.ID}, h.publisher.droppedJobs())
	assert.Zero(t, h.controller.Sweep(time.Now().Add(3*time.Hour)))

	require.NoError(t, janitor.Stop(ctx))
	assert.True(t, driver.stopped)
}

func TestShutdownFailsRunningJobs(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	h := newHarness(t, options{search: func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	ctx := context.Background()

	job, err := h.controller.CreateJob(ctx, request("A"))
	require.NoError(t, err)
	_, err = h.controller.Confirm(ctx, job.ID, true, nil)
	require.NoError(t, err)
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, h.controller.Shutdown(shutdownCtx))

	got, err := h.controller.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal(), fmt.Sprintf("status %s", got.Status))
}

func TestChunkTextPreservesContent(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"",
		"short",
		strings.Repeat("word ", 40),
		strings.Repeat("x", 150),
		strings.Repeat("エネルギー政策に関する報道は概ね肯定的です。", 4),
		"Überblick: " + strings.Repeat("ä", 30),
	} {
		chunks := chunkText(s, 16)
		assert.Equal(t, s, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 16)
			assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
		}
	}
}
