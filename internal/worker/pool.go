// Package worker runs the per-entity search and scoring fan-out under shared call limits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"TopicPulse/internal/aggregate"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/metrics"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/retry"
)

const (
	classSearch = "search"
	classScore  = "score"
)

var errCancelled = errors.New("entity work cancelled")

// Config bounds the pool. Limits apply to the whole process, not per job.
type Config struct {
	GlobalLimit   int
	SearchLimit   int
	ScoreLimit    int
	EntityWorkers int
	CallTimeout   time.Duration
	BatchSize     int
	Retry         retry.Policy
}

// Deps wires the collaborators used by every worker.
type Deps struct {
	Searcher   ports.Searcher
	Scorer     ports.Scorer
	Aggregator *aggregate.Aggregator
	Catalog    *aggregate.Catalog
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Reporter receives sub-step events from workers. Calls arrive from many goroutines.
type Reporter interface {
	Step(entity, step string)
	Citation(entity string, item domain.ItemScore)
}

// Task is one job's worth of entities.
type Task struct {
	JobID    string
	Request  domain.AnalysisRequest
	Stop     <-chan struct{}
	Reporter Reporter
}

// Pool executes entity workers. One Pool is shared by all jobs.
type Pool struct {
	cfg        Config
	global     *semaphore.Weighted
	search     *semaphore.Weighted
	score      *semaphore.Weighted
	searcher   ports.Searcher
	scorer     ports.Scorer
	aggregator *aggregate.Aggregator
	catalog    *aggregate.Catalog
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// New builds a pool; non-positive limits are raised to one.
func New(cfg Config, deps Deps) *Pool {
	cfg.GlobalLimit = atLeastOne(cfg.GlobalLimit)
	cfg.SearchLimit = atLeastOne(cfg.SearchLimit)
	cfg.ScoreLimit = atLeastOne(cfg.ScoreLimit)
	cfg.EntityWorkers = atLeastOne(cfg.EntityWorkers)
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agg := deps.Aggregator
	if agg == nil {
		agg = aggregate.New(0)
	}

	return &Pool{
		cfg:        cfg,
		global:     semaphore.NewWeighted(int64(cfg.GlobalLimit)),
		search:     semaphore.NewWeighted(int64(cfg.SearchLimit)),
		score:      semaphore.NewWeighted(int64(cfg.ScoreLimit)),
		searcher:   deps.Searcher,
		scorer:     deps.Scorer,
		aggregator: agg,
		catalog:    deps.Catalog,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Run starts one worker per entity and returns a channel of terminal results.
// The channel closes after every worker has returned. Entities abandoned because
// of Stop or ctx produce no result.
func (p *Pool) Run(ctx context.Context, task Task) <-chan domain.EntityResult {
	entities := task.Request.Entities
	out := make(chan domain.EntityResult, len(entities))
	if task.Reporter == nil {
		task.Reporter = nopReporter{}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		select {
		case <-task.Stop:
			cancel()
		case <-finished:
		}
	}()

	go func() {
		defer close(out)
		defer cancel()
		defer close(finished)

		g := new(errgroup.Group)
		g.SetLimit(p.cfg.EntityWorkers)
		for _, entity := range entities {
			if waitCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := &entityRun{
					pool:   p,
					task:   task,
					entity: entity,
					wait:   waitCtx,
					budget: retry.NewBudget(p.cfg.Retry),
					logger: p.logger.With("job_id", task.JobID, "entity", entity),
				}
				if res, ok := r.execute(); ok {
					p.metrics.EntityResult(string(res.Status))
					out <- res
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// entityRun is the state of one worker. The retry budget is shared by
// the entity's search and scoring calls.
type entityRun struct {
	pool   *Pool
	task   Task
	entity string
	wait   context.Context
	budget *retry.Budget
	logger *slog.Logger
}

func (r *entityRun) execute() (domain.EntityResult, bool) {
	p := r.pool
	req := r.task.Request

	var items []domain.SourceItem
	err := r.attempt(classSearch, p.search, func(ctx context.Context) error {
		found, err := p.searcher.Search(ctx, ports.SearchQuery{
			Topic:      req.Topic,
			Entity:     r.entity,
			Window:     req.Window,
			MaxResults: req.ResultsPerEntity,
		})
		if err != nil {
			return err
		}
		items = found
		return nil
	})
	if errors.Is(err, errCancelled) {
		return domain.EntityResult{}, false
	}
	if err != nil {
		r.logger.Warn("search degraded", "error", err)
		return p.aggregator.Entity(r.entity, nil, 0, domain.EntityDegraded, err.Error()), true
	}

	if len(items) > req.ResultsPerEntity {
		items = items[:req.ResultsPerEntity]
	}
	r.task.Reporter.Step(r.entity, fmt.Sprintf("found %d sources", len(items)))
	if len(items) == 0 {
		return p.aggregator.Entity(r.entity, nil, 0, domain.EntityNoData, ""), true
	}

	scored, err := r.scoreItems(items)
	if errors.Is(err, errCancelled) {
		return domain.EntityResult{}, false
	}
	if err != nil {
		r.logger.Warn("scoring degraded", "scored", len(scored), "found", len(items), "error", err)
		return p.aggregator.Entity(r.entity, scored, len(items), domain.EntityDegraded, err.Error()), true
	}
	return p.aggregator.Entity(r.entity, scored, len(items), domain.EntityOK, ""), true
}

func (r *entityRun) scoreItems(items []domain.SourceItem) ([]domain.ItemScore, error) {
	p := r.pool
	topic := r.task.Request.Topic

	size := 1
	batcher, batching := p.scorer.(ports.BatchScorer)
	if batching && p.cfg.BatchSize > 1 {
		size = p.cfg.BatchSize
	}

	out := make([]domain.ItemScore, 0, len(items))
	for start := 0; start < len(items); start += size {
		chunk := items[start:min(start+size, len(items))]

		var scores []domain.Score
		err := r.attempt(classScore, p.score, func(ctx context.Context) error {
			var err error
			if size > 1 {
				scores, err = batcher.ScoreBatch(ctx, chunk, topic)
			} else {
				var s domain.Score
				s, err = p.scorer.Score(ctx, chunk[0], topic)
				scores = []domain.Score{s}
			}
			if err != nil {
				return err
			}
			return checkScores(scores, len(chunk))
		})
		if err != nil {
			return out, err
		}

		for i, s := range scores {
			item := domain.ItemScore{
				Value:      s.Value,
				Confidence: s.Confidence,
				Reasoning:  s.Reasoning,
				Provenance: p.catalog.Provenance(chunk[i]),
			}
			out = append(out, item)
			r.task.Reporter.Citation(r.entity, item)
		}
		r.task.Reporter.Step(r.entity, fmt.Sprintf("scored %d of %d sources", len(out), len(items)))
	}
	return out, nil
}

// attempt runs fn until it succeeds, fails permanently or exhausts the entity budget.
// Stop is observed before every call and after every call; a result that
// arrives after Stop is discarded.
func (r *entityRun) attempt(class string, sem *semaphore.Weighted, fn func(context.Context) error) error {
	for {
		if r.stopped() {
			return errCancelled
		}
		err := r.call(class, sem, fn)
		if r.stopped() {
			return errCancelled
		}
		if err == nil {
			return nil
		}
		if domain.IsPermanent(err) {
			return err
		}

		delay, ok := r.budget.Fail(err)
		if !ok {
			return fmt.Errorf("%s gave up after %d failures: %w", class, r.budget.Failures(), err)
		}
		r.logger.Debug("retrying", "collaborator", class, "attempt", r.budget.Failures(), "delay", delay, "error", err)
		if err := retry.Wait(r.wait, r.task.Stop, delay); err != nil {
			return errCancelled
		}
	}
}

func (r *entityRun) stopped() bool {
	select {
	case <-r.task.Stop:
		return true
	default:
		return r.wait.Err() != nil
	}
}

// call holds the class slot and a global slot for the duration of fn.
// fn runs on a context detached from cancellation and bounded by the call timeout.
func (r *entityRun) call(class string, sem *semaphore.Weighted, fn func(context.Context) error) error {
	p := r.pool
	if err := sem.Acquire(r.wait, 1); err != nil {
		return errCancelled
	}
	defer sem.Release(1)
	if err := p.global.Acquire(r.wait, 1); err != nil {
		return errCancelled
	}
	defer p.global.Release(1)
	if r.stopped() {
		return errCancelled
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.wait), p.cfg.CallTimeout)
	defer cancel()

	done := p.metrics.CallStarted(class)
	err := fn(ctx)
	if err != nil && !domain.IsPermanent(err) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.TransientError(class, fmt.Errorf("timed out after %s: %w", p.cfg.CallTimeout, err))
	}
	done(outcome(err))
	return err
}

func checkScores(scores []domain.Score, want int) error {
	if len(scores) != want {
		return domain.TransientError(classScore, fmt.Errorf("got %d scores for %d items", len(scores), want))
	}
	for i, s := range scores {
		if err := s.Validate(); err != nil {
			return domain.TransientError(classScore, fmt.Errorf("item %d: %w", i, err))
		}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsPermanent(err):
		return "permanent"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

type nopReporter struct{}

func (nopReporter) Step(string, string)                {}
func (nopReporter) Citation(string, domain.ItemScore) {}
