package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"TopicPulse/internal/aggregate"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/logging"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		GlobalLimit:   8,
		SearchLimit:   8,
		ScoreLimit:    8,
		EntityWorkers: 8,
		CallTimeout:   time.Second,
		Retry:         retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func newPool(cfg Config, s ports.Searcher, sc ports.Scorer) *Pool {
	return New(cfg, Deps{
		Searcher:   s,
		Scorer:     sc,
		Aggregator: aggregate.New(0.2),
		Logger:     logging.Discard(),
	})
}

func request(entities ...string) domain.AnalysisRequest {
	return domain.AnalysisRequest{
		Topic:            "X",
		Entities:         entities,
		Window:           domain.LastDays(time.Now(), 7),
		ResultsPerEntity: 10,
	}
}

func collect(ch <-chan domain.EntityResult) map[string]domain.EntityResult {
	out := map[string]domain.EntityResult{}
	for res := range ch {
		out[res.Entity] = res
	}
	return out
}

func constScore(v float64) scoreFunc {
	return func(context.Context, domain.SourceItem) (domain.Score, error) {
		return domain.Score{Value: v, Confidence: 1}, nil
	}
}

func TestPoolNeverExceedsGlobalLimit(t *testing.T) {
	g := &gauge{}
	searcher := &fakeSearcher{g: g, delay: 5 * time.Millisecond, fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 2), nil
	}}
	scorer := &fakeScorer{g: g, delay: 5 * time.Millisecond, fn: constScore(0.1)}

	cfg := testConfig()
	cfg.GlobalLimit = 3
	cfg.EntityWorkers = 10
	pool := newPool(cfg, searcher, scorer)

	entities := make([]string, 10)
	for i := range entities {
		entities[i] = fmt.Sprintf("E%d", i)
	}
	results := collect(pool.Run(context.Background(), Task{JobID: "j", Request: request(entities...)}))

	require.Len(t, results, 10)
	for _, res := range results {
		assert.Equal(t, domain.EntityOK, res.Status)
	}
	assert.LessOrEqual(t, g.peak.Load(), int64(3))
	assert.Equal(t, int64(3), g.peak.Load(), "limit should be saturated with ten entities")
	assert.Equal(t, int64(20), scorer.calls.Load())
}

func TestPoolLimitsSearchClassIndependently(t *testing.T) {
	searches := &gauge{}
	searcher := &fakeSearcher{class: searches, delay: 5 * time.Millisecond, fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 1), nil
	}}
	cfg := testConfig()
	cfg.SearchLimit = 1
	pool := newPool(cfg, searcher, &fakeScorer{fn: constScore(0)})

	results := collect(pool.Run(context.Background(), Task{Request: request("A", "B", "C", "D")}))
	require.Len(t, results, 4)
	assert.Equal(t, int64(1), searches.peak.Load())
}

func TestPoolScenarioNoDataExcluded(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		if q.Entity == "A" {
			return itemsFor("A", 2), nil
		}
		return nil, nil
	}}
	values := map[string]float64{"https://news0.example/A": 0.5, "https://news1.example/A": 0.6}
	scorer := &fakeScorer{fn: func(_ context.Context, item domain.SourceItem) (domain.Score, error) {
		return domain.Score{Value: values[item.URL], Confidence: 0.9}, nil
	}}

	results := collect(newPool(testConfig(), searcher, scorer).Run(context.Background(), Task{Request: request("A", "B")}))
	require.Len(t, results, 2)

	assert.Equal(t, domain.EntityOK, results["A"].Status)
	assert.InDelta(t, 0.55, results["A"].AggregateScore, 1e-9)
	assert.Equal(t, domain.EntityNoData, results["B"].Status)
	assert.Zero(t, results["B"].AggregateScore)
	assert.Zero(t, results["B"].Confidence)
}

func TestPoolRetriesTransientSearch(t *testing.T) {
	t.Parallel()

	var failures int
	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		if failures < 2 {
			failures++
			return nil, domain.TransientError("search", errors.New("503"))
		}
		return itemsFor(q.Entity, 1), nil
	}}
	results := collect(newPool(testConfig(), searcher, &fakeScorer{fn: constScore(0.3)}).Run(context.Background(), Task{Request: request("A")}))

	assert.Equal(t, domain.EntityOK, results["A"].Status)
	assert.Equal(t, int64(3), searcher.calls.Load())
}

func TestPoolBudgetIsSharedAcrossCalls(t *testing.T) {
	t.Parallel()

	var searchFailed bool
	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		if !searchFailed {
			searchFailed = true
			return nil, domain.TransientError("search", errors.New("reset"))
		}
		return itemsFor(q.Entity, 3), nil
	}}
	scorer := &fakeScorer{fn: func(context.Context, domain.SourceItem) (domain.Score, error) {
		return domain.Score{}, domain.TransientError("score", errors.New("overloaded"))
	}}

	results := collect(newPool(testConfig(), searcher, scorer).Run(context.Background(), Task{Request: request("A")}))
	res := results["A"]
	assert.Equal(t, domain.EntityDegraded, res.Status)
	assert.Empty(t, res.ItemScores)
	assert.Equal(t, 3, res.ItemsFound)
	// One search failure plus two scoring failures spend the budget of two retries.
	assert.Equal(t, int64(2), scorer.calls.Load())
	assert.Contains(t, res.Error, "gave up")
}

func TestPoolPermanentErrorDegradesImmediately(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(context.Context, ports.SearchQuery) ([]domain.SourceItem, error) {
		return nil, domain.PermanentError("search", errors.New("401 unauthorized"))
	}}
	results := collect(newPool(testConfig(), searcher, &fakeScorer{fn: constScore(0)}).Run(context.Background(), Task{Request: request("A")}))

	assert.Equal(t, domain.EntityDegraded, results["A"].Status)
	assert.Equal(t, int64(1), searcher.calls.Load())
}

func TestPoolKeepsPartialScores(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 3), nil
	}}
	scorer := &fakeScorer{fn: func(_ context.Context, item domain.SourceItem) (domain.Score, error) {
		if strings.Contains(item.URL, "news0") {
			return domain.Score{Value: 0.4, Confidence: 1}, nil
		}
		return domain.Score{}, domain.PermanentError("score", errors.New("quota exceeded"))
	}}
	results := collect(newPool(testConfig(), searcher, scorer).Run(context.Background(), Task{Request: request("A")}))

	res := results["A"]
	assert.Equal(t, domain.EntityDegraded, res.Status)
	require.Len(t, res.ItemScores, 1)
	assert.InDelta(t, 0.4, res.AggregateScore, 1e-9)
	assert.InDelta(t, 1.0/3.0, res.Confidence, 1e-9)
}

func TestPoolRejectsOutOfRangeScores(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 1), nil
	}}
	scorer := &fakeScorer{fn: constScore(3)}
	results := collect(newPool(testConfig(), searcher, scorer).Run(context.Background(), Task{Request: request("A")}))

	assert.Equal(t, domain.EntityDegraded, results["A"].Status)
	assert.Equal(t, int64(3), scorer.calls.Load())
}

func TestPoolCallTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(ctx context.Context, _ ports.SearchQuery) ([]domain.SourceItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.Retry.MaxRetries = 1
	results := collect(newPool(cfg, searcher, &fakeScorer{fn: constScore(0)}).Run(context.Background(), Task{Request: request("A")}))

	assert.Equal(t, domain.EntityDegraded, results["A"].Status)
	assert.Contains(t, results["A"].Error, "timed out")
	assert.Equal(t, int64(2), searcher.calls.Load())
}

func TestPoolUsesBatchScorer(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 5), nil
	}}
	scorer := &fakeBatchScorer{fakeScorer: fakeScorer{fn: constScore(0.2)}}
	cfg := testConfig()
	cfg.BatchSize = 2
	results := collect(newPool(cfg, searcher, scorer).Run(context.Background(), Task{Request: request("A")}))

	require.Len(t, results["A"].ItemScores, 5)
	assert.Equal(t, int64(3), scorer.batchCalls.Load())
	assert.Equal(t, []int{2, 2, 1}, scorer.sizes)
	assert.Zero(t, scorer.calls.Load())
}

func TestPoolTruncatesToResultsPerEntity(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		assert.Equal(t, 2, q.MaxResults)
		return itemsFor(q.Entity, 6), nil
	}}
	req := request("A")
	req.ResultsPerEntity = 2
	results := collect(newPool(testConfig(), searcher, &fakeScorer{fn: constScore(0)}).Run(context.Background(), Task{Request: req}))

	assert.Equal(t, 2, results["A"].ItemsFound)
}

func TestPoolReportsStepsAndCitations(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fn: func(_ context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		return itemsFor(q.Entity, 2), nil
	}}
	rep := &recordingReporter{}
	collect(newPool(testConfig(), searcher, &fakeScorer{fn: constScore(0.1)}).Run(context.Background(), Task{Request: request("A"), Reporter: rep}))

	assert.Equal(t, []string{"A: found 2 sources", "A: scored 1 of 2 sources", "A: scored 2 of 2 sources"}, rep.steps)
	assert.Equal(t, []string{"A https://news0.example/A", "A https://news1.example/A"}, rep.citations)
}

func TestPoolStopDiscardsInFlightResults(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var callCtxErr error
	searcher := &fakeSearcher{fn: func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
		close(started)
		<-release
		callCtxErr = ctx.Err()
		return itemsFor(q.Entity, 2), nil
	}}
	scorer := &fakeScorer{fn: constScore(0.5)}
	cfg := testConfig()
	cfg.EntityWorkers = 1

	stop := make(chan struct{})
	ch := newPool(cfg, searcher, scorer).Run(context.Background(), Task{Request: request("A", "B"), Stop: stop})

	<-started
	close(stop)
	close(release)

	results := collect(ch)
	assert.Empty(t, results)
	assert.NoError(t, callCtxErr, "in-flight calls are not aborted")
	assert.Equal(t, int64(1), searcher.calls.Load())
	assert.Zero(t, scorer.calls.Load())
}

func TestCallOutcomeLabels(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"ok":        nil,
		"permanent": domain.PermanentError("search", errors.New("401")),
		"transient": domain.TransientError("score", errors.New("503")),
		"error":     errors.New("unclassified"),
	}
	for want, err := range cases {
		assert.Equal(t, want, outcome(err))
	}
	assert.Equal(t, "transient", outcome(fmt.Errorf("call: %w", context.DeadlineExceeded)))
}
