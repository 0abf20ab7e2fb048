package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

// gauge tracks how many calls are outstanding and the highest value seen.
type gauge struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.cur.Add(-1) }

type searchFunc func(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error)

type fakeSearcher struct {
	fn    searchFunc
	calls atomic.Int64
	g     *gauge
	class *gauge
	delay time.Duration
}

func (f *fakeSearcher) Search(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
	f.calls.Add(1)
	if f.g != nil {
		f.g.enter()
		defer f.g.leave()
	}
	if f.class != nil {
		f.class.enter()
		defer f.class.leave()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(ctx, q)
}

type scoreFunc func(ctx context.Context, item domain.SourceItem) (domain.Score, error)

type fakeScorer struct {
	fn    scoreFunc
	calls atomic.Int64
	g     *gauge
	delay time.Duration
}

func (f *fakeScorer) Score(ctx context.Context, item domain.SourceItem, _ string) (domain.Score, error) {
	f.calls.Add(1)
	if f.g != nil {
		f.g.enter()
		defer f.g.leave()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(ctx, item)
}

type fakeBatchScorer struct {
	fakeScorer
	batchCalls atomic.Int64
	sizes      []int
	mu         sync.Mutex
}

func (f *fakeBatchScorer) ScoreBatch(ctx context.Context, items []domain.SourceItem, topic string) ([]domain.Score, error) {
	f.batchCalls.Add(1)
	f.mu.Lock()
	f.sizes = append(f.sizes, len(items))
	f.mu.Unlock()
	out := make([]domain.Score, len(items))
	for i, it := range items {
		s, err := f.fn(ctx, it)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

type recordingReporter struct {
	mu        sync.Mutex
	steps     []string
	citations []string
}

func (r *recordingReporter) Step(entity, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, entity+": "+step)
}

func (r *recordingReporter) Citation(entity string, item domain.ItemScore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.citations = append(r.citations, entity+" "+item.Provenance.URL)
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

var _ ports.BatchScorer = (*fakeBatchScorer)(nil)
