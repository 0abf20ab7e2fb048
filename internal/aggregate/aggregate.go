// Package aggregate turns per-item scores into entity and job level results.
package aggregate

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"TopicPulse/internal/domain"
)

const (
	defaultLowCredibility = 0.4
	minSample             = 3
)

// Aggregator holds the tunables shared by every job.
type Aggregator struct {
	TrimFraction   float64
	LowCredibility float64
}

// New returns an Aggregator trimming fraction of the scores from each end.
func New(trimFraction float64) *Aggregator {
	return &Aggregator{TrimFraction: trimFraction, LowCredibility: defaultLowCredibility}
}

// Mean is the arithmetic mean; zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// TrimmedMean sorts values, drops floor(n*fraction) from each end and averages the rest.
// Fewer than three values are averaged untrimmed.
func TrimmedMean(values []float64, fraction float64) float64 {
	n := len(values)
	if n < minSample {
		return Mean(values)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	k := int(math.Floor(float64(n)*fraction + 1e-9))
	if k < 0 {
		k = 0
	}
	if n-2*k < 1 {
		k = (n - 1) / 2
	}
	return Mean(sorted[k : n-k])
}

// Entity fills the derived fields of an entity result from its item scores.
// found is the number of search hits; status is decided by the worker.
func (a *Aggregator) Entity(entity string, items []domain.ItemScore, found int, status domain.EntityStatus, errText string) domain.EntityResult {
	res := domain.EntityResult{
		Entity:     entity,
		ItemScores: slices.Clone(items),
		Status:     status,
		ItemsFound: found,
		Error:      errText,
	}
	if status == domain.EntityNoData || len(items) == 0 {
		res.ItemScores = []domain.ItemScore{}
		return res
	}

	values := make([]float64, len(items))
	confidences := make([]float64, len(items))
	for i, it := range items {
		values[i] = clamp(it.Value, -1, 1)
		confidences[i] = clamp(it.Confidence, 0, 1)
	}

	res.AggregateScore = clamp(TrimmedMean(values, a.TrimFraction), -1, 1)

	coverage := 1.0
	if found > len(items) {
		coverage = float64(len(items)) / float64(found)
	}
	res.Confidence = clamp(Mean(confidences)*coverage, 0, 1)
	res.BiasFlags = a.BiasFlags(items)
	return res
}

// BiasFlags classifies the provenance distribution of an entity's sources.
// It never looks at score values.
func (a *Aggregator) BiasFlags(items []domain.ItemScore) []domain.BiasFlag {
	var flags []domain.BiasFlag
	if len(items) == 0 {
		return flags
	}
	if len(items) < minSample {
		flags = append(flags, domain.BiasLowSample)
	}

	sources := map[string]struct{}{}
	leanings := map[string]struct{}{}
	languages := map[string]struct{}{}
	var knownLeaning, knownLanguage int
	credibility := make([]float64, 0, len(items))
	for _, it := range items {
		p := it.Provenance
		sources[p.SourceID] = struct{}{}
		if p.Leaning != "" {
			leanings[p.Leaning] = struct{}{}
			knownLeaning++
		}
		if p.Language != "" {
			languages[strings.ToLower(p.Language)] = struct{}{}
			knownLanguage++
		}
		credibility = append(credibility, p.Credibility)
	}

	if len(items) >= 2 && len(sources) == 1 {
		flags = append(flags, domain.BiasSingleSource)
	}
	if knownLeaning >= 2 && knownLeaning == len(items) && len(leanings) == 1 {
		flags = append(flags, domain.BiasSingleLeaning)
	}
	if knownLanguage >= 2 && knownLanguage == len(items) && len(languages) == 1 {
		flags = append(flags, domain.BiasSingleLanguage)
	}
	if Mean(credibility) < a.LowCredibility {
		flags = append(flags, domain.BiasLowCredibility)
	}
	return flags
}

// Job combines entity results into the job result. NO_DATA entities are listed
// but excluded from overallScore and confidence.
func (a *Aggregator) Job(req domain.AnalysisRequest, entities []domain.EntityResult) domain.JobResult {
	var scores, confidences []float64
	for _, e := range entities {
		if e.Scored() {
			scores = append(scores, e.AggregateScore)
			confidences = append(confidences, e.Confidence)
		}
	}

	res := domain.JobResult{
		OverallScore:  Mean(scores),
		Confidence:    clamp(Mean(confidences), 0, 1),
		EntityResults: entities,
		Artifacts:     []domain.ArtifactHandle{},
	}
	res.Summary = Summary(req, res)
	return res
}

// Summary renders the deterministic template used when no summarizer is configured.
func Summary(req domain.AnalysisRequest, res domain.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sentiment on %q across %d entities (last %d days): overall %+.2f, confidence %.2f.\n",
		req.Topic, len(res.EntityResults), req.Window.Days(), res.OverallScore, res.Confidence)

	for _, e := range res.EntityResults {
		switch e.Status {
		case domain.EntityNoData:
			fmt.Fprintf(&b, "- %s: no data\n", e.Entity)
		default:
			fmt.Fprintf(&b, "- %s: %+.2f (%s, %d of %d sources scored)", e.Entity, e.AggregateScore, e.Status, len(e.ItemScores), e.ItemsFound)
			if len(e.BiasFlags) > 0 {
				flags := make([]string, len(e.BiasFlags))
				for i, f := range e.BiasFlags {
					flags[i] = string(f)
				}
				fmt.Fprintf(&b, " [%s]", strings.Join(flags, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
