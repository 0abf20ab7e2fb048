package domain

import (
	"fmt"
	"math"
	"time"
)

// SourceItem is one search hit for an entity.
type SourceItem struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// Score is the scoring collaborator's verdict on one item.
type Score struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Validate checks the ranges promised by the scoring contract.
func (s Score) Validate() error {
	if math.IsNaN(s.Value) || s.Value < -1 || s.Value > 1 {
		return fmt.Errorf("score value %v outside [-1, 1]", s.Value)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", s.Confidence)
	}
	return nil
}

// Provenance describes where a scored item came from.
type Provenance struct {
	SourceID    string  `json:"source_id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Credibility float64 `json:"credibility"`
	Leaning     string  `json:"leaning,omitempty"`
	Language    string  `json:"language,omitempty"`
}

// ItemScore ties a score to its provenance.
type ItemScore struct {
	Value      float64    `json:"value"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// EntityStatus is the terminal outcome of one entity worker.
type EntityStatus string

const (
	EntityOK       EntityStatus = "OK"
	EntityNoData   EntityStatus = "NO_DATA"
	EntityDegraded EntityStatus = "DEGRADED"
)

// BiasFlag tags a skew in the provenance of an entity's sources.
type BiasFlag string

const (
	BiasSingleSource   BiasFlag = "single_source"
	BiasSingleLeaning  BiasFlag = "single_leaning"
	BiasSingleLanguage BiasFlag = "single_language"
	BiasLowCredibility BiasFlag = "low_credibility"
	BiasLowSample      BiasFlag = "low_sample"
)

// EntityResult is produced once per entity and never changed afterwards.
type EntityResult struct {
	Entity         string       `json:"entity"`
	ItemScores     []ItemScore  `json:"item_scores"`
	AggregateScore float64      `json:"aggregate_score"`
	Confidence     float64      `json:"confidence"`
	BiasFlags      []BiasFlag   `json:"bias_flags,omitempty"`
	Status         EntityStatus `json:"status"`
	ItemsFound     int          `json:"items_found"`
	Error          string       `json:"error,omitempty"`
}

// Scored reports whether the entity counts toward job-level averages.
func (r EntityResult) Scored() bool {
	return r.Status == EntityOK || r.Status == EntityDegraded
}

// Clone returns a deep copy.
func (r EntityResult) Clone() EntityResult {
	r.ItemScores = append([]ItemScore(nil), r.ItemScores...)
	r.BiasFlags = append([]BiasFlag(nil), r.BiasFlags...)
	return r
}

// JobResult is attached to a job on COMPLETED.
type JobResult struct {
	Summary       string           `json:"summary"`
	OverallScore  float64          `json:"overall_score"`
	Confidence    float64          `json:"confidence"`
	EntityResults []EntityResult   `json:"entity_results"`
	Artifacts     []ArtifactHandle `json:"artifacts"`
}

// Clone returns a deep copy.
func (r JobResult) Clone() JobResult {
	entities := make([]EntityResult, len(r.EntityResults))
	for i, e := range r.EntityResults {
		entities[i] = e.Clone()
	}
	r.EntityResults = entities
	r.Artifacts = append([]ArtifactHandle(nil), r.Artifacts...)
	return r
}

// Entity returns the result for name, if present.
func (r JobResult) Entity(name string) (EntityResult, bool) {
	for _, e := range r.EntityResults {
		if e.Entity == name {
			return e, true
		}
	}
	return EntityResult{}, false
}
