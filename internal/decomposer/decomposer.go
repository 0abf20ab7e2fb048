// Package decomposer turns an analyst's free text into an AnalysisRequest or a direct reply.
package decomposer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/retry"
)

const (
	intentAnalysis = "analysis"
	intentReply    = "reply"

	unparsedReply = "I could not parse that request. Try naming a topic and the entities to compare."
)

var defaultSuggestions = []string{
	"Analyze sentiment on energy policy across France, Germany and Spain",
	"Compare coverage of the election across USA and Canada over the last 14 days",
}

// Limits bound what an extraction may request.
type Limits struct {
	DefaultResultsPerEntity int
	MaxResultsPerEntity     int
	MaxEntities             int
	DefaultWindowDays       int
	MaxWindowDays           int
}

// Decomposition is either a request awaiting confirmation or a direct reply.
type Decomposition struct {
	Request      *domain.AnalysisRequest `json:"parsed_intent,omitempty"`
	Confirmation string                  `json:"confirmation,omitempty"`
	DirectReply  string                  `json:"direct_reply,omitempty"`
	Suggestions  []string                `json:"suggestions,omitempty"`
}

// Deps wires the decomposer collaborators.
type Deps struct {
	Extractor ports.Extractor
	Limits    Limits
	Retry     retry.Policy
	Logger    *slog.Logger
	Now       func() time.Time
}

// Decomposer is stateless apart from its configuration.
type Decomposer struct {
	extractor ports.Extractor
	limits    Limits
	policy    retry.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a decomposer; a nil extractor falls back to the rule-based one.
func New(deps Deps) *Decomposer {
	extractor := deps.Extractor
	if extractor == nil {
		extractor = RuleExtractor{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	policy := deps.Retry
	policy.Retryable = func(err error) bool { return !domain.IsPermanent(err) }

	return &Decomposer{
		extractor: extractor,
		limits:    deps.Limits,
		policy:    policy,
		logger:    logger,
		now:       now,
	}
}

// extraction is the document the extraction collaborator must return.
type extraction struct {
	Intent           string   `json:"intent"`
	Topic            string   `json:"topic"`
	Entities         []string `json:"entities"`
	WindowDays       int      `json:"window_days"`
	ResultsPerEntity int      `json:"results_per_entity"`
	Reply            string   `json:"reply"`
	Suggestions      []string `json:"suggestions"`
}

var errShape = errors.New("extraction does not match the expected shape")

// Decompose never fails: collaborator errors and malformed output become a direct reply.
func (d *Decomposer) Decompose(ctx context.Context, text string, session domain.SessionContext) Decomposition {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decomposition{DirectReply: unparsedReply, Suggestions: defaultSuggestions}
	}

	var ex extraction
	err := retry.Do(ctx, d.policy, d.logger, func(attempt int) error {
		raw, err := d.extractor.Extract(ctx, text, session)
		if err != nil {
			return err
		}
		parsed, err := parseExtraction(raw)
		if err != nil {
			// Malformed collaborator output is retried like a transient failure.
			return domain.TransientError("extractor", err)
		}
		ex = parsed
		return nil
	})
	if err != nil {
		d.logger.Warn("extraction failed", "error", err)
		return Decomposition{DirectReply: unparsedReply, Suggestions: defaultSuggestions}
	}

	if ex.Intent == intentReply {
		reply := strings.TrimSpace(ex.Reply)
		if reply == "" {
			reply = unparsedReply
		}
		return Decomposition{DirectReply: reply, Suggestions: ex.Suggestions}
	}

	req, ok := d.build(ex, session)
	if !ok {
		return Decomposition{
			DirectReply: "I need a topic and at least one entity to compare before I can start.",
			Suggestions: defaultSuggestions,
		}
	}
	return Decomposition{Request: &req, Confirmation: Confirmation(req)}
}

// build applies session context, normalization and limits.
func (d *Decomposer) build(ex extraction, session domain.SessionContext) (domain.AnalysisRequest, bool) {
	topic := strings.TrimSpace(ex.Topic)
	if topic == "" {
		topic = session.LastTopic
	}
	entities := domain.NormalizeEntities(ex.Entities)
	if len(entities) == 0 {
		entities = domain.NormalizeEntities(session.LastEntities)
	}
	if d.limits.MaxEntities > 0 && len(entities) > d.limits.MaxEntities {
		entities = entities[:d.limits.MaxEntities]
	}

	days := ex.WindowDays
	if days <= 0 {
		days = session.LastWindowDays
	}

	req := domain.AnalysisRequest{
		Topic:            topic,
		Entities:         entities,
		Window:           domain.LastDays(d.now(), d.clampDays(days)),
		ResultsPerEntity: domain.ClampResults(ex.ResultsPerEntity, d.limits.DefaultResultsPerEntity, d.limits.MaxResultsPerEntity),
	}
	if err := req.Validate(); err != nil {
		d.logger.Debug("extraction rejected", "error", err)
		return domain.AnalysisRequest{}, false
	}
	return req, true
}

func (d *Decomposer) clampDays(days int) int {
	if days <= 0 {
		days = d.limits.DefaultWindowDays
	}
	if d.limits.MaxWindowDays > 0 && days > d.limits.MaxWindowDays {
		days = d.limits.MaxWindowDays
	}
	if days < 1 {
		days = 1
	}
	return days
}

// ApplyModifications re-applies normalization and limits to analyst edits made at confirmation.
func (d *Decomposer) ApplyModifications(req domain.AnalysisRequest, mods *domain.Modifications) (domain.AnalysisRequest, error) {
	out := req.Clone()
	if mods.Empty() {
		return out, nil
	}
	if mods.Topic != nil {
		out.Topic = strings.TrimSpace(*mods.Topic)
	}
	if len(mods.Entities) > 0 {
		out.Entities = domain.NormalizeEntities(mods.Entities)
		if d.limits.MaxEntities > 0 && len(out.Entities) > d.limits.MaxEntities {
			return domain.AnalysisRequest{}, &domain.ValidationError{
				Field:  "entities",
				Reason: fmt.Sprintf("at most %d entities are allowed", d.limits.MaxEntities),
			}
		}
	}
	if mods.WindowDays != nil {
		if *mods.WindowDays <= 0 {
			return domain.AnalysisRequest{}, &domain.ValidationError{Field: "window", Reason: "window_days must be positive"}
		}
		out.Window = domain.LastDays(d.now(), d.clampDays(*mods.WindowDays))
	}
	if mods.ResultsPerEntity != nil {
		out.ResultsPerEntity = domain.ClampResults(*mods.ResultsPerEntity, d.limits.DefaultResultsPerEntity, d.limits.MaxResultsPerEntity)
	}
	if err := out.Validate(); err != nil {
		return domain.AnalysisRequest{}, err
	}
	return out, nil
}

// Confirmation renders the prompt shown before a job starts.
func Confirmation(req domain.AnalysisRequest) string {
	return fmt.Sprintf("Analyze sentiment on %q across %s over the last %d days, using up to %d sources per entity. Proceed?",
		req.Topic, strings.Join(req.Entities, ", "), req.Window.Days(), req.ResultsPerEntity)
}

func parseExtraction(raw []byte) (extraction, error) {
	raw = bytes.TrimSpace(stripFence(raw))
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var ex extraction
	if err := dec.Decode(&ex); err != nil {
		return extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	if dec.More() {
		return extraction{}, fmt.Errorf("%w: trailing data", errShape)
	}

	switch ex.Intent {
	case intentAnalysis:
		if ex.WindowDays < 0 || ex.ResultsPerEntity < 0 {
			return extraction{}, fmt.Errorf("%w: negative bounds", errShape)
		}
	case intentReply:
	default:
		return extraction{}, fmt.Errorf("%w: intent %q", errShape, ex.Intent)
	}
	return ex, nil
}

// stripFence drops a surrounding ```json fence that chat models like to add.
func stripFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(s)
}
