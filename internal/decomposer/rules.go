package decomposer

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

var (
	analysisExpr = regexp.MustCompile(`(?i)^(?:please\s+)?(?:analy[sz]e|compare|track|measure)\s+(?:the\s+)?(?:sentiment|coverage|opinion|tone)\s+(?:on|about|of|around)\s+(.+?)\s+(?:across|in|for|between)\s+(.+?)$`)
	followUpExpr = regexp.MustCompile(`(?i)^(?:now\s+|and\s+)?(?:do|repeat|run)\s+(?:it|that|the same)(?:\s+again)?\s+(?:for|across|in)\s+(.+?)$`)
	windowExpr   = regexp.MustCompile(`(?i)\s+(?:over|in|for|during)\s+the\s+(?:last|past)\s+(\d+)\s+days?`)
	resultsExpr  = regexp.MustCompile(`(?i)\s*[,;]?\s*(?:using|with)\s+(?:up\s+to\s+)?(\d+)\s+(?:sources|results|articles)(?:\s+(?:each|per\s+entity))?`)
	listSepExpr  = regexp.MustCompile(`(?i)\s*(?:,|;|&|\band\b)\s*`)
)

// RuleExtractor recognizes a handful of fixed phrasings. It is the offline
// extractor used when no chat model is configured.
type RuleExtractor struct{}

var _ ports.Extractor = RuleExtractor{}

// Extract renders the same JSON document a chat-model extractor would return.
func (RuleExtractor) Extract(_ context.Context, text string, _ domain.SessionContext) ([]byte, error) {
	text = strings.TrimRight(strings.TrimSpace(text), ".!?")

	ex := extraction{Intent: intentReply}

	if m := windowExpr.FindStringSubmatch(text); m != nil {
		ex.WindowDays, _ = strconv.Atoi(m[1])
		text = windowExpr.ReplaceAllString(text, "")
	}
	if m := resultsExpr.FindStringSubmatch(text); m != nil {
		ex.ResultsPerEntity, _ = strconv.Atoi(m[1])
		text = resultsExpr.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)

	switch {
	case analysisExpr.MatchString(text):
		m := analysisExpr.FindStringSubmatch(text)
		ex.Intent = intentAnalysis
		ex.Topic = strings.TrimSpace(m[1])
		ex.Entities = splitList(m[2])
	case followUpExpr.MatchString(text):
		m := followUpExpr.FindStringSubmatch(text)
		ex.Intent = intentAnalysis
		ex.Entities = splitList(m[1])
	default:
		ex.WindowDays, ex.ResultsPerEntity = 0, 0
		ex.Reply = "I can analyze news sentiment on a topic across several entities, for example countries or companies."
		ex.Suggestions = defaultSuggestions
	}

	return json.Marshal(ex)
}

func splitList(s string) []string {
	parts := listSepExpr.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
