package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/infrastructure/httpjson"
	"TopicPulse/internal/ports"
)

const collaborator = "chatgpt"

const extractionSchema = `Reply with one JSON object and nothing else, using exactly these fields:
{"intent": "analysis" or "reply", "topic": string, "entities": [string], "window_days": int,
"results_per_entity": int, "reply": string, "suggestions": [string]}.
Use intent "reply" with a short answer in "reply" when the message is not a sentiment analysis request.
Omit numbers the analyst did not state by setting them to 0.`

const summaryPrompt = "You write concise, neutral summaries of news sentiment analyses. " +
	"Mention the overall tone, the most positive and most negative entities and any bias warnings. Plain text, at most 120 words."

var errNoChoices = errors.New("response has no choices")

// ChatGPTClient serves query extraction and summaries through OpenAI-compatible chat completions.
type ChatGPTClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	http         *httpjson.Client
}

var (
	_ ports.Extractor  = (*ChatGPTClient)(nil)
	_ ports.Summarizer = (*ChatGPTClient)(nil)
)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig, timeout time.Duration) *ChatGPTClient {
	return &ChatGPTClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		http:         httpjson.New(collaborator, cfg.APIKey, timeout),
	}
}

// Configured reports whether the client has everything needed to call the API.
func (c *ChatGPTClient) Configured() bool {
	return c != nil && c.apiKey != "" && c.endpoint != "" && c.model != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Extract returns the raw JSON extraction document for text.
func (c *ChatGPTClient) Extract(ctx context.Context, text string, session domain.SessionContext) ([]byte, error) {
	user := text
	if session.LastTopic != "" || len(session.LastEntities) > 0 {
		prev, err := json.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		user = fmt.Sprintf("Previous request: %s\nMessage: %s", prev, text)
	}

	content, err := c.complete(ctx, safePrompt(c.systemPrompt)+"\n"+extractionSchema, user, true)
	if err != nil {
		return nil, fmt.Errorf("extract request: %w", err)
	}
	return []byte(content), nil
}

// Summarize writes a short narrative for a finished job.
func (c *ChatGPTClient) Summarize(ctx context.Context, req domain.AnalysisRequest, result domain.JobResult) (string, error) {
	digest, err := json.Marshal(summaryInput(req, result))
	if err != nil {
		return "", fmt.Errorf("marshal summary input: %w", err)
	}
	content, err := c.complete(ctx, summaryPrompt, string(digest), false)
	if err != nil {
		return "", fmt.Errorf("summarize job: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *ChatGPTClient) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if !c.Configured() {
		return "", domain.PermanentError(collaborator, fmt.Errorf("chatgpt client misconfigured"))
	}

	req := completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp completionResponse
	if err := c.http.Post(ctx, c.endpoint, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.TransientError(collaborator, errNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}

type entityDigest struct {
	Entity     string   `json:"entity"`
	Status     string   `json:"status"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Sources    int      `json:"sources"`
	BiasFlags  []string `json:"bias_flags,omitempty"`
}

// summaryInput keeps the prompt small: no per-item scores.
func summaryInput(req domain.AnalysisRequest, result domain.JobResult) map[string]any {
	entities := make([]entityDigest, 0, len(result.EntityResults))
	for _, e := range result.EntityResults {
		flags := make([]string, len(e.BiasFlags))
		for i, f := range e.BiasFlags {
			flags[i] = string(f)
		}
		entities = append(entities, entityDigest{
			Entity:     e.Entity,
			Status:     string(e.Status),
			Score:      e.AggregateScore,
			Confidence: e.Confidence,
			Sources:    len(e.ItemScores),
			BiasFlags:  flags,
		})
	}
	return map[string]any{
		"topic":       req.Topic,
		"window_days": req.Window.Days(),
		"overall":     result.OverallScore,
		"confidence":  result.Confidence,
		"entities":    entities,
	}
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You turn analyst requests into structured sentiment analysis parameters."
	}
	return prompt
}
