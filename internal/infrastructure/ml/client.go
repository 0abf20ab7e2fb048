package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/infrastructure/httpjson"
	"TopicPulse/internal/ports"
)

const collaborator = "ml"

var errMissingFields = errors.New("score response is missing value or confidence")

// Client talks to an external ML service that rates items against a topic.
type Client struct {
	endpoint string
	http     *httpjson.Client
}

// BatchClient additionally scores several items in one request.
type BatchClient struct {
	*Client
}

var (
	_ ports.Scorer      = (*Client)(nil)
	_ ports.BatchScorer = (*BatchClient)(nil)
)

// NewClient creates a reusable scoring client.
func NewClient(cfg config.MLConfig, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.InferenceURL, "/"),
		http:     httpjson.New(collaborator, cfg.APIKey, timeout),
	}
}

// NewScorer returns a batch-capable scorer when the service supports it.
func NewScorer(cfg config.MLConfig, timeout time.Duration) ports.Scorer {
	c := NewClient(cfg, timeout)
	if cfg.Batch {
		return &BatchClient{Client: c}
	}
	return c
}

type itemPayload struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Language string `json:"language,omitempty"`
}

type scoreRequest struct {
	Topic string      `json:"topic"`
	Item  itemPayload `json:"item"`
}

type batchRequest struct {
	Topic string        `json:"topic"`
	Items []itemPayload `json:"items"`
}

// scoreResponse uses pointers so an absent field is distinguishable from zero.
type scoreResponse struct {
	Value      *float64 `json:"value"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func (r scoreResponse) score() (domain.Score, error) {
	if r.Value == nil || r.Confidence == nil {
		return domain.Score{}, domain.TransientError(collaborator, errMissingFields)
	}
	return domain.Score{Value: *r.Value, Confidence: *r.Confidence, Reasoning: r.Reasoning}, nil
}

// Score sends one item for rating.
func (c *Client) Score(ctx context.Context, item domain.SourceItem, topic string) (domain.Score, error) {
	var resp scoreResponse
	if err := c.http.Post(ctx, c.endpoint+"/score", scoreRequest{Topic: topic, Item: toPayload(item)}, &resp); err != nil {
		return domain.Score{}, fmt.Errorf("score %s: %w", item.URL, err)
	}
	return resp.score()
}

// ScoreBatch rates items in one call; the response must align with items.
func (c *BatchClient) ScoreBatch(ctx context.Context, items []domain.SourceItem, topic string) ([]domain.Score, error) {
	req := batchRequest{Topic: topic, Items: make([]itemPayload, len(items))}
	for i, it := range items {
		req.Items[i] = toPayload(it)
	}

	var resp struct {
		Scores []scoreResponse `json:"scores"`
	}
	if err := c.http.Post(ctx, c.endpoint+"/score/batch", req, &resp); err != nil {
		return nil, fmt.Errorf("score batch of %d: %w", len(items), err)
	}
	if len(resp.Scores) != len(items) {
		return nil, domain.TransientError(collaborator, fmt.Errorf("batch returned %d scores for %d items", len(resp.Scores), len(items)))
	}

	out := make([]domain.Score, len(resp.Scores))
	for i, r := range resp.Scores {
		s, err := r.score()
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func toPayload(item domain.SourceItem) itemPayload {
	return itemPayload{URL: item.URL, Title: item.Title, Snippet: item.Snippet, Language: item.Language}
}
