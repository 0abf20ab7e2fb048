// Package render asks an external renderer to build charts and reports for finished jobs.
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/infrastructure/httpjson"
	"TopicPulse/internal/ports"
)

// Client starts renders; the renderer reports completion to the callback URL.
type Client struct {
	endpoint    string
	callbackURL string
	http        *httpjson.Client
	newID       func() string
}

var _ ports.ArtifactProducer = (*Client)(nil)

// NewClient creates a renderer client.
func NewClient(cfg config.ArtifactConfig, timeout time.Duration) *Client {
	return &Client{
		endpoint:    strings.TrimRight(cfg.RendererURL, "/"),
		callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		http:        httpjson.New("renderer", "", timeout),
		newID:       uuid.NewString,
	}
}

type renderRequest struct {
	ArtifactID  string           `json:"artifact_id"`
	JobID       string           `json:"job_id"`
	Kind        string           `json:"kind"`
	CallbackURL string           `json:"callback_url"`
	Result      domain.JobResult `json:"result"`
}

// Produce submits the render and returns a GENERATING handle.
func (c *Client) Produce(ctx context.Context, jobID string, kind domain.ArtifactKind, result domain.JobResult) (domain.ArtifactHandle, error) {
	id := c.newID()
	req := renderRequest{
		ArtifactID:  id,
		JobID:       jobID,
		Kind:        string(kind),
		CallbackURL: c.CallbackURL(jobID, id),
		Result:      result,
	}
	if err := c.http.Post(ctx, c.endpoint+"/render", req, nil); err != nil {
		return domain.ArtifactHandle{}, fmt.Errorf("request %s render: %w", kind, err)
	}
	return domain.ArtifactHandle{
		ID:     id,
		JobID:  jobID,
		Kind:   kind,
		Status: domain.ArtifactGenerating,
	}, nil
}

// CallbackURL is where the renderer posts {status, locator} for one artifact.
func (c *Client) CallbackURL(jobID, artifactID string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/artifacts/%s", c.callbackURL, url.PathEscape(jobID), url.PathEscape(artifactID))
}
