package domain

import (
	"encoding/json"
	"time"
)

// EnvelopeType enumerates streaming message kinds.
type EnvelopeType string

const (
	EnvelopePing         EnvelopeType = "ping"
	EnvelopePong         EnvelopeType = "pong"
	EnvelopeStatus       EnvelopeType = "status"
	EnvelopeProgress     EnvelopeType = "progress"
	EnvelopePartialToken EnvelopeType = "partial_token"
	EnvelopeCitation     EnvelopeType = "citation"
	EnvelopeArtifact     EnvelopeType = "artifact"
	EnvelopeComplete     EnvelopeType = "complete"
	EnvelopeError        EnvelopeType = "error"
)

// Terminal reports whether t ends a job's stream.
func (t EnvelopeType) Terminal() bool {
	return t == EnvelopeComplete || t == EnvelopeError
}

// Envelope is the unit sent over the streaming channel.
// Payload is encoded once at creation, so an Envelope is immutable by value.
type Envelope struct {
	Type     EnvelopeType    `json:"type"`
	Sequence int64           `json:"sequence"`
	JobID    string          `json:"job_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload into an unsequenced envelope.
func NewEnvelope(t EnvelopeType, jobID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, JobID: jobID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// StatusPayload announces a lifecycle change or a resync.
type StatusPayload struct {
	Status   Status `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	Snapshot *Job   `json:"snapshot,omitempty"`
}

// ProgressPayload reports a completed sub-step of an entity worker.
type ProgressPayload struct {
	Entity            string `json:"entity,omitempty"`
	Step              string `json:"step"`
	CompletedEntities int    `json:"completed_entities"`
	TotalEntities     int    `json:"total_entities"`
}

// CitationPayload references a scored source.
type CitationPayload struct {
	Entity string  `json:"entity"`
	URL    string  `json:"url"`
	Title  string  `json:"title"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// TokenPayload carries a chunk of the streamed summary.
type TokenPayload struct {
	Text string `json:"text"`
}

// ErrorPayload ends a stream that did not complete.
type ErrorPayload struct {
	Status  Status `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingPayload is the heartbeat body.
type PingPayload struct {
	At time.Time `json:"at"`
}
