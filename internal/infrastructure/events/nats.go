// Package events mirrors job envelopes onto NATS subjects for external consumers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

// NATSMirror publishes each envelope to <prefix>.<jobId>.<type>.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
}

var _ ports.EnvelopeMirror = (*NATSMirror)(nil)

// Connect dials the server with reconnect logging.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("topicpulse"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSMirror wraps an established connection.
func NewNATSMirror(conn *nats.Conn, prefix string) *NATSMirror {
	if prefix == "" {
		prefix = "topicpulse.jobs"
	}
	return &NATSMirror{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an envelope is mirrored to.
func (m *NATSMirror) Subject(env domain.Envelope) string {
	return fmt.Sprintf("%s.%s.%s", m.prefix, token(env.JobID), token(string(env.Type)))
}

// Mirror publishes env without waiting for a server ack.
func (m *NATSMirror) Mirror(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := m.conn.Publish(m.Subject(env), data); err != nil {
		return fmt.Errorf("publish envelope %d: %w", env.Sequence, err)
	}
	return nil
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
