package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

const collaborator = "search"

var errNoProviders = errors.New("no search providers configured")

// FanOut implements ports.Searcher over every registered provider.
// Results are merged in registration order, deduplicated by URL and
// filtered to the request window.
type FanOut struct {
	registry *Registry
	logger   *slog.Logger
}

var _ ports.Searcher = (*FanOut)(nil)

// NewFanOut wires the registry into a single searcher.
func NewFanOut(reg *Registry, logger *slog.Logger) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{registry: reg, logger: logger.With("component", "search")}
}

// Search fails only when every provider fails. The error is transient
// unless all failures were permanent.
func (f *FanOut) Search(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
	if f.registry == nil || f.registry.Len() == 0 {
		return nil, domain.PermanentError(collaborator, errNoProviders)
	}

	var (
		merged    []domain.SourceItem
		seen      = map[string]struct{}{}
		failures  []string
		transient bool
	)
	for _, name := range f.registry.Names() {
		p, err := f.registry.Resolve(name)
		if err != nil {
			return nil, domain.PermanentError(collaborator, err)
		}

		items, err := p.Search(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Warn("provider failed", "provider", name, "entity", q.Entity, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			transient = transient || !domain.IsPermanent(err)
			continue
		}
		f.logger.Debug("provider produced items", "provider", name, "entity", q.Entity, "count", len(items))

		for _, it := range items {
			if !inWindow(it, q.Window) {
				continue
			}
			key := canonicalURL(it.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, it)
		}
	}

	if len(failures) == f.registry.Len() {
		err := fmt.Errorf("all %d providers failed: %s", len(failures), strings.Join(failures, "; "))
		if transient {
			return nil, domain.TransientError(collaborator, err)
		}
		return nil, domain.PermanentError(collaborator, err)
	}

	if q.MaxResults > 0 && len(merged) > q.MaxResults {
		merged = merged[:q.MaxResults]
	}
	return merged, nil
}

func inWindow(it domain.SourceItem, w domain.Window) bool {
	if it.PublishedAt == nil || w.From.IsZero() {
		return true
	}
	at := *it.PublishedAt
	return !at.Before(w.From) && !at.After(w.To)
}

// canonicalURL lowercases scheme and host and drops fragments and trailing slashes.
func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
