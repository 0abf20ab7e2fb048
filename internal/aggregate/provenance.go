package aggregate

import (
	"net/url"
	"strings"

	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
)

const defaultCredibility = 0.5

// SourceInfo is what the catalog knows about a publisher.
type SourceInfo struct {
	Credibility float64
	Leaning     string
	Language    string
}

// Catalog resolves a source URL to provenance metadata.
type Catalog struct {
	sources map[string]SourceInfo
}

// NewCatalog builds a catalog from configured sources keyed by domain.
func NewCatalog(sources []config.SourceConfig) *Catalog {
	c := &Catalog{sources: make(map[string]SourceInfo, len(sources))}
	for _, s := range sources {
		host := normalizeHost(s.Domain)
		if host == "" {
			continue
		}
		c.sources[host] = SourceInfo{Credibility: s.Credibility, Leaning: s.Leaning, Language: s.Language}
	}
	return c
}

// Provenance describes item. Unknown sources get neutral credibility;
// a language reported by the search collaborator wins over the catalog.
func (c *Catalog) Provenance(item domain.SourceItem) domain.Provenance {
	id := SourceID(item.URL)
	p := domain.Provenance{
		SourceID:    id,
		URL:         item.URL,
		Title:       item.Title,
		Credibility: defaultCredibility,
		Language:    item.Language,
	}
	if c == nil {
		return p
	}
	info, ok := c.lookup(id)
	if !ok {
		return p
	}
	p.Credibility = info.Credibility
	p.Leaning = info.Leaning
	if p.Language == "" {
		p.Language = info.Language
	}
	return p
}

// lookup matches the host or any parent domain ("eu.example.com" → "example.com").
func (c *Catalog) lookup(host string) (SourceInfo, bool) {
	for host != "" {
		if info, ok := c.sources[host]; ok {
			return info, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return SourceInfo{}, false
}

// SourceID is the lower-cased host of rawURL without a leading "www.".
func SourceID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return normalizeHost(rawURL)
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "www.")
}
