// Package htmlsearch scrapes configured news search pages with CSS selectors.
package htmlsearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"TopicPulse/internal/config"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/infrastructure/httpjson"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/search"
)

const userAgent = "TopicPulse/1.0"

// Provider reads one search results page per query.
type Provider struct {
	site    config.SiteConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ search.Provider = (*Provider)(nil)

// NewProvider wires one site; a nil limiter disables throttling.
func NewProvider(site config.SiteConfig, client *http.Client, limiter *rate.Limiter) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	site.Selectors = withDefaults(site.Selectors)
	return &Provider{site: site, client: client, limiter: limiter}
}

// NewProviders builds a provider per configured site sharing a single limiter.
func NewProviders(cfg config.SearchConfig, timeout time.Duration) []*Provider {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	client := &http.Client{Timeout: timeout}

	providers := make([]*Provider, 0, len(cfg.Sites))
	for _, site := range cfg.Sites {
		providers = append(providers, NewProvider(site, client, limiter))
	}
	return providers
}

// Name identifies the site inside the registry.
func (p *Provider) Name() string {
	return p.site.Name
}

// Search fetches the results page for the entity and extracts items in the window.
func (p *Provider) Search(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error) {
	pageURL, err := buildSearchURL(p.site.URL, q)
	if err != nil {
		return nil, domain.PermanentError(p.site.Name, err)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, domain.TransientError(p.site.Name, fmt.Errorf("rate limit: %w", err))
		}
	}

	doc, err := p.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	items := p.extractItems(doc, base, q.Window)
	if q.MaxResults > 0 && len(items) > q.MaxResults {
		items = items[:q.MaxResults]
	}
	return items, nil
}

func (p *Provider) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, domain.PermanentError(p.site.Name, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")
	for k, v := range p.site.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.TransientError(p.site.Name, fmt.Errorf("request document: %w", err))
	}
	defer resp.Body.Close()

	if err := httpjson.StatusError(p.site.Name, resp); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, domain.TransientError(p.site.Name, fmt.Errorf("parse document: %w", err))
	}
	return doc, nil
}

func (p *Provider) extractItems(doc *goquery.Document, base *url.URL, window domain.Window) []domain.SourceItem {
	sel := p.site.Selectors
	var items []domain.SourceItem

	doc.Find(sel.Result).Each(func(_ int, node *goquery.Selection) {
		link := node.Find(sel.Link).First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := resolveLink(base, href)
		if err != nil {
			return
		}

		title := cleanText(node.Find(sel.Title).First().Text())
		if title == "" {
			title = cleanText(link.Text())
		}
		if title == "" {
			return
		}

		item := domain.SourceItem{
			URL:      resolved,
			Title:    title,
			Language: p.site.Language,
		}
		if sel.Snippet != "" {
			item.Snippet = cleanText(node.Find(sel.Snippet).First().Text())
		}
		if sel.Date != "" {
			if at, ok := p.parseDate(node.Find(sel.Date).First()); ok {
				if !window.From.IsZero() && (at.Before(window.From) || at.After(window.To)) {
					return
				}
				item.PublishedAt = &at
			}
		}
		items = append(items, item)
	})
	return items
}

// parseDate prefers a machine readable datetime attribute over the visible text.
func (p *Provider) parseDate(node *goquery.Selection) (time.Time, bool) {
	if attr, ok := node.Attr("datetime"); ok {
		if at, err := time.Parse(time.RFC3339, strings.TrimSpace(attr)); err == nil {
			return at.UTC(), true
		}
	}
	text := cleanText(node.Text())
	if text == "" {
		return time.Time{}, false
	}
	layout := p.site.DateLayout
	if layout == "" {
		layout = time.RFC3339
	}
	at, err := time.Parse(layout, text)
	if err != nil {
		return time.Time{}, false
	}
	return at.UTC(), true
}

func withDefaults(sel config.SelectorConfig) config.SelectorConfig {
	if sel.Result == "" {
		sel.Result = "article"
	}
	if sel.Link == "" {
		sel.Link = "a[href]"
	}
	if sel.Title == "" {
		sel.Title = sel.Link
	}
	return sel
}

// buildSearchURL fills {query}, {from}, {to} and {limit} placeholders. A
// template without {query} gets a q parameter instead.
func buildSearchURL(tmpl string, q ports.SearchQuery) (string, error) {
	terms := strings.TrimSpace(q.Entity + " " + q.Topic)
	replacer := strings.NewReplacer(
		"{query}", url.QueryEscape(terms),
		"{from}", q.Window.From.Format("2006-01-02"),
		"{to}", q.Window.To.Format("2006-01-02"),
		"{limit}", strconv.Itoa(q.MaxResults),
	)
	raw := replacer.Replace(tmpl)

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid search url %q", tmpl)
	}
	if !strings.Contains(tmpl, "{query}") {
		query := parsed.Query()
		query.Set("q", terms)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func resolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("unsupported link %q", href)
	}
	return ref.String(), nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
