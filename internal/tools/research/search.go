package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"tablesearch/internal/logging"
)

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// Searcher runs one web search.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// =============================================================================
// DUCKDUCKGO (HTML, no key)
// =============================================================================

// DuckDuckGo searches through the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	Endpoint string // default https://html.duckduckgo.com/html/
	Client   *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(endpoint string, timeout time.Duration) *DuckDuckGo {
	if endpoint == "" {
		endpoint = "https://html.duckduckgo.com/html/"
	}
	return &DuckDuckGo{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search performs a search using DuckDuckGo HTML interface.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := d.Endpoint + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers to look like a browser
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseDuckDuckGoResults(string(body), maxResults)
}

// parseDuckDuckGoResults extracts up to maxResults results from the HTML
// endpoint's page. Each result is a div carrying the results_links class
// with a result__a title link and a result__snippet.
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	walkHTML(doc, func(n *html.Node) bool {
		if len(results) >= maxResults {
			return false
		}
		if !isElement(n, "div") || !hasClass(n, "results_links") {
			return true
		}
		var r SearchResult
		walkHTML(n, func(c *html.Node) bool {
			switch {
			case isElement(c, "a") && hasClass(c, "result__a"):
				r.URL = unwrapRedirect(getAttr(c, "href"))
				r.Title = getTextContent(c)
			case hasClass(c, "result__snippet"):
				r.Snippet = getTextContent(c)
			}
			return true
		})
		if r.URL != "" && r.Title != "" {
			results = append(results, r)
		}
		return false
	})
	return results, nil
}

// unwrapRedirect returns the target of a //duckduckgo.com/l/?uddg= link.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// walkHTML visits n and its descendants depth first. Returning false from
// visit skips the node's children.
func walkHTML(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, visit)
	}
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// hasClass reports whether class is one of n's class tokens.
func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// getTextContent returns the text under n with whitespace collapsed.
func getTextContent(n *html.Node) string {
	var words []string
	walkHTML(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			words = append(words, strings.Fields(c.Data)...)
		}
		return true
	})
	return strings.Join(words, " ")
}

// =============================================================================
// SERPER (Google results over a JSON API)
// =============================================================================

// Serper searches through a Serper-compatible JSON endpoint.
type Serper struct {
	Endpoint string // default https://google.serper.dev/search
	APIKey   string
	Client   *http.Client
}

// NewSerper creates a Serper searcher.
func NewSerper(endpoint, apiKey string, timeout time.Duration) *Serper {
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	return &Serper{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (s *Serper) Name() string { return "serper" }

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic"`
	Message string `json:"message"`
}

// Search posts the query and reads the organic results.
func (s *Serper) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if s.APIKey == "" {
		return nil, errors.New("serper API key not configured")
	}
	payload, _ := json.Marshal(map[string]interface{}{"q": query, "num": maxResults})

	req, err := http.NewRequestWithContext(ctx, "POST", s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed serperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Organic))
	for _, o := range parsed.Organic {
		if len(results) >= maxResults {
			break
		}
		results = append(results, SearchResult{Title: o.Title, URL: o.Link, Snippet: o.Snippet, Date: o.Date})
	}
	return results, nil
}

// =============================================================================
// RETRY + FALLBACK
// =============================================================================

// Chain tries each searcher in turn, retrying each up to Attempts times.
type Chain struct {
	Searchers []Searcher
	Attempts  int
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.Searchers))
	for _, s := range c.Searchers {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

// Search returns the first successful result set.
func (c *Chain) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var errs []error
	for _, s := range c.Searchers {
		for i := 1; i <= attempts; i++ {
			results, err := s.Search(ctx, query, maxResults)
			if err == nil {
				return results, nil
			}
			logging.ResearcherWarn("%s search attempt %d/%d failed: %v", s.Name(), i, attempts, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			if ctx.Err() != nil {
				return nil, errors.Join(errs...)
			}
		}
	}
	return nil, errors.Join(errs...)
}

// formatResults renders results as markdown for the model.
func formatResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search Results for: %s\n\n", query)
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))

	for i, result := range results {
		fmt.Fprintf(&sb, "## %d. %s\n", i+1, result.Title)
		fmt.Fprintf(&sb, "**URL:** %s\n", result.URL)
		if result.Date != "" {
			fmt.Fprintf(&sb, "**Date:** %s\n", result.Date)
		}
		if result.Snippet != "" {
			fmt.Fprintf(&sb, "\n%s\n", result.Snippet)
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}
