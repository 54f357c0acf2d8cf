package research

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tablesearch/internal/logging"
)

// binaryMIMETypes maps content types that cannot be read as text to a label.
var binaryMIMETypes = []struct{ mime, label string }{
	{"application/pdf", "PDF document"},
	{"image/png", "PNG image"},
	{"image/jpeg", "JPEG image"},
	{"image/jpg", "JPEG image"},
	{"image/gif", "GIF image"},
	{"image/webp", "WebP image"},
	{"image/svg+xml", "SVG image"},
	{"application/zip", "ZIP archive"},
	{"application/x-zip-compressed", "ZIP archive"},
	{"application/octet-stream", "binary file"},
	{"video/mp4", "MP4 video"},
	{"video/mpeg", "MPEG video"},
	{"audio/mpeg", "MP3 audio"},
	{"audio/wav", "WAV audio"},
}

func binaryKind(contentType string) string {
	ct := strings.ToLower(contentType)
	for _, b := range binaryMIMETypes {
		if strings.Contains(ct, b.mime) {
			return b.label
		}
	}
	return ""
}

// BinaryContentError is returned for URLs that point at non-text content.
type BinaryContentError struct {
	Kind string
}

func (e *BinaryContentError) Error() string {
	return fmt.Sprintf("This URL points to a %s. Please use an appropriate tool to access this type "+
		"of content (e.g., PDF reader for PDFs, image analysis tools for images).", e.Kind)
}

// Page is a fetched page converted to markdown.
type Page struct {
	URL      string
	Markdown string
	Source   string // direct, jina, browser, cache
}

// Renderer renders a page in a real browser and returns its HTML.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout      time.Duration
	JinaEndpoint string // default https://r.jina.ai/
	JinaAPIKeys  []string
	CacheTTL     time.Duration
}

// Fetcher retrieves pages directly, falling back to the Jina reader (rotating
// keys) and then to a headless browser.
type Fetcher struct {
	client       *http.Client
	jinaEndpoint string
	jinaKeys     []string
	renderer     Renderer
	cache        *PageCache

	mu      sync.Mutex
	nextKey int
}

// NewFetcher creates a Fetcher. renderer may be nil.
func NewFetcher(cfg FetcherConfig, renderer Renderer) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.JinaEndpoint == "" {
		cfg.JinaEndpoint = "https://r.jina.ai/"
	}
	var cache *PageCache
	if cfg.CacheTTL > 0 {
		cache = NewPageCache(500, cfg.CacheTTL)
	}
	return &Fetcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		jinaEndpoint: cfg.JinaEndpoint,
		jinaKeys:     cfg.JinaAPIKeys,
		renderer:     renderer,
		cache:        cache,
	}
}

// Fetch returns url as markdown. Binary content yields *BinaryContentError
// without trying the fallbacks.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	key := cacheKey(url)
	if f.cache != nil {
		if entry, ok := f.cache.Get(key); ok {
			logging.ResearcherDebug("page cache hit: %s (source=%s)", url, entry.Source)
			return &Page{URL: url, Markdown: entry.Value, Source: "cache"}, nil
		}
	}

	page, err := f.fetchDirect(ctx, url)
	var binErr *BinaryContentError
	if errors.As(err, &binErr) {
		return nil, err
	}
	if err != nil || strings.TrimSpace(page.Markdown) == "" {
		directErr := err
		if directErr == nil {
			directErr = errors.New("empty page")
		}
		logging.ResearcherDebug("direct fetch failed for %s: %v", url, directErr)

		page, err = f.fetchJina(ctx, url)
		if err != nil && f.renderer != nil {
			logging.ResearcherDebug("jina fetch failed for %s: %v", url, err)
			page, err = f.fetchBrowser(ctx, url)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch the webpage: direct error: %v; fallback error: %w", directErr, err)
		}
	}

	if f.cache != nil {
		f.cache.Set(key, page.Markdown, page.Source)
	}
	return page, nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if kind := binaryKind(contentType); kind != "" {
		return nil, &BinaryContentError{Kind: kind}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // 4MB limit
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		return &Page{URL: url, Markdown: strings.TrimSpace(string(body)), Source: "direct"}, nil
	}

	md, err := htmlToMarkdown(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to convert to markdown: %w", err)
	}
	return &Page{URL: url, Markdown: md, Source: "direct"}, nil
}

// fetchJina tries each key once, starting from the key after the last one
// that was used, so consecutive calls spread load across keys.
func (f *Fetcher) fetchJina(ctx context.Context, url string) (*Page, error) {
	if len(f.jinaKeys) == 0 {
		return nil, errors.New("no jina keys configured")
	}

	f.mu.Lock()
	start := f.nextKey
	f.nextKey = (f.nextKey + 1) % len(f.jinaKeys)
	f.mu.Unlock()

	var lastErr error
	for i := 0; i < len(f.jinaKeys); i++ {
		key := f.jinaKeys[(start+i)%len(f.jinaKeys)]
		req, err := http.NewRequestWithContext(ctx, "GET", f.jinaEndpoint+url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("X-Return-Format", "markdown")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jina HTTP %d", resp.StatusCode)
			continue
		}
		if text := strings.TrimSpace(string(body)); text != "" {
			return &Page{URL: url, Markdown: text, Source: "jina"}, nil
		}
		lastErr = errors.New("jina returned empty content")
	}
	return nil, lastErr
}

func (f *Fetcher) fetchBrowser(ctx context.Context, url string) (*Page, error) {
	raw, err := f.renderer.Render(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("browser render: %w", err)
	}
	md, err := htmlToMarkdown(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to markdown: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return nil, errors.New("browser render returned empty content")
	}
	return &Page{URL: url, Markdown: md, Source: "browser"}, nil
}

var wordPattern = regexp.MustCompile(`\w+`)

// savePage writes content under dir named after its first words and a short
// content hash. Returns the written path.
func savePage(dir, url, content string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	head := content
	if len(head) > 200 {
		head = head[:200]
	}
	words := wordPattern.FindAllString(head, 5)
	prefix := strings.Join(words, "_")
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	if prefix == "" {
		prefix = "page"
	}
	sum := md5.Sum([]byte(content))
	path := filepath.Join(dir, prefix+"_"+hex.EncodeToString(sum[:])[:4]+".md")

	data := "# Source URL: " + url + "\n\n" + content
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// truncateContent caps content at max characters with a visible marker.
func truncateContent(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + fmt.Sprintf("\n..._This content has been truncated to stay below %d characters_...\n", max)
}
