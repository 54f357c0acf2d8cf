package research

import (
	"tablesearch/internal/browser"
	"tablesearch/internal/config"
)

// NewSearcherFromConfig builds the configured searcher. Serper falls back to
// DuckDuckGo after its retries are spent.
func NewSearcherFromConfig(cfg *config.Config) Searcher {
	sc := cfg.Tools.Search
	timeout := cfg.GetSearchTimeout()
	ddg := NewDuckDuckGo("", timeout)
	switch sc.Provider {
	case "serper":
		return &Chain{Searchers: []Searcher{NewSerper(sc.Endpoint, sc.APIKey, timeout), ddg}, Attempts: 3}
	default:
		if sc.Endpoint != "" {
			ddg.Endpoint = sc.Endpoint
		}
		return &Chain{Searchers: []Searcher{ddg}, Attempts: 3}
	}
}

// NewFetcherFromConfig builds the page fetcher. The headless browser fallback
// is returned separately so the caller can shut it down.
func NewFetcherFromConfig(cfg *config.Config) (*Fetcher, *browser.SessionManager) {
	vc := cfg.Tools.Visit
	var sm *browser.SessionManager
	var renderer Renderer
	if vc.Browser {
		sm = browser.NewSessionManager(browser.DefaultConfig())
		renderer = sm
	}
	f := NewFetcher(FetcherConfig{
		Timeout:      cfg.GetVisitTimeout(),
		JinaEndpoint: vc.JinaEndpoint,
		JinaAPIKeys:  vc.JinaAPIKeys,
		CacheTTL:     cfg.GetCacheTTL(),
	}, renderer)
	return f, sm
}
