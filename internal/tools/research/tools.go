package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tablesearch/internal/governor"
	"tablesearch/internal/logging"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
)

// Tool names.
const (
	SearchToolName = "search"
	VisitToolName  = "visit"
)

// DefaultMaxLength caps the page text returned by visit.
const DefaultMaxLength = 40000

// SearchTool returns the budgeted web search tool.
func SearchTool(searcher Searcher, budget *governor.Governor, maxResults int) *tools.Tool {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &tools.Tool{
		Name: SearchToolName,
		Description: "Search the web and return a list of results with titles, URLs and snippets. " +
			"Each call consumes one unit of the shared search budget.",
		Category: tools.CategoryResearch,
		Priority: 75,
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        tools.TypeString,
					Description: "The search query",
				},
				"max_results": {
					Type:        tools.TypeInteger,
					Description: fmt.Sprintf("Maximum number of results to return (default: %d)", maxResults),
					Default:     maxResults,
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query := strings.TrimSpace(types.ArgString(args, "query"))
			if query == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			n := types.ArgInt(args, "max_results", maxResults)
			if n <= 0 || n > 30 {
				n = maxResults
			}

			if !budget.TryIncrement() {
				logging.Researcher("search refused (budget exhausted): %q", query)
				return governor.SearchRefusal(budget), nil
			}

			logging.ResearcherDebug("search via %s: query=%q max_results=%d", searcher.Name(), query, n)
			results, err := searcher.Search(ctx, query, n)
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}

			note := governor.BudgetNote("Search", budget)
			if len(results) == 0 {
				logging.Researcher("search returned no results for: %s", query)
				return "No results found for: " + query + "\n\n" + note, nil
			}
			logging.Researcher("search completed: %d results for %q", len(results), query)
			return formatResults(query, results) + note, nil
		},
	}
}

// VisitTool returns the budgeted page fetch tool. Pages are saved under pageDir when set.
func VisitTool(fetcher *Fetcher, budget *governor.Governor, maxLength int, pageDir string) *tools.Tool {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &tools.Tool{
		Name:        VisitToolName,
		Description: "Visit a webpage and read its content as markdown. Each call consumes one unit of the shared visit budget.",
		Category:    tools.CategoryResearch,
		Priority:    70,
		Schema: tools.ToolSchema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {
					Type:        tools.TypeString,
					Description: "The URL of the webpage to visit",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			url := strings.TrimSpace(types.ArgString(args, "url"))
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must start with http:// or https://, got %q", url)
			}

			if !budget.TryIncrement() {
				logging.Researcher("visit refused (budget exhausted): %s", url)
				return governor.VisitRefusal(budget), nil
			}

			page, err := fetcher.Fetch(ctx, url)
			if err != nil {
				var binErr *BinaryContentError
				if errors.As(err, &binErr) {
					return binErr.Error(), nil
				}
				return "", err
			}

			var sb strings.Builder
			sb.WriteString(truncateContent(page.Markdown, maxLength))
			if path, err := savePage(pageDir, url, page.Markdown); err != nil {
				logging.ResearcherWarn("failed to save page %s: %v", url, err)
			} else if path != "" {
				fmt.Fprintf(&sb, "\n\n_[Content saved to: %s]_", path)
			}
			if page.Source == "jina" {
				sb.WriteString("\n\n_[Content retrieved via Jina API]_")
			}
			sb.WriteString("\n\n_" + governor.BudgetNote("Webpage Visit", budget) + "_")

			logging.Researcher("visit completed: %s (%d chars, source=%s)", url, len(page.Markdown), page.Source)
			return sb.String(), nil
		},
	}
}

// Deps are the per-task dependencies of the research tools.
type Deps struct {
	Searcher   Searcher
	Fetcher    *Fetcher
	Search     *governor.Governor
	Visit      *governor.Governor
	MaxResults int
	MaxLength  int
	PageDir    string
}

// Tools returns the search and visit tools bound to deps.
func Tools(d Deps) []*tools.Tool {
	return []*tools.Tool{
		SearchTool(d.Searcher, d.Search, d.MaxResults),
		VisitTool(d.Fetcher, d.Visit, d.MaxLength, d.PageDir),
	}
}

// RegisterAll registers the research tools with the given registry.
func RegisterAll(registry *tools.Registry, d Deps) error {
	return registry.RegisterAll(Tools(d)...)
}
