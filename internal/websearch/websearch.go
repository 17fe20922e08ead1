// Package websearch implements the internal/llm.WebSearcher the chat
// handler calls into for a `web_query` (spec.md §4.8 step 4), grounded on
// original_source/worker/services/search_service.py's shape (an
// availability check plus a search call that renders results into one
// condensed context string) and on internal/provider/ollama/client.go's
// http.Client-plus-gjson pattern for a lightweight HTTP+JSON API client.
// DuckDuckGo's free Instant Answer JSON API stands in for the original's
// duckduckgo_search library dependency, since no such client library is
// in the example pack; gjson (already a direct dependency, used the same
// way across every provider client) navigates the response without a
// bespoke struct.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL = "https://api.duckduckgo.com/"
	maxBodyBytes   = 2 << 20
)

// Searcher queries DuckDuckGo's Instant Answer API and renders the
// results into one context string suitable for prompt injection.
type Searcher struct {
	baseURL string
	http    *http.Client
}

// New returns a Searcher with a bounded HTTP client.
func New() *Searcher {
	return &Searcher{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// IsAvailable reports whether web search is wired up. Always true here
// since the API needs no credentials, kept as a method so the dispatcher's
// web_search_available command has something to call through an
// interface rather than hardcoding "true".
func (s *Searcher) IsAvailable() bool { return true }

// Search queries query and renders up to maxResults related topics as a
// single "--- WEB RESULTS ---" block, matching the shape the original
// condensed-context renderer produced.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) (string, error) {
	u := s.baseURL + "?q=" + url.QueryEscape(query) + "&format=json&no_html=1&skip_disambig=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("web search: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("web search: read response: %w", err)
	}

	var b strings.Builder
	b.WriteString("--- WEB RESULTS ---\n")

	if abstract := gjson.GetBytes(body, "AbstractText").String(); abstract != "" {
		b.WriteString("Summary: ")
		b.WriteString(abstract)
		b.WriteString("\n")
		if src := gjson.GetBytes(body, "AbstractURL").String(); src != "" {
			b.WriteString("Source: ")
			b.WriteString(src)
			b.WriteString("\n")
		}
	}

	topics := gjson.GetBytes(body, "RelatedTopics").Array()
	n := 0
	for _, t := range topics {
		if n >= maxResults {
			break
		}
		text := t.Get("Text").String()
		href := t.Get("FirstURL").String()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "Topic: %s\nLink: %s\n\n", text, href)
		n++
	}

	if n == 0 && b.Len() == len("--- WEB RESULTS ---\n") {
		return "No web results found.", nil
	}
	return b.String(), nil
}
