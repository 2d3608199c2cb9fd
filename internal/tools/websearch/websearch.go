package websearch

import (
	"context"
	"errors"
	"net/http"
)

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher discovers web results for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

type Provider string

const (
	BraveProvider  Provider = "brave"
	SerperProvider Provider = "serper"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case BraveProvider:
		return Brave{APIKey: apiKey, Client: http.DefaultClient}, nil
	case SerperProvider:
		return Serper{APIKey: apiKey, Client: http.DefaultClient}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
