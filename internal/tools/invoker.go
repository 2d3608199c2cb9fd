package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/zeroloop/zeroloop/config"
	"github.com/zeroloop/zeroloop/internal/tools/github"
	"github.com/zeroloop/zeroloop/internal/tools/jira"
	"github.com/zeroloop/zeroloop/internal/tools/knowledge"
	"github.com/zeroloop/zeroloop/internal/tools/scraper"
	"github.com/zeroloop/zeroloop/internal/tools/websearch"
)

// Well-known tool identifiers. Plan steps bind to these names; anything else
// is looked up in the configured generic endpoints.
const (
	ToolWebSearch = "web-search"
	ToolScraper   = "web-scraper"
	ToolGitHub    = "github-tools"
	ToolJira      = "jira-tools"
	ToolKnowledge = "knowledge-search"
	ToolSynthesis = "synthesis"
)

// ErrMissingCredential indicates a tool was invoked without the auth
// configuration it needs. This is unrecoverable and propagates as an error
// rather than a failed invocation.
var ErrMissingCredential = errors.New("missing tool credential")

// ErrUnknownTool indicates the tool identifier matches no backend.
var ErrUnknownTool = errors.New("unknown tool")

// Invoker dispatches one external request per tool invocation. Tool-level
// failures come back inside the Invocation; only configuration problems
// surface as errors.
type Invoker struct {
	cfg       config.ToolsConfig
	http      *HTTPClient
	search    websearch.WebSearcher
	scraper   *scraper.Scraper
	github    *github.Client
	jira      *jira.Client
	knowledge *knowledge.Index
	logger    *log.Logger
}

// NewInvoker wires tool backends from configuration. Backends with missing
// credentials are still constructed; the credential check happens at
// invocation time so a partially configured deployment can run plans that
// avoid the unconfigured tools.
func NewInvoker(cfg config.ToolsConfig, kidx *knowledge.Index, logger *log.Logger) (*Invoker, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	httpc := NewHTTPClient(cfg.RequestTimeout, cfg.MaxRetries, cfg.RetryBackoff)

	inv := &Invoker{
		cfg:       cfg,
		http:      httpc,
		scraper:   scraper.New(cfg.Scraper.TimeoutMS, cfg.Scraper.MaxChars),
		github:    github.New(cfg.GitHub.Token, cfg.GitHub.BaseURL, httpc),
		jira:      jira.New(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken, httpc),
		knowledge: kidx,
		logger:    logger,
	}

	provider := websearch.Provider(cfg.WebSearch.Provider)
	if provider == "" {
		provider = websearch.BraveProvider
	}
	key := cfg.WebSearch.BraveAPIKey
	if provider == websearch.SerperProvider {
		key = cfg.WebSearch.SerperAPIKey
	}
	searcher, err := websearch.NewWebSearcher(provider, key)
	if err != nil {
		return nil, fmt.Errorf("creating web searcher: %w", err)
	}
	inv.search = searcher

	return inv, nil
}

// Invoke performs exactly one external call for the given tool and
// parameters. There is no retry here beyond what the shared HTTP client
// does per request.
func (v *Invoker) Invoke(ctx context.Context, tool string, params map[string]interface{}) (Invocation, error) {
	switch tool {
	case ToolWebSearch:
		return v.invokeWebSearch(ctx, params)
	case ToolScraper:
		return v.invokeScraper(ctx, params)
	case ToolGitHub:
		return v.invokeGitHub(ctx, params)
	case ToolJira:
		return v.invokeJira(ctx, params)
	case ToolKnowledge:
		return v.invokeKnowledge(params)
	case ToolSynthesis:
		return Invocation{}, fmt.Errorf("synthesis is not an external tool")
	default:
		if ep, ok := v.cfg.Endpoints[tool]; ok {
			return v.invokeEndpoint(ctx, tool, ep, params)
		}
		return Invocation{}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
}

func (v *Invoker) invokeWebSearch(ctx context.Context, params map[string]interface{}) (Invocation, error) {
	key := v.cfg.WebSearch.BraveAPIKey
	if websearch.Provider(v.cfg.WebSearch.Provider) == websearch.SerperProvider {
		key = v.cfg.WebSearch.SerperAPIKey
	}
	if key == "" {
		return Invocation{}, fmt.Errorf("%w: web search api key", ErrMissingCredential)
	}
	query := strParam(params, "query")
	if query == "" {
		return Failure("web-search requires a query parameter"), nil
	}
	count := intParam(params, "count", v.cfg.WebSearch.MaxResults)
	results, err := v.search.Discover(ctx, query, count)
	if err != nil {
		return Failure(fmt.Sprintf("web search failed: %v", err)), nil
	}
	items := make([]Item, 0, len(results))
	for _, r := range results {
		items = append(items, Item{Title: r.Title, Snippet: r.Snippet, URL: r.URL})
	}
	return OK(ItemsPayload(items)), nil
}

func (v *Invoker) invokeScraper(ctx context.Context, params map[string]interface{}) (Invocation, error) {
	rawURL := strParam(params, "url")
	if rawURL == "" {
		return Failure("web-scraper requires a url parameter"), nil
	}
	res, err := v.scraper.Fetch(ctx, rawURL)
	if err != nil {
		return Failure(fmt.Sprintf("scrape failed: %v", err)), nil
	}
	if res.Status != http.StatusOK || res.Text == "" {
		return Failure(fmt.Sprintf("scrape of %s returned no readable content (status %d)", rawURL, res.Status)), nil
	}
	text := res.Text
	if res.Title != "" {
		text = res.Title + "\n\n" + text
	}
	return OK(TextPayload(text)), nil
}

func (v *Invoker) invokeGitHub(ctx context.Context, params map[string]interface{}) (Invocation, error) {
	owner := strParam(params, "owner")
	repo := strParam(params, "repo")
	if owner == "" || repo == "" {
		return Failure("github-tools requires owner and repo parameters"), nil
	}
	limit := intParam(params, "limit", 10)

	switch action := strParam(params, "action"); action {
	case "", "repo":
		info, err := v.github.GetRepo(ctx, owner, repo)
		if err != nil {
			return Failure(err.Error()), nil
		}
		obj := map[string]interface{}{
			"full_name":   info.FullName,
			"description": info.Description,
			"language":    info.Language,
			"stars":       info.Stars,
			"forks":       info.Forks,
			"open_issues": info.OpenIssues,
			"url":         info.HTMLURL,
		}
		return OK(ObjectPayload(obj)), nil
	case "commits":
		commits, err := v.github.ListCommits(ctx, owner, repo, limit)
		if err != nil {
			return Failure(err.Error()), nil
		}
		items := make([]Item, 0, len(commits))
		for _, c := range commits {
			title := c.SHA
			if len(title) > 7 {
				title = title[:7]
			}
			items = append(items, Item{Title: title, Snippet: firstLine(c.Commit.Message), URL: c.HTMLURL})
		}
		return OK(ItemsPayload(items)), nil
	case "issues":
		issues, err := v.github.ListIssues(ctx, owner, repo, limit)
		if err != nil {
			return Failure(err.Error()), nil
		}
		items := make([]Item, 0, len(issues))
		for _, is := range issues {
			items = append(items, Item{Title: fmt.Sprintf("#%d %s", is.Number, is.Title), Snippet: firstLine(is.Body), URL: is.HTMLURL})
		}
		return OK(ItemsPayload(items)), nil
	default:
		return Failure(fmt.Sprintf("unsupported github action: %s", action)), nil
	}
}

func (v *Invoker) invokeJira(ctx context.Context, params map[string]interface{}) (Invocation, error) {
	if v.cfg.Jira.BaseURL == "" || v.cfg.Jira.APIToken == "" {
		return Invocation{}, fmt.Errorf("%w: jira base url and api token", ErrMissingCredential)
	}
	jql := strParam(params, "jql")
	if jql == "" {
		if q := strParam(params, "query"); q != "" {
			jql = fmt.Sprintf("text ~ %q ORDER BY updated DESC", q)
		}
	}
	if jql == "" {
		return Failure("jira-tools requires a jql or query parameter"), nil
	}
	hits, err := v.jira.Search(ctx, jql, intParam(params, "limit", 10))
	if err != nil {
		return Failure(err.Error()), nil
	}
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, Item{Title: h.Key, Snippet: fmt.Sprintf("%s [%s]", h.Summary, h.Status)})
	}
	return OK(ItemsPayload(items)), nil
}

func (v *Invoker) invokeKnowledge(params map[string]interface{}) (Invocation, error) {
	if v.knowledge == nil {
		return Failure("knowledge index not configured"), nil
	}
	query := strParam(params, "query")
	if query == "" {
		return Failure("knowledge-search requires a query parameter"), nil
	}
	hits, err := v.knowledge.Search(query, intParam(params, "limit", 5))
	if err != nil {
		return Failure(err.Error()), nil
	}
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		snippet := h.Fragment
		if snippet == "" {
			snippet = h.Entry.Content
		}
		items = append(items, Item{Title: h.Entry.Title, Snippet: snippet})
	}
	return OK(ItemsPayload(items)), nil
}

func (v *Invoker) invokeEndpoint(ctx context.Context, name string, ep config.EndpointConfig, params map[string]interface{}) (Invocation, error) {
	if ep.URL == "" {
		return Invocation{}, fmt.Errorf("%w: endpoint %s url", ErrMissingCredential, name)
	}
	headers := map[string]string{}
	if ep.Token != "" {
		headers["Authorization"] = "Bearer " + ep.Token
	}
	var raw json.RawMessage
	if err := v.http.DoJSON(ctx, http.MethodPost, ep.URL, headers, params, &raw); err != nil {
		return Failure(fmt.Sprintf("endpoint %s failed: %v", name, err)), nil
	}
	return decodeEndpointResponse(raw), nil
}

// decodeEndpointResponse normalizes a generic backend response into the
// tagged payload union. Backends return JSON with at minimum a success
// boolean; the data field may be a string, a list of titled results, or an
// arbitrary object.
func decodeEndpointResponse(raw json.RawMessage) Invocation {
	var envelope struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Results json.RawMessage `json:"results"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return OK(TextPayload(string(raw)))
	}
	if envelope.Success != nil && !*envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return Failure(msg)
	}
	body := envelope.Data
	if body == nil {
		body = envelope.Results
	}
	if body == nil {
		body = raw
	}
	return OK(NormalizePayload(body))
}

// NormalizePayload converts raw JSON into the tagged payload union: strings
// stay text, lists of titled objects become items, everything else is kept
// as an object (or serialized text when it is not an object at all).
func NormalizePayload(raw json.RawMessage) Payload {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return TextPayload(s)
	}
	var list []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		items := make([]Item, 0, len(list))
		for _, e := range list {
			items = append(items, Item{Title: e.Title, Snippet: e.Snippet, URL: e.URL})
		}
		return ItemsPayload(items)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return ObjectPayload(obj)
	}
	return TextPayload(string(raw))
}

// KnowledgeIndex exposes the backing index so callers can ingest entries.
func (v *Invoker) KnowledgeIndex() *knowledge.Index { return v.knowledge }

func strParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func intParam(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch n := params[key].(type) {
	case int:
		if n > 0 {
			return n
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
