package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://api.github.com"

// Doer matches the subset of tools.HTTPClient the backend needs; it keeps
// the package testable with a stub transport.
type Doer interface {
	DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error
}

// Client talks to the GitHub REST API v3.
type Client struct {
	Token   string
	BaseURL string
	HTTP    Doer
}

func New(token, baseURL string, httpc Doer) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{Token: token, BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpc}
}

// Repo is the subset of repository metadata the orchestrator cares about.
type Repo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stargazers_count"`
	Forks       int    `json:"forks_count"`
	OpenIssues  int    `json:"open_issues_count"`
	DefaultRef  string `json:"default_branch"`
	HTMLURL     string `json:"html_url"`
}

// Commit is a single commit summary.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	HTMLURL string `json:"html_url"`
}

// Issue is a single issue summary.
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if c.Token != "" {
		h["Authorization"] = "Bearer " + c.Token
	}
	return h
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (Repo, error) {
	var out Repo
	url := fmt.Sprintf("%s/repos/%s/%s", c.BaseURL, owner, repo)
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, url, c.headers(), nil, &out); err != nil {
		return Repo{}, fmt.Errorf("github repo %s/%s: %w", owner, repo, err)
	}
	return out, nil
}

// ListCommits fetches the most recent commits on the default branch.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Commit
	url := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=%d", c.BaseURL, owner, repo, limit)
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, url, c.headers(), nil, &out); err != nil {
		return nil, fmt.Errorf("github commits %s/%s: %w", owner, repo, err)
	}
	return out, nil
}

// ListIssues fetches open issues, most recently updated first.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, limit int) ([]Issue, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Issue
	url := fmt.Sprintf("%s/repos/%s/%s/issues?state=open&sort=updated&per_page=%d", c.BaseURL, owner, repo, limit)
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, url, c.headers(), nil, &out); err != nil {
		return nil, fmt.Errorf("github issues %s/%s: %w", owner, repo, err)
	}
	return out, nil
}
