package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Doer matches the subset of tools.HTTPClient the backend needs.
type Doer interface {
	DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error
}

// Client talks to the Jira Cloud REST API v3 with basic auth.
type Client struct {
	BaseURL  string
	Email    string
	APIToken string
	HTTP     Doer
}

func New(baseURL, email, apiToken string, httpc Doer) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Email: email, APIToken: apiToken, HTTP: httpc}
}

// IssueHit is a single search hit.
type IssueHit struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

func (c *Client) headers() map[string]string {
	cred := base64.StdEncoding.EncodeToString([]byte(c.Email + ":" + c.APIToken))
	return map[string]string{
		"Accept":        "application/json",
		"Authorization": "Basic " + cred,
	}
}

// Search runs a JQL query and returns flattened issue summaries.
func (c *Client) Search(ctx context.Context, jql string, limit int) ([]IssueHit, error) {
	if limit <= 0 {
		limit = 10
	}
	var raw struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}
	endpoint := fmt.Sprintf("%s/rest/api/3/search?jql=%s&maxResults=%d", c.BaseURL, url.QueryEscape(jql), limit)
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, endpoint, c.headers(), nil, &raw); err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	out := make([]IssueHit, 0, len(raw.Issues))
	for _, is := range raw.Issues {
		out = append(out, IssueHit{Key: is.Key, Summary: is.Fields.Summary, Status: is.Fields.Status.Name})
	}
	return out, nil
}
