package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

type stubDoer struct {
	lastURL     string
	lastHeaders map[string]string
	response    string
}

func (s *stubDoer) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	s.lastURL = url
	s.lastHeaders = headers
	return json.Unmarshal([]byte(s.response), out)
}

func TestSearch(t *testing.T) {
	d := &stubDoer{response: `{"issues":[{"key":"OPS-12","fields":{"summary":"rotate certs","status":{"name":"In Progress"}}}]}`}
	c := New("https://example.atlassian.net/", "dev@example.com", "tok", d)

	hits, err := c.Search(context.Background(), `project = OPS`, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Key != "OPS-12" || hits[0].Status != "In Progress" {
		t.Fatalf("hit = %+v", hits[0])
	}

	if !strings.HasPrefix(d.lastURL, "https://example.atlassian.net/rest/api/3/search?jql=") {
		t.Fatalf("url = %s", d.lastURL)
	}
	if !strings.HasSuffix(d.lastURL, "&maxResults=10") {
		t.Fatalf("limit was not defaulted: %s", d.lastURL)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("dev@example.com:tok"))
	if d.lastHeaders["Authorization"] != want {
		t.Fatalf("auth header = %q", d.lastHeaders["Authorization"])
	}
}
