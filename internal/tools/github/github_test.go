package github

import (
	"context"
	"encoding/json"
	"testing"
)

type stubDoer struct {
	lastURL     string
	lastHeaders map[string]string
	response    string
	err         error
}

func (s *stubDoer) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	s.lastURL = url
	s.lastHeaders = headers
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.response), out)
}

func TestGetRepo(t *testing.T) {
	d := &stubDoer{response: `{"full_name":"octo/hello","stargazers_count":12,"language":"Go"}`}
	c := New("tok", "", d)
	repo, err := c.GetRepo(context.Background(), "octo", "hello")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if repo.FullName != "octo/hello" || repo.Stars != 12 || repo.Language != "Go" {
		t.Fatalf("repo = %+v", repo)
	}
	if d.lastURL != "https://api.github.com/repos/octo/hello" {
		t.Fatalf("url = %s", d.lastURL)
	}
	if d.lastHeaders["Authorization"] != "Bearer tok" {
		t.Fatalf("headers = %v", d.lastHeaders)
	}
}

func TestAnonymousRequestsSendNoToken(t *testing.T) {
	d := &stubDoer{response: `{}`}
	c := New("", "", d)
	if _, err := c.GetRepo(context.Background(), "octo", "hello"); err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if _, ok := d.lastHeaders["Authorization"]; ok {
		t.Fatal("anonymous client must not send an Authorization header")
	}
}

func TestListCommitsClampsLimit(t *testing.T) {
	d := &stubDoer{response: `[{"sha":"abc123","commit":{"message":"fix parser\n\ndetails"}}]`}
	c := New("", "https://ghe.internal/api/v3/", d)
	commits, err := c.ListCommits(context.Background(), "octo", "hello", 0)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 1 || commits[0].SHA != "abc123" {
		t.Fatalf("commits = %+v", commits)
	}
	if d.lastURL != "https://ghe.internal/api/v3/repos/octo/hello/commits?per_page=10" {
		t.Fatalf("url = %s", d.lastURL)
	}
}

func TestListIssues(t *testing.T) {
	d := &stubDoer{response: `[{"number":7,"title":"panic on empty input","state":"open"}]`}
	c := New("", "", d)
	issues, err := c.ListIssues(context.Background(), "octo", "hello", 5)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 7 {
		t.Fatalf("issues = %+v", issues)
	}
	if d.lastURL != "https://api.github.com/repos/octo/hello/issues?state=open&sort=updated&per_page=5" {
		t.Fatalf("url = %s", d.lastURL)
	}
}
