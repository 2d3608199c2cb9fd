package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDetectNews(t *testing.T) {
	d := NewDetector(10)
	c := d.Detect("What's today's news?", nil)
	if !c.ShouldUsePlan || c.PlanType != PlanNewsSearch {
		t.Fatalf("classification = %+v, want news-search plan", c)
	}
}

func TestDetectGreeting(t *testing.T) {
	d := NewDetector(10)
	c := d.Detect("Hello, how are you?", nil)
	if c.ShouldUsePlan {
		t.Fatalf("classification = %+v, want no plan", c)
	}
	if c.Confidence != 0.4 {
		t.Fatalf("confidence = %f, want 0.4", c.Confidence)
	}
}

func TestDetectRepoRequiresContext(t *testing.T) {
	d := NewDetector(10)
	c := d.Detect("explain this repo", nil)
	if c.PlanType == PlanRepoAnalysis {
		t.Fatalf("repo-analysis without a repo reference: %+v", c)
	}
}

func TestDetectRepoFromHistory(t *testing.T) {
	d := NewDetector(10)
	history := []Message{
		{Role: "user", Content: "take a look at https://github.com/octo/hello later"},
	}
	c := d.Detect("explain this repo", history)
	if !c.ShouldUsePlan || c.PlanType != PlanRepoAnalysis {
		t.Fatalf("classification = %+v, want repo-analysis", c)
	}
}

func TestDetectRepoContextWindow(t *testing.T) {
	d := NewDetector(2)
	history := []Message{
		{Role: "user", Content: "see github.com/octo/hello"},
		{Role: "assistant", Content: "sure"},
		{Role: "user", Content: "thanks"},
	}
	// The repo reference is outside the 2-entry window.
	c := d.Detect("explain this repo", history)
	if c.PlanType == PlanRepoAnalysis {
		t.Fatalf("repo reference outside window must not gate in: %+v", c)
	}
}

func TestDetectComprehensive(t *testing.T) {
	d := NewDetector(10)
	c := d.Detect("Can you research the pros and cons of moving to Kubernetes?", nil)
	if !c.ShouldUsePlan || c.PlanType != PlanComprehensive {
		t.Fatalf("classification = %+v, want comprehensive-search", c)
	}
}

func TestDetectMultipleQuestions(t *testing.T) {
	d := NewDetector(10)
	c := d.Detect("What is WebAssembly? How fast is it in practice? Which runtimes support it?", nil)
	if !c.ShouldUsePlan || c.PlanType != PlanGeneric {
		t.Fatalf("classification = %+v, want generic multi-step", c)
	}
}

func TestDetectionRecover(t *testing.T) {
	ok := Classified(Classification{ShouldUsePlan: true, PlanType: PlanNewsSearch, Confidence: 0.9})
	got := ok.Recover(func() Classification {
		t.Fatal("fallback must not run for a successful detection")
		return Classification{}
	})
	if got.PlanType != PlanNewsSearch {
		t.Fatalf("got %+v", got)
	}

	failed := DetectionFailure(errors.New("boom"))
	got = failed.Recover(func() Classification {
		return Classification{ShouldUsePlan: false, Confidence: 0.4}
	})
	if got.ShouldUsePlan || got.Confidence != 0.4 {
		t.Fatalf("fallback result = %+v", got)
	}
}

func TestParseClassification(t *testing.T) {
	c, err := parseClassification(`Sure! {"should_use_plan":true,"plan_type":"news-search","confidence":0.8,"reasoning":"news"} hope that helps`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.ShouldUsePlan || c.PlanType != PlanNewsSearch || c.Confidence != 0.8 {
		t.Fatalf("classification = %+v", c)
	}

	for _, bad := range []string{
		"no json here",
		`{"plan_type":"news-search"}`,
		`{"should_use_plan":true,"confidence":0.5}`,
		`{"should_use_plan":true,"plan_type":"x","confidence":1.7}`,
		`{"should_use_plan":`,
	} {
		if _, err := parseClassification(bad); err == nil {
			t.Fatalf("expected parse error for %q", bad)
		}
	}
}

// stubLLM serves canned responses in order, repeating the last one.
type stubLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *stubLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (s *stubLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", 0, 0, s.err
	}
	if len(s.responses) == 0 {
		return "ok", 1, 1, nil
	}
	out := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return out, 1, 1, nil
}

func (s *stubLLM) GetAvailableModels() []string                { return []string{"stub"} }
func (s *stubLLM) GetModelInfo(string) (ModelInfo, error)      { return ModelInfo{Name: "stub"}, nil }
func (s *stubLLM) CalculateCost(in, out int64, m string) float64 { return 0 }

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestModelDetectorFailsClosed(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	md := NewModelDetector(llm, "stub", NewDetector(10), nil, nil)

	c := md.DetectWithFallback(context.Background(), "What's today's news?", nil)
	if !c.ShouldUsePlan || c.PlanType != PlanNewsSearch {
		t.Fatalf("fallback classification = %+v, want deterministic news-search", c)
	}
}

func TestModelDetectorMalformedJSONFailsClosed(t *testing.T) {
	llm := &stubLLM{responses: []string{"definitely not json"}}
	md := NewModelDetector(llm, "stub", NewDetector(10), nil, nil)

	c := md.DetectWithFallback(context.Background(), "Hello, how are you?", nil)
	if c.ShouldUsePlan {
		t.Fatalf("fallback classification = %+v, want no plan", c)
	}
}

func TestModelDetectorGitHubShortCircuit(t *testing.T) {
	llm := &stubLLM{responses: []string{`{"should_use_plan":false,"confidence":0.9}`}}
	md := NewModelDetector(llm, "stub", NewDetector(10), nil, nil)

	d := md.Detect(context.Background(), "analyze the repo github.com/octo/hello", nil)
	if d.Err != nil {
		t.Fatalf("detection error: %v", d.Err)
	}
	if d.Classification.PlanType != PlanRepoAnalysis {
		t.Fatalf("classification = %+v, want repo-analysis", d.Classification)
	}
	if llm.callCount() != 0 {
		t.Fatalf("model called %d times, want pre-check short circuit", llm.callCount())
	}
}
