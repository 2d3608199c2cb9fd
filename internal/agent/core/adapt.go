package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
)

// AdaptationAnalysis is the model's verdict on whether a running plan needs
// additional steps given what has been found so far.
type AdaptationAnalysis struct {
	NeedsMoreSteps bool     `json:"needs_more_steps"`
	Reasoning      string   `json:"reasoning"`
	NewSteps       []string `json:"new_steps"`
}

// Adapter asks the model whether intermediate findings warrant inserting
// new steps. Its failures are soft: the executor treats an adaptation error
// as "no new steps" and keeps going.
type Adapter struct {
	llm       LLMProvider
	model     string
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewAdapter(llm LLMProvider, model string, tel *telemetry.Telemetry, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[ADAPT] ", log.LstdFlags)
	}
	return &Adapter{llm: llm, model: model, telemetry: tel, logger: logger}
}

// Analyze evaluates the accumulated findings against the user's request and
// the steps still queued, and proposes at most two new steps.
func (a *Adapter) Analyze(ctx context.Context, userRequest string, findings map[string]string, remaining []*PlanStep) (AdaptationAnalysis, error) {
	prompt := a.prompt(userRequest, findings, remaining)

	start := time.Now()
	resp, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, a.model, map[string]interface{}{"temperature": 0.0})
	a.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Operation:    "adaptation",
		Model:        a.model,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         a.llm.CalculateCost(inTok, outTok, a.model),
		Duration:     time.Since(start),
		Success:      err == nil,
	})
	if err != nil {
		return AdaptationAnalysis{}, fmt.Errorf("adaptation call: %w", err)
	}

	startIdx := strings.Index(resp, "{")
	endIdx := strings.LastIndex(resp, "}")
	if startIdx < 0 || endIdx <= startIdx {
		return AdaptationAnalysis{}, fmt.Errorf("no JSON object in adaptation response")
	}
	var analysis AdaptationAnalysis
	if err := json.Unmarshal([]byte(resp[startIdx:endIdx+1]), &analysis); err != nil {
		return AdaptationAnalysis{}, fmt.Errorf("malformed adaptation JSON: %w", err)
	}
	if len(analysis.NewSteps) > 2 {
		analysis.NewSteps = analysis.NewSteps[:2]
	}
	return analysis, nil
}

func (a *Adapter) prompt(userRequest string, findings map[string]string, remaining []*PlanStep) string {
	var b strings.Builder
	b.WriteString("You are monitoring a running multi-step research plan.\n\n")
	fmt.Fprintf(&b, "Original request: %s\n\n", userRequest)

	b.WriteString("Findings so far:\n")
	for tool, content := range findings {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", tool, truncate(content, 1500))
	}

	b.WriteString("Steps still queued:\n")
	for _, step := range remaining {
		fmt.Fprintf(&b, "- %s\n", step.Description)
	}

	b.WriteString(`
Do the findings reveal a gap the queued steps will not cover? Respond with
JSON only:
{
  "needs_more_steps": boolean,
  "reasoning": string,
  "new_steps": [string, ...] (at most 2 short imperative steps, empty if none needed)
}`)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
