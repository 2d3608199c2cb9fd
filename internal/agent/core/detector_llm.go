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

// ModelDetector classifies messages with a model call, keeping a cheap
// deterministic pre-check in front of it and the deterministic detector
// behind it. Every failure mode (network, malformed JSON, missing fields)
// surfaces as a Detection error that Recover maps onto the fallback, so
// callers never see a detection crash.
type ModelDetector struct {
	llm       LLMProvider
	model     string
	fallback  *Detector
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewModelDetector(llm LLMProvider, model string, fallback *Detector, tel *telemetry.Telemetry, logger *log.Logger) *ModelDetector {
	if logger == nil {
		logger = log.New(log.Writer(), "[DETECT] ", log.LstdFlags)
	}
	if fallback == nil {
		fallback = NewDetector(0)
	}
	return &ModelDetector{llm: llm, model: model, fallback: fallback, telemetry: tel, logger: logger}
}

// Detect runs the layered classification. Repository requests short-circuit
// before the model call: the generative step misclassifies them often enough
// that the deterministic check has the final word.
func (m *ModelDetector) Detect(ctx context.Context, message string, history []Message) Detection {
	if repoPattern.MatchString(message) {
		if owner, repo, ok := ExtractRepoRef(message, history, m.fallback.HistoryWindow); ok {
			return Classified(Classification{
				ShouldUsePlan: true,
				PlanType:      PlanRepoAnalysis,
				Confidence:    0.95,
				Reasoning:     fmt.Sprintf("repository request for %s/%s", owner, repo),
			})
		}
	}

	prompt := m.classificationPrompt(message, history)
	start := time.Now()
	resp, inTok, outTok, err := m.llm.GenerateWithTokens(ctx, prompt, m.model, map[string]interface{}{"temperature": 0.0})
	m.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Operation:    "classification",
		Model:        m.model,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         m.llm.CalculateCost(inTok, outTok, m.model),
		Duration:     time.Since(start),
		Success:      err == nil,
	})
	if err != nil {
		m.logger.Printf("classification call failed: %v", err)
		return DetectionFailure(fmt.Errorf("classification call: %w", err))
	}

	c, err := parseClassification(resp)
	if err != nil {
		m.logger.Printf("classification parse failed: %v", err)
		return DetectionFailure(err)
	}
	return Classified(c)
}

// DetectWithFallback is the convenience most callers want: the model
// detector's answer, or the deterministic detector's when the model fails.
func (m *ModelDetector) DetectWithFallback(ctx context.Context, message string, history []Message) Classification {
	return m.Detect(ctx, message, history).Recover(func() Classification {
		return m.fallback.Detect(message, history)
	})
}

func (m *ModelDetector) classificationPrompt(message string, history []Message) string {
	var b strings.Builder
	b.WriteString("You are a planning classifier for a tool-using assistant.\n")
	b.WriteString("Decide whether the user message needs a multi-step tool plan.\n")
	b.WriteString("Known plan types: news-search, repo-analysis, comprehensive-search, multi-step.\n\n")

	window := m.fallback.HistoryWindow
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	if start < len(history) {
		b.WriteString("Recent conversation:\n")
		for _, msg := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User message: %s\n\n", message)
	b.WriteString(`Respond with JSON only, no prose:
{
  "should_use_plan": boolean,
  "plan_type": string,
  "confidence": number between 0 and 1,
  "reasoning": string,
  "suggested_steps": [string, ...] (optional, 2-4 short imperative steps)
}`)
	return b.String()
}

// parseClassification extracts the JSON object from a model response and
// validates the fields the contract requires.
func parseClassification(resp string) (Classification, error) {
	startIdx := strings.Index(resp, "{")
	endIdx := strings.LastIndex(resp, "}")
	if startIdx < 0 || endIdx <= startIdx {
		return Classification{}, fmt.Errorf("no JSON object in classification response")
	}

	var parsed struct {
		ShouldUsePlan  *bool    `json:"should_use_plan"`
		PlanType       string   `json:"plan_type"`
		Confidence     *float64 `json:"confidence"`
		Reasoning      string   `json:"reasoning"`
		SuggestedSteps []string `json:"suggested_steps"`
	}
	if err := json.Unmarshal([]byte(resp[startIdx:endIdx+1]), &parsed); err != nil {
		return Classification{}, fmt.Errorf("malformed classification JSON: %w", err)
	}
	if parsed.ShouldUsePlan == nil || parsed.Confidence == nil {
		return Classification{}, fmt.Errorf("classification JSON missing required fields")
	}
	if *parsed.Confidence < 0 || *parsed.Confidence > 1 {
		return Classification{}, fmt.Errorf("classification confidence %f out of range", *parsed.Confidence)
	}
	if *parsed.ShouldUsePlan && parsed.PlanType == "" {
		return Classification{}, fmt.Errorf("classification JSON missing plan_type")
	}

	return Classification{
		ShouldUsePlan:  *parsed.ShouldUsePlan,
		PlanType:       parsed.PlanType,
		Confidence:     *parsed.Confidence,
		Reasoning:      parsed.Reasoning,
		SuggestedSteps: parsed.SuggestedSteps,
	}, nil
}
