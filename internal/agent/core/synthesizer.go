package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
)

// Synthesizer combines accumulated findings into one final answer via the
// model, falling back to plain concatenation when the model call fails. The
// user always gets text, never an empty answer.
type Synthesizer struct {
	llm       LLMProvider
	model     string
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewSynthesizer(llm LLMProvider, model string, tel *telemetry.Telemetry, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{llm: llm, model: model, telemetry: tel, logger: logger}
}

// Synthesize produces the final answer for a finished plan.
func (s *Synthesizer) Synthesize(ctx context.Context, originalRequest string, contents []string, findings map[string]string) string {
	if len(contents) == 0 {
		return "No findings were gathered for this request."
	}

	prompt := s.prompt(originalRequest, findings)
	start := time.Now()
	resp, inTok, outTok, err := s.llm.GenerateWithTokens(ctx, prompt, s.model, map[string]interface{}{"temperature": 0.3})
	s.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Operation:    "synthesis",
		Model:        s.model,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         s.llm.CalculateCost(inTok, outTok, s.model),
		Duration:     time.Since(start),
		Success:      err == nil,
	})
	if err != nil || strings.TrimSpace(resp) == "" {
		if err != nil {
			s.logger.Printf("synthesis call failed, using concatenation fallback: %v", err)
		}
		return ConcatFallback(contents)
	}
	return resp
}

// ConcatFallback is the degraded synthesis: the extracted contents joined
// in execution order.
func ConcatFallback(contents []string) string {
	return strings.Join(contents, "\n\n")
}

func (s *Synthesizer) prompt(originalRequest string, findings map[string]string) string {
	var b strings.Builder
	b.WriteString("Synthesize the findings below into one answer for the user.\n")
	b.WriteString("Organize by relevance to the request, keep specific sourced details, and use clear structure.\n\n")
	fmt.Fprintf(&b, "User request: %s\n\n", originalRequest)
	for tool, content := range findings {
		fmt.Fprintf(&b, "Findings from %s:\n%s\n\n", tool, truncate(content, 4000))
	}
	return b.String()
}
