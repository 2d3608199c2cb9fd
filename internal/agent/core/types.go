package core

import (
	"context"
	"time"

	"github.com/zeroloop/zeroloop/internal/tools"
)

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanStatus is the lifecycle state of a whole plan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Known plan types emitted by the detectors.
const (
	PlanNewsSearch    = "news-search"
	PlanRepoAnalysis  = "repo-analysis"
	PlanComprehensive = "comprehensive-search"
	PlanGeneric       = "multi-step"
)

// PlanStep is one bound (tool, parameters) unit of work within a plan.
// StartTime is set exactly when the step enters executing; EndTime exactly
// when it reaches completed or failed.
type PlanStep struct {
	ID               string                 `json:"id"`
	Description      string                 `json:"description"`
	Tool             string                 `json:"tool"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Status           StepStatus             `json:"status"`
	Result           *tools.Invocation      `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	StartTime        *time.Time             `json:"start_time,omitempty"`
	EndTime          *time.Time             `json:"end_time,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	ExtractedContent string                 `json:"extracted_content,omitempty"`
}

// ExecutionPlan is an ordered list of steps assembled for one user request.
// It is created pending, mutated in place by exactly one executor run, and
// ends completed or failed. Plans live only in memory; a terminal audit
// record is the store's concern.
type ExecutionPlan struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Steps            []*PlanStep `json:"steps"`
	Status           PlanStatus  `json:"status"`
	CurrentStepIndex int         `json:"current_step_index"`
	IsAdaptive       bool        `json:"is_adaptive"`

	// AccumulatedFindings maps a tool identifier to the latest extracted
	// content from that tool, the context for adaptation and synthesis.
	AccumulatedFindings map[string]string `json:"accumulated_findings,omitempty"`

	FinalResult string    `json:"final_result,omitempty"`
	UserRequest string    `json:"user_request,omitempty"`
	PlanType    string    `json:"plan_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Classification is the outcome of plan detection over one user message.
type Classification struct {
	ShouldUsePlan  bool     `json:"should_use_plan"`
	PlanType       string   `json:"plan_type,omitempty"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning,omitempty"`
	SuggestedSteps []string `json:"suggested_steps,omitempty"`
}

// Message is one conversation history entry as seen by the detectors.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is a derived read-only view over a plan's step states.
// Current counts completed steps only.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Detection carries either a classification or the error that prevented
// one. The model-assisted detector returns this so its fail-closed contract
// is explicit rather than hidden in a recover block.
type Detection struct {
	Classification Classification
	Err            error
}

// Classified wraps a successful classification.
func Classified(c Classification) Detection {
	return Detection{Classification: c}
}

// DetectionFailure wraps a detection error.
func DetectionFailure(err error) Detection {
	return Detection{Err: err}
}

// Recover returns the classification, or the fallback's result when
// detection failed.
func (d Detection) Recover(fallback func() Classification) Classification {
	if d.Err != nil {
		return fallback()
	}
	return d.Classification
}

// StepUpdateFunc observes every step state transition.
type StepUpdateFunc func(step *PlanStep)

// PlanCompleteFunc observes successful plan completion with the final text.
type PlanCompleteFunc func(result string)

// LLMProvider is the contract for text-completion providers.
type LLMProvider interface {
	// Generate generates text using the given model key.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns input/output token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GetAvailableModels returns configured model keys.
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model.
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model.
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}

// ToolInvoker is the contract the executor uses to reach tool backends.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, params map[string]interface{}) (tools.Invocation, error)
}
