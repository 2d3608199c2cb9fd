package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zeroloop/zeroloop/config"
	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
)

// ErrPlanActive is returned when a conversation already has a running plan.
var ErrPlanActive = errors.New("conversation already has an active plan")

// Engine is the orchestrator's public surface: classify a message, build a
// plan, execute it, observe progress, cancel. One active plan per
// conversation; execution within a conversation is single threaded.
type Engine struct {
	cfg       *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	llm           LLMProvider
	detector      *Detector
	modelDetector *ModelDetector
	builder       *Builder
	executor      *Executor

	mu     sync.Mutex
	active map[string]*ExecutionPlan
}

// NewEngine wires the orchestrator components from configuration.
func NewEngine(cfg *config.Config, invoker ToolInvoker, tel *telemetry.Telemetry, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	llm, err := NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	detector := NewDetector(cfg.Detector.HistoryWindow)
	builder := NewBuilder()
	adapter := NewAdapter(llm, ModelFor(cfg.LLM.Routing, OpAdaptation), tel, nil)
	synthesizer := NewSynthesizer(llm, ModelFor(cfg.LLM.Routing, OpSynthesis), tel, nil)
	executor := NewExecutor(invoker, builder, adapter, synthesizer, tel, logger)

	g := &Engine{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		llm:       llm,
		detector:  detector,
		builder:   builder,
		executor:  executor,
		active:    make(map[string]*ExecutionPlan),
	}
	if cfg.Detector.UseModel {
		g.modelDetector = NewModelDetector(llm, ModelFor(cfg.LLM.Routing, OpClassification), detector, tel, nil)
	}
	return g, nil
}

// LLM exposes the engine's underlying provider.
func (g *Engine) LLM() LLMProvider { return g.llm }

// Classify runs plan detection for a message. The model-assisted path is
// used when enabled, recovering to the deterministic detector on failure.
func (g *Engine) Classify(ctx context.Context, message string, history []Message) Classification {
	if g.modelDetector != nil {
		return g.modelDetector.DetectWithFallback(ctx, message, history)
	}
	return g.detector.Detect(message, history)
}

// CreatePlan builds a plan synchronously from a plan type.
func (g *Engine) CreatePlan(planType, query string, planContext map[string]interface{}) *ExecutionPlan {
	return g.builder.Build(planType, query, planContext)
}

// CreatePlanFromSteps builds an adaptive plan from suggested step texts.
func (g *Engine) CreatePlanFromSteps(steps []string, query string) *ExecutionPlan {
	return g.builder.BuildFromSteps(steps, query)
}

// ExecutePlan runs a plan for a conversation, blocking until the plan is
// terminal. Only one plan may run per conversation at a time.
func (g *Engine) ExecutePlan(ctx context.Context, conversationID string, plan *ExecutionPlan, onStepUpdate StepUpdateFunc, onPlanComplete PlanCompleteFunc) error {
	g.mu.Lock()
	if _, busy := g.active[conversationID]; busy {
		g.mu.Unlock()
		return ErrPlanActive
	}
	g.active[conversationID] = plan
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.active, conversationID)
		g.mu.Unlock()
	}()

	return g.executor.Execute(ctx, plan, onStepUpdate, onPlanComplete)
}

// CancelPlan cooperatively cancels the conversation's running plan.
// Reports whether a plan was running.
func (g *Engine) CancelPlan(conversationID string) bool {
	g.mu.Lock()
	plan, ok := g.active[conversationID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.executor.Cancel(plan.ID)
	return true
}

// ActivePlan returns the conversation's running plan, if any.
func (g *Engine) ActivePlan(conversationID string) (*ExecutionPlan, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	plan, ok := g.active[conversationID]
	return plan, ok
}

// PlanProgressFor derives the progress view for the conversation's running
// plan.
func (g *Engine) PlanProgressFor(conversationID string) (Progress, bool) {
	plan, ok := g.ActivePlan(conversationID)
	if !ok {
		return Progress{}, false
	}
	return PlanProgress(plan), true
}

// ChatResult is the outcome of handling one user message.
type ChatResult struct {
	Text           string          `json:"text"`
	Plan           *ExecutionPlan  `json:"plan,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

// HandleMessage is the full pipeline for one user message: detect, then
// either answer directly or build and execute a plan.
func (g *Engine) HandleMessage(ctx context.Context, conversationID, message string, history []Message, onStepUpdate StepUpdateFunc) (*ChatResult, error) {
	c := g.Classify(ctx, message, history)
	g.logger.Printf("conversation %s: plan=%t type=%s confidence=%.2f", conversationID, c.ShouldUsePlan, c.PlanType, c.Confidence)

	if !c.ShouldUsePlan {
		reply, err := g.directReply(ctx, message, history)
		if err != nil {
			return nil, err
		}
		return &ChatResult{Text: reply, Classification: &c}, nil
	}

	var plan *ExecutionPlan
	if len(c.SuggestedSteps) > 0 {
		plan = g.CreatePlanFromSteps(c.SuggestedSteps, message)
	} else {
		planContext := map[string]interface{}{}
		if owner, repo, ok := ExtractRepoRef(message, history, g.detector.HistoryWindow); ok {
			planContext["owner"] = owner
			planContext["repo"] = repo
		}
		plan = g.CreatePlan(c.PlanType, message, planContext)
	}

	if err := g.ExecutePlan(ctx, conversationID, plan, onStepUpdate, nil); err != nil {
		return &ChatResult{Plan: plan, Classification: &c}, err
	}
	return &ChatResult{Text: plan.FinalResult, Plan: plan, Classification: &c}, nil
}

// directReply answers a message without a plan, using a small history
// window for context.
func (g *Engine) directReply(ctx context.Context, message string, history []Message) (string, error) {
	var b strings.Builder
	b.WriteString("You are ZeroLoop, a helpful assistant.\n\n")
	start := len(history) - g.detector.HistoryWindow
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "user: %s\nassistant:", message)

	model := ModelFor(g.cfg.LLM.Routing, OpChat)
	startTime := time.Now()
	reply, inTok, outTok, err := g.llm.GenerateWithTokens(ctx, b.String(), model, nil)
	g.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Operation:    OpChat,
		Model:        model,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         g.llm.CalculateCost(inTok, outTok, model),
		Duration:     time.Since(startTime),
		Success:      err == nil,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
