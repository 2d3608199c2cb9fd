package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/zeroloop/zeroloop/config"
	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
	"github.com/zeroloop/zeroloop/internal/tools"
)

// stubInvoker succeeds with numbered item payloads unless told to fail a
// tool. The hook runs inside each invocation.
type stubInvoker struct {
	mu       sync.Mutex
	failTool string
	failMsg  string
	err      error
	hook     func(tool string)
	invoked  []string
}

func (s *stubInvoker) Invoke(ctx context.Context, tool string, params map[string]interface{}) (tools.Invocation, error) {
	s.mu.Lock()
	s.invoked = append(s.invoked, tool)
	n := len(s.invoked)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(tool)
	}
	if s.err != nil {
		return tools.Invocation{}, s.err
	}
	if tool == s.failTool {
		return tools.Failure(s.failMsg), nil
	}
	return tools.OK(tools.ItemsPayload([]tools.Item{{Title: fmt.Sprintf("T%d", n), Snippet: "S"}})), nil
}

func newTestExecutor(llm LLMProvider, inv ToolInvoker) *Executor {
	tel := telemetry.NewTelemetry(config.TelemetryConfig{})
	b := NewBuilder()
	logger := log.New(io.Discard, "", 0)
	return NewExecutor(inv, b, NewAdapter(llm, "stub", tel, logger), NewSynthesizer(llm, "stub", tel, logger), tel, logger)
}

func TestExecuteLifecycle(t *testing.T) {
	llm := &stubLLM{responses: []string{"SYNTH"}}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanNewsSearch, "ai news", nil)

	transitions := make(map[string][]StepStatus)
	var finals []string
	err := e.Execute(context.Background(), plan, func(step *PlanStep) {
		transitions[step.ID] = append(transitions[step.ID], step.Status)
	}, func(result string) {
		finals = append(finals, result)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if plan.Status != PlanCompleted {
		t.Fatalf("plan status = %s", plan.Status)
	}
	if plan.FinalResult != "SYNTH" {
		t.Fatalf("final result = %q", plan.FinalResult)
	}
	if len(finals) != 1 || finals[0] != "SYNTH" {
		t.Fatalf("onPlanComplete calls = %v", finals)
	}

	for _, step := range plan.Steps {
		got := transitions[step.ID]
		if len(got) != 2 || got[0] != StepExecuting || got[1] != StepCompleted {
			t.Fatalf("step %q transitions = %v", step.Description, got)
		}
		if step.StartTime == nil || step.EndTime == nil {
			t.Fatalf("step %q missing timestamps", step.Description)
		}
		if step.EndTime.Before(*step.StartTime) {
			t.Fatalf("step %q endTime before startTime", step.Description)
		}
	}

	p := PlanProgress(plan)
	if p.Current != 3 || p.Total != 3 || p.Percentage != 100 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestExecuteFailFast(t *testing.T) {
	llm := &stubLLM{}
	inv := &stubInvoker{failTool: tools.ToolWebSearch, failMsg: "provider quota exhausted"}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanNewsSearch, "ai news", nil)

	completeCalled := false
	err := e.Execute(context.Background(), plan, nil, func(string) { completeCalled = true })
	if err == nil {
		t.Fatal("expected execution error")
	}
	if completeCalled {
		t.Fatal("onPlanComplete must not fire for a failed plan")
	}
	if plan.Status != PlanFailed {
		t.Fatalf("plan status = %s", plan.Status)
	}

	first := plan.Steps[0]
	if first.Status != StepFailed || first.Error == "" || first.EndTime == nil {
		t.Fatalf("failed step = %+v", first)
	}
	for _, step := range plan.Steps[1:] {
		if step.Status != StepPending {
			t.Fatalf("step %q = %s, want pending after abort", step.Description, step.Status)
		}
	}
	if len(inv.invoked) != 1 {
		t.Fatalf("invocations = %d, want 1", len(inv.invoked))
	}
}

func TestExecuteConfigErrorPropagates(t *testing.T) {
	llm := &stubLLM{}
	inv := &stubInvoker{err: fmt.Errorf("wrap: %w", tools.ErrMissingCredential)}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanNewsSearch, "ai news", nil)
	err := e.Execute(context.Background(), plan, nil, nil)
	if !errors.Is(err, tools.ErrMissingCredential) {
		t.Fatalf("err = %v, want wrapped ErrMissingCredential", err)
	}
	if plan.Status != PlanFailed {
		t.Fatalf("plan status = %s", plan.Status)
	}
}

func TestSynthesisFallbackOnModelFailure(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanNewsSearch, "ai news", nil)

	var finals []string
	err := e.Execute(context.Background(), plan, nil, func(result string) { finals = append(finals, result) })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if plan.Status != PlanCompleted {
		t.Fatalf("plan status = %s", plan.Status)
	}

	want := ConcatFallback([]string{"T1: S", "T2: S"})
	if plan.FinalResult != want {
		t.Fatalf("final result = %q, want %q", plan.FinalResult, want)
	}
	if len(finals) != 1 || finals[0] != want {
		t.Fatalf("onPlanComplete calls = %v", finals)
	}
}

func TestProgressFormulaAndMonotonicity(t *testing.T) {
	llm := &stubLLM{responses: []string{"SYNTH"}}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanComprehensive, "topic", nil)

	lastCurrent := -1
	err := e.Execute(context.Background(), plan, func(step *PlanStep) {
		p := PlanProgress(plan)
		wantPct := int(float64(p.Current)/float64(p.Total)*100 + 0.5)
		if p.Percentage != wantPct {
			t.Errorf("percentage = %d, want round(100*%d/%d)", p.Percentage, p.Current, p.Total)
		}
		if p.Current < lastCurrent {
			t.Errorf("current decreased: %d -> %d", lastCurrent, p.Current)
		}
		lastCurrent = p.Current

		// Idempotence: no mutation between two reads.
		if again := PlanProgress(plan); again != p {
			t.Errorf("progress not idempotent: %+v vs %+v", p, again)
		}
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p := PlanProgress(plan); p.Percentage != 100 {
		t.Fatalf("final progress = %+v", p)
	}
}

func TestAdaptiveInsertion(t *testing.T) {
	llm := &stubLLM{responses: []string{
		`{"needs_more_steps":true,"reasoning":"coverage gap","new_steps":["Search gamma pricing"]}`,
		`{"needs_more_steps":false,"reasoning":"enough"}`,
		"FINAL",
	}}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().BuildFromSteps([]string{"Search alpha", "Search beta"}, "compare alpha and beta")
	if !plan.IsAdaptive || len(plan.Steps) != 3 {
		t.Fatalf("unexpected starting plan: adaptive=%t steps=%d", plan.IsAdaptive, len(plan.Steps))
	}

	err := e.Execute(context.Background(), plan, nil, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(plan.Steps) != 4 {
		t.Fatalf("steps = %d, want 4 after insertion", len(plan.Steps))
	}
	// Inserted step runs after its trigger and before the pre-existing
	// steps, synthesis last.
	if plan.Steps[1].Description != "Search gamma pricing" || plan.Steps[1].Reasoning != "coverage gap" {
		t.Fatalf("inserted step = %+v", plan.Steps[1])
	}
	if plan.Steps[3].Tool != tools.ToolSynthesis {
		t.Fatalf("last step tool = %s", plan.Steps[3].Tool)
	}
	for _, step := range plan.Steps {
		if step.Status != StepCompleted {
			t.Fatalf("step %q = %s", step.Description, step.Status)
		}
	}
	if plan.FinalResult != "FINAL" {
		t.Fatalf("final result = %q", plan.FinalResult)
	}
}

func TestAdaptationFailureIsSoft(t *testing.T) {
	// Adaptation JSON is garbage; the plan must still finish.
	llm := &stubLLM{responses: []string{"not json", "not json", "FINAL"}}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().BuildFromSteps([]string{"Search alpha", "Search beta"}, "q")
	if err := e.Execute(context.Background(), plan, nil, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if plan.Status != PlanCompleted || len(plan.Steps) != 3 {
		t.Fatalf("plan = %s with %d steps", plan.Status, len(plan.Steps))
	}
}

func TestCancelStopsAtIterationBoundary(t *testing.T) {
	llm := &stubLLM{}
	inv := &stubInvoker{}
	e := newTestExecutor(llm, inv)

	plan := NewBuilder().Build(PlanNewsSearch, "ai news", nil)
	inv.hook = func(string) { e.Cancel(plan.ID) }

	err := e.Execute(context.Background(), plan, nil, nil)
	if !errors.Is(err, ErrPlanCancelled) {
		t.Fatalf("err = %v, want ErrPlanCancelled", err)
	}
	if plan.Status != PlanFailed {
		t.Fatalf("plan status = %s", plan.Status)
	}
	// The in-flight step resolved; nothing after it was scheduled.
	if plan.Steps[0].Status != StepCompleted {
		t.Fatalf("step 0 = %s, want completed", plan.Steps[0].Status)
	}
	for _, step := range plan.Steps[1:] {
		if step.Status != StepPending {
			t.Fatalf("step %q = %s, want pending", step.Description, step.Status)
		}
	}
}

func TestExecuteRejectsNonPendingPlan(t *testing.T) {
	llm := &stubLLM{}
	e := newTestExecutor(llm, &stubInvoker{})
	plan := NewBuilder().Build(PlanNewsSearch, "x", nil)
	plan.Status = PlanCompleted
	if err := e.Execute(context.Background(), plan, nil, nil); err == nil {
		t.Fatal("expected error for non-pending plan")
	}
}

func TestStepQueueInsertBeforeTrailingSynthesis(t *testing.T) {
	b := NewBuilder()
	plan := &ExecutionPlan{Steps: []*PlanStep{
		b.step("a", tools.ToolWebSearch, nil),
		b.synthesisStep(),
	}}
	q := newStepQueue(plan)
	if step, ok := q.next(); !ok || step.Description != "a" {
		t.Fatalf("next = %v %t", step, ok)
	}
	q.insertAfterCursor([]*PlanStep{
		b.step("x", tools.ToolWebSearch, nil),
		b.step("y", tools.ToolWebSearch, nil),
	})

	var order []string
	for _, s := range plan.Steps {
		order = append(order, s.Description)
	}
	want := []string{"a", "x", "y", "Organize and synthesize findings"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if q.remainingToolSteps() != 2 {
		t.Fatalf("remaining tool steps = %d", q.remainingToolSteps())
	}
}

func TestEngineOnePlanPerConversation(t *testing.T) {
	llm := &stubLLM{}
	e := newTestExecutor(llm, &stubInvoker{})
	g := &Engine{executor: e, active: make(map[string]*ExecutionPlan)}

	g.active["conv-1"] = &ExecutionPlan{ID: "p1"}
	plan := NewBuilder().Build(PlanNewsSearch, "x", nil)
	err := g.ExecutePlan(context.Background(), "conv-1", plan, nil, nil)
	if !errors.Is(err, ErrPlanActive) {
		t.Fatalf("err = %v, want ErrPlanActive", err)
	}
	if _, ok := g.PlanProgressFor("conv-1"); !ok {
		t.Fatal("active plan progress should resolve")
	}
	if g.CancelPlan("conv-2") {
		t.Fatal("cancel of idle conversation must report false")
	}
}
