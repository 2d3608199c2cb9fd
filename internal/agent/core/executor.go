package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeroloop/zeroloop/internal/agent/telemetry"
	"github.com/zeroloop/zeroloop/internal/tools"
)

// ErrPlanCancelled is returned from Execute when the run was cancelled.
var ErrPlanCancelled = errors.New("plan cancelled")

// maxAdaptiveSteps bounds how many steps one run may insert mid-flight.
const maxAdaptiveSteps = 4

var executorTracer trace.Tracer = otel.Tracer("zeroloop/internal/agent/executor")

// Executor runs plans sequentially: one step at a time, fail fast on tool
// errors, adaptive insertion between steps, synthesis at the end. A plan is
// mutated by exactly one Execute call; the step-update callback is the only
// read path during a run.
type Executor struct {
	invoker     ToolInvoker
	builder     *Builder
	adapter     *Adapter
	synthesizer *Synthesizer
	telemetry   *telemetry.Telemetry
	logger      *log.Logger

	mu   sync.Mutex
	runs map[string]*planRun
}

type planRun struct {
	cancelled atomic.Bool
}

func NewExecutor(invoker ToolInvoker, builder *Builder, adapter *Adapter, synthesizer *Synthesizer, tel *telemetry.Telemetry, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Executor{
		invoker:     invoker,
		builder:     builder,
		adapter:     adapter,
		synthesizer: synthesizer,
		telemetry:   tel,
		logger:      logger,
		runs:        make(map[string]*planRun),
	}
}

// Cancel requests cooperative cancellation of a running plan. The loop
// stops at the next iteration boundary; an in-flight tool call is not
// aborted.
func (e *Executor) Cancel(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[planID]; ok {
		run.cancelled.Store(true)
	}
}

// PlanProgress derives the read-only progress view: completed step count
// over total, as a rounded percentage.
func PlanProgress(plan *ExecutionPlan) Progress {
	total := len(plan.Steps)
	completed := 0
	for _, s := range plan.Steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	pct := 0
	if total > 0 {
		pct = int(math.Round(100 * float64(completed) / float64(total)))
	}
	return Progress{Current: completed, Total: total, Percentage: pct}
}

// Execute runs the plan to a terminal state. Tool failures and cancellation
// mark the plan failed and return an error; synthesis failures degrade to
// concatenation and never block completion. The plan is always in a
// terminal state when Execute returns.
func (e *Executor) Execute(ctx context.Context, plan *ExecutionPlan, onStepUpdate StepUpdateFunc, onPlanComplete PlanCompleteFunc) (err error) {
	if plan.Status != PlanPending {
		return fmt.Errorf("plan %s is %s, only pending plans can execute", plan.ID, plan.Status)
	}
	if plan.AccumulatedFindings == nil {
		plan.AccumulatedFindings = make(map[string]string)
	}

	ctx, span := executorTracer.Start(ctx, "agent.execute_plan",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.String("plan.type", plan.PlanType),
			attribute.Int("plan.steps", len(plan.Steps)),
			attribute.Bool("plan.adaptive", plan.IsAdaptive),
		))
	defer span.End()

	run := &planRun{}
	e.mu.Lock()
	e.runs[plan.ID] = run
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, plan.ID)
		e.mu.Unlock()
	}()

	startTime := time.Now()
	plan.Status = PlanExecuting
	e.logger.Printf("plan %s (%s): starting %d steps", plan.ID, plan.PlanType, len(plan.Steps))

	defer func() {
		success := err == nil
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, errMsg)
		} else {
			span.SetStatus(codes.Ok, "completed")
		}
		p := PlanProgress(plan)
		e.telemetry.RecordPlanEvent(ctx, telemetry.PlanEvent{
			PlanID:      plan.ID,
			PlanType:    plan.PlanType,
			UserRequest: plan.UserRequest,
			StartTime:   startTime,
			EndTime:     time.Now(),
			Success:     success,
			Error:       errMsg,
			StepsTotal:  p.Total,
			StepsDone:   p.Current,
			Adaptive:    plan.IsAdaptive,
		})
	}()

	queue := newStepQueue(plan)
	var contents []string
	var synthesisOut string
	inserted := 0

	for {
		if run.cancelled.Load() {
			plan.Status = PlanFailed
			e.logger.Printf("plan %s: cancelled after %d steps", plan.ID, PlanProgress(plan).Current)
			return ErrPlanCancelled
		}
		step, ok := queue.next()
		if !ok {
			break
		}

		if step.Tool == tools.ToolSynthesis {
			synthesisOut = e.runSynthesisStep(ctx, plan, step, contents, onStepUpdate)
			continue
		}

		extracted, stepErr := e.runToolStep(ctx, plan, step, onStepUpdate)
		if stepErr != nil {
			plan.Status = PlanFailed
			return stepErr
		}
		contents = append(contents, extracted)

		if plan.IsAdaptive && inserted < maxAdaptiveSteps && queue.remainingToolSteps() > 0 {
			inserted += e.maybeAdapt(ctx, plan, queue, maxAdaptiveSteps-inserted)
		}
	}

	final := synthesisOut
	if final == "" {
		final = e.synthesizer.Synthesize(ctx, plan.UserRequest, contents, plan.AccumulatedFindings)
	}
	plan.FinalResult = final
	plan.Status = PlanCompleted
	e.logger.Printf("plan %s: completed in %v", plan.ID, time.Since(startTime))
	if onPlanComplete != nil {
		onPlanComplete(final)
	}
	return nil
}

// runToolStep drives one step through executing to completed or failed and
// returns the extracted content. A returned error means the plan must
// abort: later steps depend on earlier findings, so there is no
// partial-failure continuation.
func (e *Executor) runToolStep(ctx context.Context, plan *ExecutionPlan, step *PlanStep, onStepUpdate StepUpdateFunc) (string, error) {
	ctx, span := executorTracer.Start(ctx, "agent.execute_step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.tool", step.Tool),
		))
	defer span.End()

	start := time.Now()
	step.Status = StepExecuting
	step.StartTime = &start
	notify(onStepUpdate, step)

	inv, err := e.invoker.Invoke(ctx, step.Tool, step.Parameters)
	if err != nil {
		// Configuration errors are unrecoverable programmer/deployment
		// faults and propagate as-is.
		e.failStep(ctx, plan, step, err.Error(), onStepUpdate)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("step %q: %w", step.Description, err)
	}
	if !inv.Success {
		e.failStep(ctx, plan, step, inv.Error, onStepUpdate)
		span.SetStatus(codes.Error, inv.Error)
		return "", fmt.Errorf("step %q failed: %s", step.Description, inv.Error)
	}

	extracted := inv.Payload.ExtractText()
	end := time.Now()
	step.Status = StepCompleted
	step.EndTime = &end
	step.Result = &inv
	step.ExtractedContent = extracted
	appendFinding(plan, step.Tool, extracted)
	notify(onStepUpdate, step)
	span.SetStatus(codes.Ok, "completed")

	e.telemetry.RecordStepEvent(ctx, telemetry.StepEvent{
		PlanID:    plan.ID,
		StepID:    step.ID,
		Tool:      step.Tool,
		StartTime: start,
		EndTime:   end,
		Success:   true,
	})
	return extracted, nil
}

// runSynthesisStep aggregates findings-so-far locally. Zero network cost
// beyond the model call, and it cannot fail the plan: the synthesizer
// degrades to concatenation internally.
func (e *Executor) runSynthesisStep(ctx context.Context, plan *ExecutionPlan, step *PlanStep, contents []string, onStepUpdate StepUpdateFunc) string {
	ctx, span := executorTracer.Start(ctx, "agent.synthesize")
	defer span.End()

	start := time.Now()
	step.Status = StepExecuting
	step.StartTime = &start
	notify(onStepUpdate, step)

	out := e.synthesizer.Synthesize(ctx, plan.UserRequest, contents, plan.AccumulatedFindings)

	end := time.Now()
	step.Status = StepCompleted
	step.EndTime = &end
	step.ExtractedContent = out
	step.Result = &tools.Invocation{Success: true, Payload: tools.TextPayload(out)}
	notify(onStepUpdate, step)
	span.SetStatus(codes.Ok, "completed")

	e.telemetry.RecordStepEvent(ctx, telemetry.StepEvent{
		PlanID:    plan.ID,
		StepID:    step.ID,
		Tool:      step.Tool,
		StartTime: start,
		EndTime:   end,
		Success:   true,
	})
	return out
}

func (e *Executor) failStep(ctx context.Context, plan *ExecutionPlan, step *PlanStep, msg string, onStepUpdate StepUpdateFunc) {
	end := time.Now()
	step.Status = StepFailed
	step.Error = msg
	step.EndTime = &end
	notify(onStepUpdate, step)

	start := end
	if step.StartTime != nil {
		start = *step.StartTime
	}
	e.telemetry.RecordStepEvent(ctx, telemetry.StepEvent{
		PlanID:    plan.ID,
		StepID:    step.ID,
		Tool:      step.Tool,
		StartTime: start,
		EndTime:   end,
		Success:   false,
		Error:     msg,
	})
	e.logger.Printf("plan %s: step %q failed: %s", plan.ID, step.Description, msg)
}

// maybeAdapt runs the adaptation analysis and splices in any proposed
// steps, capped at limit. Adaptation errors are soft; the plan continues
// unchanged. Returns the number of steps inserted.
func (e *Executor) maybeAdapt(ctx context.Context, plan *ExecutionPlan, queue *stepQueue, limit int) int {
	if e.adapter == nil {
		return 0
	}
	analysis, err := e.adapter.Analyze(ctx, plan.UserRequest, plan.AccumulatedFindings, queue.remaining())
	if err != nil {
		e.logger.Printf("plan %s: adaptation analysis failed, continuing: %v", plan.ID, err)
		return 0
	}
	if !analysis.NeedsMoreSteps || len(analysis.NewSteps) == 0 {
		return 0
	}

	steps := e.builder.AdaptiveSteps(analysis.NewSteps, analysis.Reasoning)
	if len(steps) > limit {
		steps = steps[:limit]
	}
	if len(steps) == 0 {
		return 0
	}
	queue.insertAfterCursor(steps)
	e.logger.Printf("plan %s: inserted %d adaptive steps: %s", plan.ID, len(steps), analysis.Reasoning)
	return len(steps)
}

func appendFinding(plan *ExecutionPlan, tool, content string) {
	if content == "" {
		return
	}
	if prev, ok := plan.AccumulatedFindings[tool]; ok && prev != "" {
		plan.AccumulatedFindings[tool] = prev + "\n\n" + content
		return
	}
	plan.AccumulatedFindings[tool] = content
}

func notify(fn StepUpdateFunc, step *PlanStep) {
	if fn != nil {
		fn(step)
	}
}
