package core

import "github.com/zeroloop/zeroloop/internal/tools"

// stepQueue walks a plan's growable step list with an explicit cursor
// instead of re-reading a mutated slice inside a range loop. Insertions
// land immediately after the cursor and always ahead of the trailing
// synthesis suffix, which keeps the ordering guarantee checkable on its
// own: inserted steps run after the step that triggered them and before
// any pre-existing organize/synthesize steps.
type stepQueue struct {
	plan   *ExecutionPlan
	cursor int
}

func newStepQueue(plan *ExecutionPlan) *stepQueue {
	return &stepQueue{plan: plan, cursor: -1}
}

// next advances the cursor and returns the step now under it.
func (q *stepQueue) next() (*PlanStep, bool) {
	if q.cursor+1 >= len(q.plan.Steps) {
		return nil, false
	}
	q.cursor++
	q.plan.CurrentStepIndex = q.cursor
	return q.plan.Steps[q.cursor], true
}

// insertAfterCursor splices steps in directly after the current step,
// capped so they never displace the trailing synthesis suffix.
func (q *stepQueue) insertAfterCursor(steps []*PlanStep) {
	if len(steps) == 0 {
		return
	}
	pos := q.cursor + 1
	if suffix := q.trailingSynthesisStart(); pos > suffix {
		pos = suffix
	}
	out := make([]*PlanStep, 0, len(q.plan.Steps)+len(steps))
	out = append(out, q.plan.Steps[:pos]...)
	out = append(out, steps...)
	out = append(out, q.plan.Steps[pos:]...)
	q.plan.Steps = out
}

// remaining returns the steps after the cursor.
func (q *stepQueue) remaining() []*PlanStep {
	if q.cursor+1 >= len(q.plan.Steps) {
		return nil
	}
	return q.plan.Steps[q.cursor+1:]
}

// remainingToolSteps counts post-cursor steps that invoke an external tool.
func (q *stepQueue) remainingToolSteps() int {
	n := 0
	for _, s := range q.remaining() {
		if s.Tool != tools.ToolSynthesis {
			n++
		}
	}
	return n
}

// trailingSynthesisStart returns the index where the plan's uninterrupted
// trailing run of synthesis steps begins, or len(steps) when there is none.
func (q *stepQueue) trailingSynthesisStart() int {
	i := len(q.plan.Steps)
	for i > 0 && q.plan.Steps[i-1].Tool == tools.ToolSynthesis {
		i--
	}
	return i
}
