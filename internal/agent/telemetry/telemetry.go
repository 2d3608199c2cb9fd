package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeroloop/zeroloop/config"
)

// Telemetry records plan, step and model events, tracks spend, and feeds the
// Prometheus registry behind /metrics.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker

	plansTotal   *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	planDuration prometheus.Histogram
	toolDuration *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec
}

// CostTracker tracks LLM spend per model and operation.
type CostTracker struct {
	mu             sync.RWMutex
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

// PlanEvent is recorded once per finished plan run.
type PlanEvent struct {
	PlanID      string
	PlanType    string
	UserRequest string
	StartTime   time.Time
	EndTime     time.Time
	Success     bool
	Error       string
	StepsTotal  int
	StepsDone   int
	Adaptive    bool
}

// StepEvent is recorded once per finished step.
type StepEvent struct {
	PlanID    string
	StepID    string
	Tool      string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     string
}

// LLMEvent is recorded once per model call.
type LLMEvent struct {
	Operation    string // classification, adaptation, synthesis, chat
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Duration     time.Duration
	Success      bool
}

// CostSummary is a point-in-time copy of accumulated spend.
type CostSummary struct {
	TotalCost      float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

var (
	registerOnce sync.Once
	shared       struct {
		plansTotal   *prometheus.CounterVec
		stepsTotal   *prometheus.CounterVec
		planDuration prometheus.Histogram
		toolDuration *prometheus.HistogramVec
		llmTokens    *prometheus.CounterVec
	}
)

// NewTelemetry creates a telemetry instance. Prometheus collectors register
// once on the default registry no matter how many instances exist.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registerOnce.Do(func() {
		shared.plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroloop_plans_total",
			Help: "Finished plan runs by plan type and outcome.",
		}, []string{"plan_type", "status"})
		shared.stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroloop_plan_steps_total",
			Help: "Finished plan steps by tool and outcome.",
		}, []string{"tool", "status"})
		shared.planDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zeroloop_plan_duration_seconds",
			Help:    "Wall-clock duration of plan runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		})
		shared.toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zeroloop_tool_duration_seconds",
			Help:    "Duration of individual tool invocations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"tool"})
		shared.llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroloop_llm_tokens_total",
			Help: "Tokens consumed per model and direction.",
		}, []string{"model", "direction"})
	})

	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
		plansTotal:   shared.plansTotal,
		stepsTotal:   shared.stepsTotal,
		planDuration: shared.planDuration,
		toolDuration: shared.toolDuration,
		llmTokens:    shared.llmTokens,
	}
}

// RecordPlanEvent records a finished plan run.
func (t *Telemetry) RecordPlanEvent(ctx context.Context, ev PlanEvent) {
	if t == nil {
		return
	}
	status := "completed"
	if !ev.Success {
		status = "failed"
	}
	t.plansTotal.WithLabelValues(ev.PlanType, status).Inc()
	if !ev.EndTime.IsZero() && !ev.StartTime.IsZero() {
		t.planDuration.Observe(ev.EndTime.Sub(ev.StartTime).Seconds())
	}
	if t.config.Enabled {
		t.logger.Printf("plan %s (%s) %s: %d/%d steps in %v",
			ev.PlanID, ev.PlanType, status, ev.StepsDone, ev.StepsTotal, ev.EndTime.Sub(ev.StartTime))
	}
}

// RecordStepEvent records a finished step.
func (t *Telemetry) RecordStepEvent(ctx context.Context, ev StepEvent) {
	if t == nil {
		return
	}
	status := "completed"
	if !ev.Success {
		status = "failed"
	}
	t.stepsTotal.WithLabelValues(ev.Tool, status).Inc()
	if !ev.EndTime.IsZero() && !ev.StartTime.IsZero() {
		t.toolDuration.WithLabelValues(ev.Tool).Observe(ev.EndTime.Sub(ev.StartTime).Seconds())
	}
}

// RecordLLMEvent records a model call and its spend.
func (t *Telemetry) RecordLLMEvent(ctx context.Context, ev LLMEvent) {
	if t == nil {
		return
	}
	t.llmTokens.WithLabelValues(ev.Model, "input").Add(float64(ev.InputTokens))
	t.llmTokens.WithLabelValues(ev.Model, "output").Add(float64(ev.OutputTokens))

	if !t.config.CostTracking {
		return
	}
	t.costTracker.mu.Lock()
	defer t.costTracker.mu.Unlock()
	t.costTracker.ModelCosts[ev.Model] += ev.Cost
	t.costTracker.OperationCosts[ev.Operation] += ev.Cost
	t.costTracker.TotalCost += ev.Cost
	t.costTracker.TotalTokens += ev.InputTokens + ev.OutputTokens
}

// GetCostSummary returns a copy of accumulated spend.
func (t *Telemetry) GetCostSummary() CostSummary {
	if t == nil {
		return CostSummary{}
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()

	summary := CostSummary{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		ModelCosts:     make(map[string]float64),
		OperationCosts: make(map[string]float64),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.OperationCosts {
		summary.OperationCosts[k] = v
	}
	return summary
}

// Shutdown logs a final spend report.
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	costs := t.GetCostSummary()
	t.logger.Printf("final report: cost=$%.4f tokens=%d", costs.TotalCost, costs.TotalTokens)
	for model, cost := range costs.ModelCosts {
		t.logger.Printf("  model %s: $%.4f", model, cost)
	}
}
