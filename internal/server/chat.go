package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	core "github.com/zeroloop/zeroloop/internal/agent/core"
	"github.com/zeroloop/zeroloop/internal/session"
	"github.com/zeroloop/zeroloop/internal/store"
)

// PlanEngine is the orchestrator surface the HTTP layer depends on.
type PlanEngine interface {
	HandleMessage(ctx context.Context, conversationID, message string, history []core.Message, onStepUpdate core.StepUpdateFunc) (*core.ChatResult, error)
	PlanProgressFor(conversationID string) (core.Progress, bool)
	ActivePlan(conversationID string) (*core.ExecutionPlan, bool)
	CancelPlan(conversationID string) bool
}

type ChatHandler struct {
	Store    *store.Store
	Sessions *session.Store
	Engine   PlanEngine
	Logger   *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
}

// chat handles one user message end to end: resolve the conversation, run
// detection and (maybe) a plan, persist both sides of the exchange, and
// record an audit row for any executed plan.
func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	ctx := c.Request().Context()
	userID := c.Get("user_id").(string)

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := h.Store.CreateConversation(ctx, userID, titleFrom(req.Message))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		conversationID = conv.ID
	} else {
		_, ok, err := h.Store.GetConversation(ctx, conversationID, userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
	}

	// History feeding the detectors excludes the message being handled.
	history := h.Sessions.Ensure(ctx, conversationID).History()

	userMsg := core.Message{Role: "user", Content: req.Message, CreatedAt: time.Now()}
	h.Sessions.Record(ctx, conversationID, userMsg)
	if _, err := h.Store.AddMessage(ctx, conversationID, "user", req.Message); err != nil {
		h.Logger.Printf("persist user message: %v", err)
	}

	result, err := h.Engine.HandleMessage(ctx, conversationID, req.Message, history, nil)
	if err != nil {
		if errors.Is(err, core.ErrPlanActive) {
			return echo.NewHTTPError(http.StatusConflict, "a plan is already running for this conversation")
		}
		if result != nil && result.Plan != nil {
			h.persistPlanRun(ctx, conversationID, req.Message, result.Plan)
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	h.Sessions.Record(ctx, conversationID, core.Message{Role: "assistant", Content: result.Text, CreatedAt: time.Now()})
	if _, err := h.Store.AddMessage(ctx, conversationID, "assistant", result.Text); err != nil {
		h.Logger.Printf("persist assistant message: %v", err)
	}

	resp := ChatResponse{ConversationID: conversationID, Reply: result.Text}
	if result.Classification != nil {
		resp.Confidence = result.Classification.Confidence
	}
	if result.Plan != nil {
		h.persistPlanRun(ctx, conversationID, req.Message, result.Plan)
		resp.UsedPlan = true
		resp.PlanID = result.Plan.ID
		resp.PlanType = result.Plan.PlanType
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) persistPlanRun(ctx context.Context, conversationID, request string, plan *core.ExecutionPlan) {
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		h.Logger.Printf("marshal plan steps: %v", err)
		steps = []byte("[]")
	}
	rec := store.PlanRunRecord{
		ID:             plan.ID,
		ConversationID: conversationID,
		PlanType:       plan.PlanType,
		Status:         string(plan.Status),
		UserRequest:    request,
		Steps:          steps,
		FinalResult:    plan.FinalResult,
	}
	for _, step := range plan.Steps {
		if step.StartTime != nil && rec.StartedAt == nil {
			rec.StartedAt = step.StartTime
		}
		if step.EndTime != nil {
			rec.FinishedAt = step.EndTime
		}
		if step.Error != "" && rec.Error == "" {
			rec.Error = step.Error
		}
	}
	if err := h.Store.InsertPlanRun(ctx, rec); err != nil {
		h.Logger.Printf("persist plan run %s: %v", plan.ID, err)
	}
}

func titleFrom(message string) string {
	const max = 80
	if len(message) <= max {
		return message
	}
	return message[:max]
}
