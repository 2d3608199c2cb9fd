package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/zeroloop/zeroloop/internal/store"
)

type ConversationsHandler struct {
	Store  *store.Store
	Engine PlanEngine
}

func (h *ConversationsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id/messages", h.messages)
	g.GET("/:id/runs", h.runs)
	g.GET("/:id/progress", h.progress)
	g.POST("/:id/cancel", h.cancel)
}

func (h *ConversationsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	items, err := h.Store.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Conversation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConversationsHandler) create(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	conv, err := h.Store.CreateConversation(c.Request().Context(), userID, req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *ConversationsHandler) messages(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.ListMessages(c.Request().Context(), conv.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.MessageRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConversationsHandler) runs(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.ListPlanRuns(c.Request().Context(), conv.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.PlanRunRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

// progress reports the running plan for a conversation, if any.
func (h *ConversationsHandler) progress(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	plan, ok := h.Engine.ActivePlan(conv.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no active plan")
	}
	progress, _ := h.Engine.PlanProgressFor(conv.ID)
	return c.JSON(http.StatusOK, ProgressResponse{
		PlanID:     plan.ID,
		Status:     string(plan.Status),
		Current:    progress.Current,
		Total:      progress.Total,
		Percentage: progress.Percentage,
	})
}

// cancel requests cooperative cancellation of the running plan.
func (h *ConversationsHandler) cancel(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	if !h.Engine.CancelPlan(conv.ID) {
		return echo.NewHTTPError(http.StatusNotFound, "no active plan")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *ConversationsHandler) owned(c echo.Context) (store.Conversation, error) {
	userID := c.Get("user_id").(string)
	conv, ok, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return store.Conversation{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return store.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return conv, nil
}
