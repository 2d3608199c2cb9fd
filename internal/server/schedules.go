package server

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/zeroloop/zeroloop/internal/store"
)

type SchedulesHandler struct {
	Store *store.Store
}

func (h *SchedulesHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.PUT("/:id", h.update)
}

func (h *SchedulesHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	items, err := h.Store.ListSchedules(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.ScheduleRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	expr, err := cronexpr.Parse(req.Cron)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression: "+err.Error())
	}
	ctx := c.Request().Context()
	userID := c.Get("user_id").(string)

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := h.Store.CreateConversation(ctx, userID, req.Query)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		conversationID = conv.ID
	} else if _, ok, err := h.Store.GetConversation(ctx, conversationID, userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	next := expr.Next(time.Now())
	rec, err := h.Store.CreateSchedule(ctx, store.ScheduleRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          req.Query,
		PlanType:       req.PlanType,
		Cron:           req.Cron,
		Enabled:        true,
		NextRunAt:      &next,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *SchedulesHandler) update(c echo.Context) error {
	var req UpdateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	err := h.Store.SetScheduleEnabled(c.Request().Context(), c.Param("id"), userID, req.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
