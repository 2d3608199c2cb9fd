package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zeroloop/zeroloop/internal/store"
)

type RunsHandler struct {
	Store *store.Store
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("/:id", h.get)
}

// get returns the audit record of a finished plan run. The record must
// belong to a conversation owned by the caller.
func (h *RunsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	rec, ok, err := h.Store.GetPlanRun(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plan run not found")
	}
	userID := c.Get("user_id").(string)
	if _, owned, err := h.Store.GetConversation(ctx, rec.ConversationID, userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !owned {
		return echo.NewHTTPError(http.StatusNotFound, "plan run not found")
	}
	return c.JSON(http.StatusOK, rec)
}
