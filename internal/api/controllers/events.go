package controllers

import (
	"github.com/labstack/echo/v5"

	"github.com/datallboy/stackdl/internal/events"
)

type EventsController struct {
	Hub *events.Hub
}

// Stream upgrades to a websocket and forwards scheduler events until the
// client disconnects
func (ctrl *EventsController) Stream(c *echo.Context) error {
	return ctrl.Hub.ServeWS(c.Request().Context(), c.Response(), c.Request())
}
