package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/stackdl/internal/app"
)

type GroupsController struct {
	Service *app.Service
}

type limitRequest struct {
	Limit *int `json:"limit"`
}

func (ctrl *GroupsController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Service.Groups())
}

func (ctrl *GroupsController) Pause(c *echo.Context) error {
	if err := ctrl.Service.PauseGroup(c.Param("group")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *GroupsController) Resume(c *echo.Context) error {
	if err := ctrl.Service.ResumeGroup(c.Param("group")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetLimit changes a group's admission limit; 0 removes the limit
func (ctrl *GroupsController) SetLimit(c *echo.Context) error {
	var req limitRequest
	if err := c.Bind(&req); err != nil || req.Limit == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit is required"})
	}

	if err := ctrl.Service.SetLimit(c.Param("group"), *req.Limit); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
