package controllers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/stackdl/internal/app"
	"github.com/datallboy/stackdl/internal/domain"
)

type DownloadsController struct {
	Service *app.Service
}

type submitResponse struct {
	ID     string           `json:"id"`
	Group  string           `json:"group"`
	Status domain.JobStatus `json:"status"`
}

// List returns every task the scheduler is tracking right now
func (ctrl *DownloadsController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Service.Snapshot())
}

// Submit schedules a download and answers before it finishes
func (ctrl *DownloadsController) Submit(c *echo.Context) error {
	var req app.DownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	rec, err := ctrl.Service.Submit(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, submitResponse{
		ID:     rec.DownloadID,
		Group:  rec.Group,
		Status: rec.Status,
	})
}

// History lists stored records, newest first. ?limit=N caps the result.
func (ctrl *DownloadsController) History(c *echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	recs, err := ctrl.Service.History(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	if recs == nil {
		recs = []*domain.DownloadRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (ctrl *DownloadsController) Get(c *echo.Context) error {
	rec, err := ctrl.Service.Record(c.Request().Context(), c.Param("group"), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Payload streams the stored output of a completed download
func (ctrl *DownloadsController) Payload(c *echo.Context) error {
	group, id := c.Param("group"), c.Param("id")

	r, err := ctrl.Service.Payload(c.Request().Context(), group, id)
	if err != nil {
		return respondError(c, err)
	}
	defer r.Close()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, r.ContentType())
	h.Set(echo.HeaderContentLength, strconv.FormatInt(r.Size(), 10))
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id))
	c.Response().WriteHeader(http.StatusOK)

	_, err = io.Copy(c.Response(), r)
	return err
}

func (ctrl *DownloadsController) Cancel(c *echo.Context) error {
	if err := ctrl.Service.Cancel(c.Request().Context(), c.Param("group"), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *DownloadsController) CancelAll(c *echo.Context) error {
	ctrl.Service.CancelAll()
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *DownloadsController) PauseAll(c *echo.Context) error {
	ctrl.Service.PauseAll()
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *DownloadsController) ResumeAll(c *echo.Context) error {
	ctrl.Service.ResumeAll()
	return c.NoContent(http.StatusNoContent)
}

// ReleaseMemory drops progress and resume data of queued downloads
func (ctrl *DownloadsController) ReleaseMemory(c *echo.Context) error {
	ctrl.Service.ReleaseMemory()
	return c.NoContent(http.StatusNoContent)
}
