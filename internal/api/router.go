package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/stackdl/internal/api/controllers"
	"github.com/datallboy/stackdl/internal/app"
	"github.com/datallboy/stackdl/internal/events"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, svc *app.Service, hub *events.Hub) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	downloads := &controllers.DownloadsController{Service: svc}
	groups := &controllers.GroupsController{Service: svc}

	api := e.Group("/api")

	api.GET("/groups", groups.List)
	api.PUT("/groups/:group/limit", groups.SetLimit)
	api.POST("/groups/:group/pause", groups.Pause)
	api.POST("/groups/:group/resume", groups.Resume)

	api.GET("/downloads", downloads.List)
	api.POST("/downloads", downloads.Submit)
	api.DELETE("/downloads", downloads.CancelAll)
	api.GET("/downloads/history", downloads.History)
	api.GET("/downloads/:group/:id", downloads.Get)
	api.GET("/downloads/:group/:id/payload", downloads.Payload)
	api.DELETE("/downloads/:group/:id", downloads.Cancel)

	api.POST("/pause", downloads.PauseAll)
	api.POST("/resume", downloads.ResumeAll)
	api.POST("/memory/release", downloads.ReleaseMemory)

	// Live scheduler events over a websocket
	if hub != nil {
		eventsCtrl := &controllers.EventsController{Hub: hub}
		api.GET("/events", eventsCtrl.Stream)
	}
}
