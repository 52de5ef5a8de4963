package app

import (
	"github.com/qbitworks/simq/internal/controllers"
	"github.com/qbitworks/simq/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Redis).Handle)

	app.Engine.POST("/tasks",
		middleware.RateLimitSubmit(app.RateLimiter, app.Config.SubmitRateLimit),
		controllers.NewSubmitTaskController(app.Submission).Handle)
	app.Engine.GET("/tasks/:id", controllers.NewGetTaskController(app.Status).Handle)

	admin := app.Engine.Group("/admin")
	admin.GET("/queue", controllers.NewQueueStatsController(app.Queue, app.Repo).Handle)
	admin.POST("/reconcile", controllers.NewReconcileController(app.Reconciler).Handle)

	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
