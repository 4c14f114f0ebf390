package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetricsRoutes 暴露 /-/metrics，供 Prometheus 抓取。
func RegisterMetricsRoutes(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
