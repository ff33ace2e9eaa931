package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"biasaudit/internal/http/middleware"
	"biasaudit/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app. Everything under /api
// requires an authenticated owner.
func RegisterRoutes(app *fiber.App, db *sql.DB, scanSvc service.ScanService, maxUploadBytes int) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	api := app.Group("/api", middleware.Identity())

	api.Get("/scans", ListScans(scanSvc))
	api.Post("/scans", CreateScan(scanSvc, maxUploadBytes))
	api.Get("/scans/:id", GetScan(scanSvc))
	api.Post("/scans/:id/analyze", AnalyzeScan(scanSvc))
	api.Get("/scans/:id/report", GetReport(scanSvc))
	api.Get("/usage", GetUsage(scanSvc))
}
