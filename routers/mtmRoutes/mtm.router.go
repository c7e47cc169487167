package mtmRoutes

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	controllers "tmsmtm/controllers/mtm"
	"tmsmtm/middleware"
	"tmsmtm/models"
	validators "tmsmtm/validators/mtm"
)

func SetupMTMRoutes(app *fiber.App, h *controllers.Handler, db *sql.DB) {
	app.Get("/health", controllers.Health(db))

	mtmGroup := app.Group("/mtm", middleware.JWTMiddleware)

	// Enrollments
	mtmGroup.Post("/enrollments", validators.Enroll(), h.Enroll)
	mtmGroup.Post("/enrollments/request", validators.Enroll(), h.RequestEnrollment)
	mtmGroup.Get("/enrollments", validators.List(), h.MyEnrollments)
	mtmGroup.Get("/enrollments/:id/progress", validators.ID("id"), h.Progress)
	mtmGroup.Get("/enrollments/:id/tasks/:taskId/evaluate", validators.ID("id", "taskId"), h.Evaluate)
	mtmGroup.Post("/enrollments/:id/drop", validators.ID("id"), h.Drop)

	// Trade journal
	mtmGroup.Post("/trades", validators.SubmitTrade(), h.SubmitTrade)
	mtmGroup.Get("/trades", validators.List(), h.MyTrades)
	mtmGroup.Patch("/trades/:id/close", validators.ID("id"), validators.CloseTrade(), h.CloseTrade)
	mtmGroup.Delete("/trades/:id", validators.ID("id"), h.DeleteTrade)

	adminGroup := app.Group("/admin/mtm", middleware.JWTMiddleware, middleware.RequireRole(models.RoleAdmin))
	adminGroup.Get("/enrollments", validators.List(), h.AdminListEnrollments)
	adminGroup.Patch("/enrollments/:id/approve", validators.ID("id"), h.AdminApprove)
	adminGroup.Patch("/enrollments/:id/reject", validators.ID("id"), validators.Reason(), h.AdminReject)
	adminGroup.Post("/enrollments/:id/tasks/:taskId/apply", validators.ID("id", "taskId"), h.AdminApplyProgress)
	adminGroup.Patch("/trades/:id/override", validators.ID("id"), validators.Reason(), h.AdminOverrideTrade)
}
