package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tmsmtm/engine"
	"tmsmtm/middleware"
	"tmsmtm/repository"
)

// Handler serves the MTM endpoints on top of the engine services.
type Handler struct {
	Repo        repository.MTMRepository
	Enrollments *engine.EnrollmentService
	Tracker     *engine.Tracker
	Journal     *engine.Journal
	Logger      *zap.Logger
}

// engineError writes err in the JSON envelope with a status matching its
// engine code.
func (h *Handler) engineError(c *fiber.Ctx, err error, fallback string) error {
	code := engine.ErrorCode(err)
	status := fiber.StatusInternalServerError
	message := fallback
	switch code {
	case engine.CodeAlreadyEnrolled:
		status, message = fiber.StatusConflict, "Already enrolled in this model!"
	case engine.CodeNotFound:
		status, message = fiber.StatusNotFound, "Not found!"
	case engine.CodeInvalidTransition:
		status, message = fiber.StatusConflict, err.Error()
	case engine.CodeTaskLocked:
		status, message = fiber.StatusConflict, "Task is locked for this enrollment!"
	case engine.CodeInvalidOutcome:
		status, message = fiber.StatusUnprocessableEntity, "Outcome must be a terminal outcome!"
	default:
		if h.Logger != nil {
			h.Logger.Error(fallback, zap.Error(err), zap.String("path", c.Path()))
		}
	}
	return middleware.JsonResponse(c, status, false, message, fiber.Map{"code": code})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func page(p, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if p <= 0 {
		p = 1
	}
	return limit, (p - 1) * limit
}
