package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tmsmtm/middleware"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
	mtmValidator "tmsmtm/validators/mtm"
)

// Enroll enrolls the current trader directly and unlocks the first task.
func (h *Handler) Enroll(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedEnrollment").(*mtmValidator.EnrollRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	res, err := h.Enrollments.Enroll(c.UserContext(), userID, reqData.ModelID, reqData.Tier)
	if err != nil {
		return h.engineError(c, err, "Failed to enroll!")
	}
	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Enrolled successfully!", res)
}

// RequestEnrollment files a pending enrollment for admin approval.
func (h *Handler) RequestEnrollment(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedEnrollment").(*mtmValidator.EnrollRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	enrollment, err := h.Enrollments.Request(c.UserContext(), userID, reqData.ModelID, reqData.Tier)
	if err != nil {
		return h.engineError(c, err, "Failed to request enrollment!")
	}
	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Enrollment requested!", enrollment)
}

func (h *Handler) MyEnrollments(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	q, _ := c.Locals("validatedList").(*mtmValidator.ListQuery)
	if q == nil {
		q = &mtmValidator.ListQuery{Page: 1, Limit: 20}
	}
	limit, offset := page(q.Page, q.Limit)

	params := repository.ListEnrollmentsParams{UserID: &userID, Limit: limit, Offset: offset}
	if q.Status != "" {
		params.Status = &q.Status
	}
	items, total, err := h.Repo.ListEnrollments(c.UserContext(), params)
	if err != nil {
		return h.engineError(c, err, "Failed to fetch enrollments!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Enrollments fetched successfully!", fiber.Map{
		"items": items,
		"total": total,
		"page":  q.Page,
		"limit": limit,
	})
}

// Progress lists the task progress rows of one of the trader's enrollments.
func (h *Handler) Progress(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	enrollmentID := c.Locals("id").(uint)

	enrollment, err := h.Repo.GetEnrollment(c.UserContext(), enrollmentID)
	if err != nil || enrollment.UserID != userID {
		if err == nil || isNotFound(err) {
			return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Enrollment not found!", nil)
		}
		return h.engineError(c, err, "Failed to fetch progress!")
	}

	rows, err := h.Repo.ListProgress(c.UserContext(), enrollmentID)
	if err != nil {
		return h.engineError(c, err, "Failed to fetch progress!")
	}
	if rows == nil {
		rows = []mtm.TaskProgress{}
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Progress fetched successfully!", fiber.Map{
		"enrollment": enrollment,
		"progress":   rows,
	})
}

// Evaluate reports whether a task would pass now, without recording it.
func (h *Handler) Evaluate(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	enrollmentID := c.Locals("id").(uint)
	taskID := c.Locals("taskId").(uint)

	enrollment, err := h.Repo.GetEnrollment(c.UserContext(), enrollmentID)
	if err != nil || enrollment.UserID != userID {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Enrollment not found!", nil)
	}
	ev, err := h.Tracker.Evaluate(c.UserContext(), enrollmentID, taskID)
	if err != nil {
		return h.engineError(c, err, "Failed to evaluate task!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, ev.Reason, fiber.Map{
		"evaluation":  ev,
		"rules":       ev.Resolution.Rules,
		"rule_source": ev.Resolution.Source,
	})
}

func (h *Handler) Drop(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	enrollmentID := c.Locals("id").(uint)

	enrollment, err := h.Repo.GetEnrollment(c.UserContext(), enrollmentID)
	if err != nil || enrollment.UserID != userID {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Enrollment not found!", nil)
	}
	if err := h.Enrollments.Drop(c.UserContext(), enrollmentID, userID); err != nil {
		return h.engineError(c, err, "Failed to drop enrollment!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Enrollment dropped!", nil)
}
