package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tmsmtm/middleware"
	"tmsmtm/repository"
	mtmValidator "tmsmtm/validators/mtm"
)

func (h *Handler) AdminListEnrollments(c *fiber.Ctx) error {
	q, _ := c.Locals("validatedList").(*mtmValidator.ListQuery)
	if q == nil {
		q = &mtmValidator.ListQuery{Page: 1, Limit: 20}
	}
	limit, offset := page(q.Page, q.Limit)

	params := repository.ListEnrollmentsParams{Limit: limit, Offset: offset}
	if q.Status != "" {
		params.Status = &q.Status
	}
	if v := c.QueryInt("model_id"); v > 0 {
		id := uint(v)
		params.ModelID = &id
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

func (h *Handler) AdminApprove(c *fiber.Ctx) error {
	adminID, _ := middleware.CurrentUser(c)
	res, err := h.Enrollments.Approve(c.UserContext(), c.Locals("id").(uint), adminID)
	if err != nil {
		return h.engineError(c, err, "Failed to approve enrollment!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Enrollment approved!", res)
}

func (h *Handler) AdminReject(c *fiber.Ctx) error {
	adminID, _ := middleware.CurrentUser(c)
	reqData, ok := c.Locals("validatedReason").(*mtmValidator.ReasonRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}
	if err := h.Enrollments.Reject(c.UserContext(), c.Locals("id").(uint), adminID, reqData.Reason); err != nil {
		return h.engineError(c, err, "Failed to reject enrollment!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Enrollment rejected!", nil)
}

// AdminOverrideTrade resolves a flagged trade so it counts toward progress.
func (h *Handler) AdminOverrideTrade(c *fiber.Ctx) error {
	adminID, _ := middleware.CurrentUser(c)
	reqData, ok := c.Locals("validatedReason").(*mtmValidator.ReasonRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}
	trade, verdict, err := h.Journal.Override(c.UserContext(), adminID, c.Locals("id").(uint), reqData.Reason)
	if err != nil {
		return h.engineError(c, err, "Failed to override trade!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Trade overridden!", fiber.Map{
		"trade":   trade,
		"verdict": verdict,
	})
}

// AdminApplyProgress forces a re-evaluation of one task.
func (h *Handler) AdminApplyProgress(c *fiber.Ctx) error {
	verdict, err := h.Tracker.ApplyProgress(c.UserContext(), c.Locals("id").(uint), c.Locals("taskId").(uint))
	if err != nil {
		return h.engineError(c, err, "Failed to apply progress!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, verdict.Reason, verdict)
}
