package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tmsmtm/engine"
	"tmsmtm/middleware"
	"tmsmtm/repository"
	mtmValidator "tmsmtm/validators/mtm"
)

// SubmitTrade journals a trade against an unlocked task. Blocked trades are
// answered with 422 and the violations; nothing is stored.
func (h *Handler) SubmitTrade(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedTrade").(*mtmValidator.TradeRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	out, err := h.Journal.Submit(c.UserContext(), engine.TradeInput{
		UserID:          userID,
		EnrollmentID:    reqData.EnrollmentID,
		TaskID:          reqData.TaskID,
		Symbol:          reqData.Symbol,
		Direction:       reqData.Direction,
		EntryPrice:      reqData.EntryPrice,
		StopLoss:        reqData.StopLoss,
		TargetPrice:     reqData.TargetPrice,
		PositionPercent: reqData.PositionPercent,
		Outcome:         reqData.Outcome,
		ClosedAt:        reqData.ClosedAt,
		AnalysisLink:    reqData.AnalysisLink,
		Notes:           reqData.Notes,
		MarketCap:       reqData.MarketCap,
		Acknowledged:    reqData.AcknowledgeViolations,
	})
	if errors.Is(err, engine.ErrTradeBlocked) {
		message := "Trade blocked by task rules!"
		if out.Decision.RequiresOverride {
			message = "Trade violates task rules. Acknowledge the violations to save it."
		}
		return middleware.JsonResponse(c, fiber.StatusUnprocessableEntity, false, message, fiber.Map{
			"code":       engine.CodeTradeBlocked,
			"compliance": out.Compliance,
			"decision":   out.Decision,
		})
	}
	if err != nil {
		return h.engineError(c, err, "Failed to save trade!")
	}

	message := "Trade saved successfully!"
	if !out.Compliance.Compliant {
		message = "Trade saved with rule violations!"
	}
	return middleware.JsonResponse(c, fiber.StatusCreated, true, message, out)
}

func (h *Handler) MyTrades(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	q, _ := c.Locals("validatedList").(*mtmValidator.ListQuery)
	if q == nil {
		q = &mtmValidator.ListQuery{Page: 1, Limit: 20}
	}
	limit, offset := page(q.Page, q.Limit)

	params := repository.ListTradesParams{UserID: &userID, Limit: limit, Offset: offset}
	if v := c.QueryInt("enrollment_id"); v > 0 {
		id := uint(v)
		params.EnrollmentID = &id
	}
	if v := c.QueryInt("task_id"); v > 0 {
		id := uint(v)
		params.TaskID = &id
	}
	items, total, err := h.Repo.ListTrades(c.UserContext(), params)
	if err != nil {
		return h.engineError(c, err, "Failed to fetch trades!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Trades fetched successfully!", fiber.Map{
		"items": items,
		"total": total,
		"page":  q.Page,
		"limit": limit,
	})
}

func (h *Handler) CloseTrade(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData, ok := c.Locals("validatedClose").(*mtmValidator.CloseTradeRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	trade, verdict, err := h.Journal.Close(c.UserContext(), userID, c.Locals("id").(uint), reqData.Outcome, reqData.ClosedAt)
	if err != nil {
		return h.engineError(c, err, "Failed to close trade!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Trade closed successfully!", fiber.Map{
		"trade":   trade,
		"verdict": verdict,
	})
}

func (h *Handler) DeleteTrade(c *fiber.Ctx) error {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	if err := h.Journal.Delete(c.UserContext(), userID, c.Locals("id").(uint)); err != nil {
		return h.engineError(c, err, "Failed to delete trade!")
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Trade deleted successfully!", nil)
}
