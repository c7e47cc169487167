package mtmValidator

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"tmsmtm/middleware"
)

type EnrollRequest struct {
	ModelID uint   `json:"model_id" validate:"required,gt=0"`
	Tier    string `json:"tier" validate:"omitempty,oneof=basic intermediate advanced"`
}

type TradeRequest struct {
	EnrollmentID          uint             `json:"enrollment_id" validate:"required,gt=0"`
	TaskID                uint             `json:"task_id" validate:"required,gt=0"`
	Symbol                string           `json:"symbol" validate:"required,max=32"`
	Direction             string           `json:"direction" validate:"omitempty,oneof=LONG SHORT"`
	EntryPrice            decimal.Decimal  `json:"entry_price" validate:"gt=0"`
	StopLoss              *decimal.Decimal `json:"stop_loss" validate:"omitempty,gt=0"`
	TargetPrice           *decimal.Decimal `json:"target_price" validate:"omitempty,gt=0"`
	PositionPercent       *decimal.Decimal `json:"position_percent" validate:"omitempty,gt=0,lte=100"`
	Outcome               string           `json:"outcome" validate:"omitempty,oneof=OPEN TARGET_HIT SL_HIT BREAKEVEN MANUAL_EXIT PARTIAL_EXIT"`
	ClosedAt              *time.Time       `json:"closed_at"`
	AnalysisLink          string           `json:"analysis_link" validate:"omitempty,url"`
	Notes                 string           `json:"notes" validate:"max=4000"`
	MarketCap             string           `json:"marketcap" validate:"max=32"`
	AcknowledgeViolations bool             `json:"acknowledge_violations"`
}

type CloseTradeRequest struct {
	Outcome  string     `json:"outcome" validate:"required,oneof=TARGET_HIT SL_HIT BREAKEVEN MANUAL_EXIT PARTIAL_EXIT"`
	ClosedAt *time.Time `json:"closed_at"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type ListQuery struct {
	Page   int    `query:"page" json:"page" validate:"gte=1"`
	Limit  int    `query:"limit" json:"limit" validate:"gte=1,lte=100"`
	Status string `query:"status" json:"status" validate:"omitempty,oneof=pending approved rejected dropped completed"`
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func Enroll() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(EnrollRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.Tier = strings.ToLower(strings.TrimSpace(reqData.Tier))

		if errs := fieldErrors(reqData); len(errs) > 0 {
			return middleware.ValidationErrorResponse(c, errs)
		}
		c.Locals("validatedEnrollment", reqData)
		return c.Next()
	}
}

func SubmitTrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(TradeRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.Symbol = upper(reqData.Symbol)
		reqData.Direction = upper(reqData.Direction)
		reqData.Outcome = upper(reqData.Outcome)
		reqData.AnalysisLink = strings.TrimSpace(reqData.AnalysisLink)

		if errs := fieldErrors(reqData); len(errs) > 0 {
			return middleware.ValidationErrorResponse(c, errs)
		}
		c.Locals("validatedTrade", reqData)
		return c.Next()
	}
}

func CloseTrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CloseTradeRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.Outcome = upper(reqData.Outcome)

		if errs := fieldErrors(reqData); len(errs) > 0 {
			return middleware.ValidationErrorResponse(c, errs)
		}
		c.Locals("validatedClose", reqData)
		return c.Next()
	}
}

func Reason() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(ReasonRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.Reason = strings.TrimSpace(reqData.Reason)

		if errs := fieldErrors(reqData); len(errs) > 0 {
			return middleware.ValidationErrorResponse(c, errs)
		}
		c.Locals("validatedReason", reqData)
		return c.Next()
	}
}

func List() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := &ListQuery{Page: 1, Limit: 20}
		if err := c.QueryParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid query parameters!", nil)
		}
		reqData.Status = strings.ToLower(strings.TrimSpace(reqData.Status))

		if errs := fieldErrors(reqData); len(errs) > 0 {
			return middleware.ValidationErrorResponse(c, errs)
		}
		c.Locals("validatedList", reqData)
		return c.Next()
	}
}

// ID validates the named path parameter as a positive integer and stores
// it under the same name.
func ID(params ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, param := range params {
			raw := strings.TrimSpace(c.Params(param))
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid "+param+"!", nil)
			}
			c.Locals(param, uint(id))
		}
		return c.Next()
	}
}
