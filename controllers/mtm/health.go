package controllers

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"tmsmtm/database"
	"tmsmtm/middleware"
)

// Health reports whether the database answers a ping.
func Health(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := database.Ping(c.UserContext(), db); err != nil {
			return middleware.JsonResponse(c, fiber.StatusServiceUnavailable, false, "Database unavailable", fiber.Map{"database": "down"})
		}
		return middleware.JsonResponse(c, fiber.StatusOK, true, "OK", fiber.Map{"database": "up"})
	}
}
