package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/env"
)

// HandleRoot reports service identity and environment.
func HandleRoot(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"service": "artspark",
		"env":     env.GetEnv("APP_ENV", "prod"),
	})
}

// HandleHealth is the liveness/readiness probe.
func HandleHealth(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": "down"})
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": "down"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
