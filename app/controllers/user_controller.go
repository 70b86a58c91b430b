package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/utils"
)

// HandleUserProfile returns the logged-in user's profile.
func HandleUserProfile(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	settings, serr := models.GetOrCreateUserSettings(database.GetDB(), user.ID)
	plan := "free"
	if serr == nil {
		plan = settings.Plan
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"plan":          plan,
		"avatar_url":    utils.GetGravatarURL(user.Email, 200),
		"created_at":    user.CreatedAt,
		"last_login_at": user.LastLoginAt,
	})
}

// HandleUserSettingsGet returns the user's notification settings.
func HandleUserSettingsGet(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	settings, serr := models.GetOrCreateUserSettings(database.GetDB(), user.ID)
	if serr != nil {
		log.Errorf("[User] settings lookup for user %d failed: %v", user.ID, serr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(settings)
}

// HandleUserSettingsUpdate updates the user's notification settings.
func HandleUserSettingsUpdate(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		EmailOnGenerated *bool `json:"email_on_generated"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	settings, serr := models.GetOrCreateUserSettings(database.GetDB(), user.ID)
	if serr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_lookup_failed"})
	}

	if req.EmailOnGenerated != nil {
		settings.EmailOnGenerated = *req.EmailOnGenerated
	}
	if err := database.GetDB().Save(settings).Error; err != nil {
		log.Errorf("[User] settings update for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_update_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(settings)
}
