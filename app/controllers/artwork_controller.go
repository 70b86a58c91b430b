package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/artspark/artspark/internal/pkg/credits"
	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/env"
	"github.com/artspark/artspark/internal/pkg/generator"
	"github.com/artspark/artspark/internal/pkg/metrics/counter"
	"github.com/artspark/artspark/internal/pkg/storage"
)

var generatorService *generator.Service

// InitializeArtworkController wires the generation service. Called once from
// the router after the database is up.
func InitializeArtworkController() {
	var store *storage.Client
	if cfg, err := storage.LoadConfig(); err != nil {
		log.Warnf("[Artwork] storage config invalid, mirroring disabled: %v", err)
	} else if cfg.IsEnabled() {
		if client, cerr := storage.NewClient(cfg); cerr != nil {
			log.Warnf("[Artwork] storage unavailable, mirroring disabled: %v", cerr)
		} else {
			store = client
		}
	}

	db := database.GetDB()
	images := generator.NewOpenAIImageClient(
		env.GetEnv("OPENAI_API_KEY", ""),
		env.GetEnv("OPENAI_IMAGE_MODEL", ""),
	)
	generatorService = generator.NewService(db, images, credits.NewService(db), store)
}

// SetGeneratorService replaces the generation service, used by tests.
func SetGeneratorService(svc *generator.Service) {
	generatorService = svc
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

// HandleArtworkGenerate creates a new artwork from a prompt. Costs one
// credit; the credit is refunded when generation fails.
func HandleArtworkGenerate(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prompt is required"})
	}
	if len(prompt) > 4000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prompt too long"})
	}

	artwork, err := generatorService.Generate(c.UserContext(), user, prompt, strings.TrimSpace(req.Size))
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrInsufficientCredits):
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credits"})
		case errors.Is(err, generator.ErrSizeNotAllowed):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "size_not_allowed_for_plan"})
		default:
			log.Errorf("[Artwork] generation for user %d failed: %v", user.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "generation_failed"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(artwork)
}

// HandleArtworkList returns the user's artworks, newest first.
func HandleArtworkList(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	artworks, err := generatorService.ListUserArtworks(c.UserContext(), user.ID, limit, offset)
	if err != nil {
		log.Errorf("[Artwork] listing for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"artworks": artworks})
}

// HandleArtworkGet returns one artwork by UUID.
func HandleArtworkGet(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	artwork, err := generatorService.GetUserArtwork(c.UserContext(), user.ID, c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artwork_not_found"})
		}
		log.Errorf("[Artwork] lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	if err := counter.AddArtworkView(artwork.ID); err != nil {
		log.Warnf("[Artwork] view counter for %s failed: %v", artwork.UUID, err)
	}
	return c.Status(fiber.StatusOK).JSON(artwork)
}

// HandleArtworkDelete removes an artwork and its stored mirror.
func HandleArtworkDelete(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := generatorService.DeleteUserArtwork(c.UserContext(), user.ID, c.Params("uuid")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artwork_not_found"})
		}
		log.Errorf("[Artwork] delete failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
