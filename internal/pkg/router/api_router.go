package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/artspark/artspark/app/controllers"
	"github.com/artspark/artspark/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.RequireAPISessionAuth)

	billing := v1.Group("/billing")
	billing.Post("/checkout", controllers.HandleBillingCheckout)
	billing.Post("/portal", controllers.HandleBillingPortal)
	billing.Get("/subscription", controllers.HandleBillingSubscription)
	billing.Post("/cancel", controllers.HandleBillingCancel)

	artworks := v1.Group("/artworks")
	artworks.Post("/", controllers.HandleArtworkGenerate)
	artworks.Get("/", controllers.HandleArtworkList)
	artworks.Get("/:uuid", controllers.HandleArtworkGet)
	artworks.Delete("/:uuid", controllers.HandleArtworkDelete)

	user := v1.Group("/user")
	user.Get("/profile", controllers.HandleUserProfile)
	user.Get("/settings", controllers.HandleUserSettingsGet)
	user.Patch("/settings", controllers.HandleUserSettingsUpdate)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
