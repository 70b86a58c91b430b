package router

import (
	"github.com/gofiber/fiber/v2"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/artspark/artspark/app/controllers"
	"github.com/artspark/artspark/internal/pkg/middleware"
	"github.com/artspark/artspark/internal/pkg/oauth"
	"github.com/artspark/artspark/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	controllers.InitializeBillingController()
	controllers.InitializeArtworkController()

	h.registerPublicRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/", controllers.HandleRoot)
	app.Get("/health", controllers.HandleHealth)

	// account lifecycle
	app.Post("/register", controllers.HandleAuthRegister)
	app.Post("/login", controllers.HandleAuthLogin)
	app.Post("/logout", controllers.HandleAuthLogout)
	app.Post("/auth/magic", controllers.HandleMagicLinkRequest)
	app.Get("/auth/magic/:token", controllers.HandleMagicLinkVerify)

	// social login
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)

	// provider callbacks are authenticated by signature, not session
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
