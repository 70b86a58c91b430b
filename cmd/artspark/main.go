package main

import (
	"fmt"
	"log"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/artspark/artspark/internal/pkg/cache"
	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/env"
	"github.com/artspark/artspark/internal/pkg/metrics/counter"
	"github.com/artspark/artspark/internal/pkg/router"
)

const counterFlushInterval = 30 * time.Second

func main() {
	app := NewApplication()

	go flushCountersLoop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "ArtSpark",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	validateOpenAPIDoc("./public/docs/v1/openapi.yml")
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}

// validateOpenAPIDoc checks the served OpenAPI document so a broken file
// shows up at startup instead of in the docs UI.
func validateOpenAPIDoc(path string) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		log.Printf("openapi document failed to load: %v", err)
		return
	}
	if err := doc.Validate(loader.Context); err != nil {
		log.Printf("openapi document invalid: %v", err)
	}
}

// flushCountersLoop periodically moves pending Redis view counters into MySQL.
func flushCountersLoop() {
	ticker := time.NewTicker(counterFlushInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := counter.FlushAll(); err != nil {
			log.Printf("counter flush failed: %v", err)
		}
	}
}
