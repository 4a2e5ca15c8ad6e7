package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/followup/pkg/definition"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/services"
	"github.com/dukex/followup/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
)

type API struct {
	logger   *slog.Logger
	service  *services.Workflow
	engine   web.Engine
	auth     *web.Auth
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine web.Engine,
	jwtSecret string,
) (*API, error) {
	service, err := newWorkflowService(persistence)
	if err != nil {
		return nil, err
	}

	return &API{
		logger:   logger,
		service:  service,
		engine:   engine,
		auth:     web.NewAuth(jwtSecret),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func newWorkflowService(persistence persistence.Persistence) (*services.Workflow, error) {
	parser, err := definition.NewParser()
	if err != nil {
		return nil, err
	}

	return services.NewWorkflow(persistence, parser, clockwork.NewRealClock()), nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.service, a.engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Follow-up API")
	})

	web.Mount(app, handlers, a.auth)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Listening", "port", port, "admin_auth", a.auth.Enabled())

	return app.Listen(":" + strconv.Itoa(port))
}
