package server

import (
	"errors"
	"time"

	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/nav"
	"github.com/curbz/yamka/internal/routing"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"
)

// API builds the REST interface. It offers the websocket commands to clients
// that only need request and response, such as scripts and tests.
func (s *Server) API() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "yamka",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          commandTimeout,
		ErrorHandler:          apiErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
		Output: log.StandardLogger().Out,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", s.getHealth)

	api := app.Group("/api/v1")
	{
		api.Get("/state", s.getState)
		api.Get("/search", s.getSearch)
		api.Post("/route", s.postRoute)
		api.Post("/start", s.command(s.nav.Start))
		api.Post("/cancel", s.command(s.nav.Cancel))
		api.Post("/dismiss", s.command(s.nav.DismissArrival))
		api.Post("/resume", s.postResume)
		api.Post("/position", s.postPosition)
		api.Post("/position/error", s.postPositionError)
		api.Put("/settings", s.putSettings)
	}
	return app
}

// StartAPI serves the REST interface on port.
func (s *Server) StartAPI(port string) *fiber.App {
	app := s.API()
	go func() {
		log.Printf("server: api listening on :%s", port)
		if err := app.Listen(":" + port); err != nil {
			log.Errorf("server: api error: %v", err)
		}
	}()
	return app
}

func (s *Server) getHealth(c *fiber.Ctx) error {
	return c.JSON(s.health())
}

func (s *Server) getState(c *fiber.Ctx) error {
	return c.JSON(s.view())
}

func (s *Server) getSearch(c *fiber.Ctx) error {
	places, err := s.search(c.UserContext(), c.Query("q"))
	if err != nil {
		return commandError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    places,
	})
}

func (s *Server) postRoute(c *fiber.Ctx) error {
	var cmd routeCommand
	if err := c.BodyParser(&cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.planRoute(c.UserContext(), cmd); err != nil {
		return commandError(err)
	}
	return c.JSON(s.view())
}

func (s *Server) postResume(c *fiber.Ctx) error {
	var cmd resumeCommand
	if err := c.BodyParser(&cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.nav.Resume(cmd.Continue); err != nil {
		return commandError(err)
	}
	return c.JSON(s.view())
}

func (s *Server) postPosition(c *fiber.Ctx) error {
	var p geolocation.Position
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.position(p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true})
}

func (s *Server) postPositionError(c *fiber.Ctx) error {
	var cmd positionErrorCommand
	if err := c.BodyParser(&cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	s.positionError(cmd)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true})
}

func (s *Server) putSettings(c *fiber.Ctx) error {
	var cmd settingsCommand
	if err := c.BodyParser(&cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.settings(cmd); err != nil {
		return commandError(err)
	}
	return c.JSON(s.view())
}

// command adapts a body-less navigation command to a handler answering with
// the resulting state.
func (s *Server) command(f func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := f(); err != nil {
			return commandError(err)
		}
		return c.JSON(s.view())
	}
}

func commandError(err error) error {
	switch {
	case errors.Is(err, nav.ErrNoPosition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, nav.ErrSuperseded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, routing.ErrNoRoute):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrUpstream):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, ErrNoGeocoder):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	case errors.Is(err, nav.ErrStopped):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

func apiErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		log.Errorf("server: api %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
