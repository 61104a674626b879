package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/audit"
)

const serviceName = "aqi-feature-store"

var validate = validator.New()

// NewApp returns a Fiber app with the shared error handler, middleware and
// health endpoint.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	return app
}

// RegisterRoutes wires the read API into the Fiber app.
func RegisterRoutes(app *fiber.App, service *aqi.Service, store aqi.Store) {
	v1 := app.Group("/api/v1")

	v1.Get("/observations", func(c *fiber.Ctx) error {
		var req observationsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := service.Observations(c.UserContext(), req.Entity, aqi.Granularity(req.Granularity), req.From, req.To)
		if err != nil {
			return toHTTPError(err, "failed to fetch observations")
		}
		if obs == nil {
			obs = []aqi.Observation{}
		}

		return c.JSON(fiber.Map{
			"entity":       req.Entity,
			"granularity":  req.Granularity,
			"from":         req.From,
			"to":           req.To,
			"observations": obs,
		})
	})

	v1.Get("/features", func(c *fiber.Ctx) error {
		var req featureQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rec, err := service.Feature(c.UserContext(), req.Entity, req.At)
		if err != nil {
			if errors.Is(err, aqi.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no feature record at requested time")
			}
			return toHTTPError(err, "failed to fetch feature record")
		}
		return c.JSON(rec)
	})

	v1.Get("/coverage", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := audit.Coverage(c.UserContext(), store, req.Entity, req.From, req.To)
		if err != nil {
			return toHTTPError(err, "failed to build coverage report")
		}
		return c.JSON(report)
	})
}

func toHTTPError(err error, msg string) error {
	switch {
	case errors.Is(err, aqi.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, aqi.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, msg)
}

// rangeQuery holds the entity and time range shared by range endpoints.
type rangeQuery struct {
	Entity string    `validate:"required"`
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	r.Entity = strings.ToLower(c.Query("entity"))

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	r.From = from
	r.To = to
	return nil
}

// observationsQuery holds query parameters for the observations endpoint.
type observationsQuery struct {
	rangeQuery
	Granularity string `validate:"oneof=hourly daily"`
}

func (o *observationsQuery) bind(c *fiber.Ctx) error {
	if err := o.rangeQuery.bind(c); err != nil {
		return err
	}
	o.Granularity = c.Query("granularity", string(aqi.Hourly))
	return nil
}

// featureQuery holds query parameters for the features endpoint.
type featureQuery struct {
	Entity string    `validate:"required"`
	At     time.Time `validate:"required"`
}

func (f *featureQuery) bind(c *fiber.Ctx) error {
	f.Entity = strings.ToLower(c.Query("entity"))

	atStr := c.Query("at")
	if atStr == "" {
		return errors.New("at query parameter is required")
	}
	at, err := parseTime(atStr)
	if err != nil {
		return err
	}
	f.At = at
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
