package session

import (
	"errors"

	"backend-fieldtrack/internal/position"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sess, err := svc.Create(c.Context(), req)
		if errors.Is(err, ErrSessionActive) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	r.Post("/sessions/:jobID/position", authMiddleware, func(c *fiber.Ctx) error {
		var req position.Sample
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		err := svc.UpdatePosition(c.Context(), c.Params("jobID"), req)
		if errors.Is(err, ErrSessionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/sessions/:jobID", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.End(c.Context(), c.Params("jobID")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// public: possession of the token is the access control
	r.Get("/resolve/:token", func(c *fiber.Ctx) error {
		pos, err := svc.Resolve(c.Context(), c.Params("token"))
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return fiber.NewError(fiber.StatusNotFound, "tracking link not found")
		case errors.Is(err, ErrSessionExpired):
			return fiber.NewError(fiber.StatusGone, "tracking has ended")
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(pos)
	})
}
