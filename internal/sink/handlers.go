package sink

import (
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/session"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// BatchRequest is the payload the device uploads when its buffer flushes.
type BatchRequest struct {
	JobID   string            `json:"job_id" validate:"required"`
	Samples []position.Sample `json:"samples" validate:"required,min=1,dive"`
}

func RegisterRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		var req BatchRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ident := session.Identity{}
		if id, ok := c.Locals("user_id").(string); ok {
			ident.TechnicianID = id
		}
		if id, ok := c.Locals("tenant_id").(string); ok {
			ident.TenantID = id
		}

		if err := store.SaveBatch(c.Context(), ident, req.JobID, req.Samples); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
