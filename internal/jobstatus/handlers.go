package jobstatus

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:jobID/status", authMiddleware, func(c *fiber.Ctx) error {
		var req UpdateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.JobID = c.Params("jobID")
		if req.TechnicianID == "" {
			if id, ok := c.Locals("user_id").(string); ok {
				req.TechnicianID = id
			}
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := svc.Update(c.Context(), req)
		if err != nil {
			// still report the tracking flags; only persistence failed
			return c.Status(fiber.StatusInternalServerError).JSON(res)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})
}
