package summary

import (
	"backend-shoptrack/internal/settings"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, settingsSvc *settings.Service, authMiddleware fiber.Handler) {
	r.Get("/:date", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		date := c.Params("date")

		rate, err := settingsSvc.HourlyRate(c.Context(), workerID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		daily, err := svc.Get(c.Context(), workerID, date, rate)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(daily)
	})
}
