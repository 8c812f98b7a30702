package tracker

import (
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/shared/geo"
	"backend-shoptrack/internal/shared/workhours"

	"github.com/gofiber/fiber/v2"
)

type positionRequest struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	RecordedAt int64   `json:"recorded_at"` // unix ms, optional
}

type locationErrorRequest struct {
	Reason string `json:"reason"`
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func RegisterRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Post("/position", authMiddleware, func(c *fiber.Ctx) error {
		var req positionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		at := time.Time{}
		if req.RecordedAt > 0 {
			at = time.UnixMilli(req.RecordedAt)
		}
		workerID, _ := c.Locals("user_id").(string)
		view, err := m.Tracker(workerID).OnPosition(c.Context(), geo.Point{Lat: req.Lat, Lng: req.Lng}, at)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Post("/location-error", authMiddleware, func(c *fiber.Ctx) error {
		var req locationErrorRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		workerID, _ := c.Locals("user_id").(string)
		view, err := m.Tracker(workerID).OnLocationError(c.Context(), req.Reason)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Post("/trip/toggle", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		view, err := m.Tracker(workerID).ToggleTrip(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Post("/day/end", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		view, err := m.Tracker(workerID).EndDay(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Post("/reconcile", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		view, err := m.Tracker(workerID).Reconcile(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Post("/connectivity", authMiddleware, func(c *fiber.Ctx) error {
		var req connectivityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		workerID, _ := c.Locals("user_id").(string)
		t := m.Tracker(workerID)
		t.SetOnline(req.Online)
		if req.Online {
			// Regaining connectivity triggers a reconcile so buffered
			// trips migrate right away.
			if _, err := t.Reconcile(c.Context()); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/status", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		return c.JSON(m.Tracker(workerID).Status(c.Context()))
	})
}

// RegisterSessionRoutes serves the day's session history: ledger
// records plus any offline trips still waiting to migrate.
func RegisterSessionRoutes(r fiber.Router, ledgerSvc *ledger.Service, queue OfflineStore, authMiddleware fiber.Handler) {
	r.Get("/today", authMiddleware, func(c *fiber.Ctx) error {
		workerID, _ := c.Locals("user_id").(string)
		today := workhours.DateString(time.Now())

		sessions, err := ledgerSvc.SessionsForDate(c.Context(), workerID, today)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		pending, err := queue.ListAll(c.Context(), workerID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		for _, sess := range pending {
			if sess.Date == today {
				sess.Pending = true
				sessions = append(sessions, sess)
			}
		}
		return c.JSON(sessions)
	})
}
