package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"leadflow/store"
	"leadflow/utils"
)

type DashboardController struct {
	store store.Store
	loc   *time.Location
}

func NewDashboardController(st store.Store, loc *time.Location) *DashboardController {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardController{store: st, loc: loc}
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type DashboardStats struct {
	Range TimeRange `json:"range"`
	store.Stats
}

// GetDashboardStats returns today's activity counters. days widens the window.
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 1)
	if days < 1 || days > 90 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "days must be between 1 and 90", nil)
	}

	now := time.Now().In(dc.loc)
	start := time.Date(now.Year(), now.Month(), now.Day()-(days-1), 0, 0, 0, 0, dc.loc)

	stats, err := dc.store.Stats(c.UserContext(), start)
	if err != nil {
		return storeError(c, err, "Failed to fetch stats")
	}
	return c.JSON(utils.SuccessResponse(DashboardStats{
		Range: TimeRange{Start: start, End: now},
		Stats: stats,
	}))
}
