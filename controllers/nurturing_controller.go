package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/utils"
)

// PassRunner is the part of the scheduler the API exposes.
type PassRunner interface {
	RunPass(ctx context.Context, now time.Time) ([]models.NurturingAction, error)
	Rules() []nurturing.Rule
}

type NurturingController struct {
	scheduler PassRunner
}

func NewNurturingController(s PassRunner) *NurturingController {
	return &NurturingController{scheduler: s}
}

// RunPass triggers a pass outside the wall-clock schedule.
func (nc *NurturingController) RunPass(c *fiber.Ctx) error {
	actions, err := nc.scheduler.RunPass(c.UserContext(), time.Now())
	if errors.Is(err, nurturing.ErrPassInProgress) {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A nurturing pass is already running", nil)
	}
	if err != nil {
		return storeError(c, err, "Nurturing pass failed")
	}

	sent := 0
	for _, a := range actions {
		if a.Status == models.ActionSent {
			sent++
		}
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"actions": actions,
		"sent":    sent,
		"failed":  len(actions) - sent,
	}))
}

func (nc *NurturingController) GetRules(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(nc.scheduler.Rules()))
}
