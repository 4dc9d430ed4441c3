package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadflow/models"
	"leadflow/store"
	"leadflow/utils"
)

// PropertyNotifier announces new inventory to matching leads.
type PropertyNotifier interface {
	NotifyNewProperty(ctx context.Context, p *models.Property) ([]models.NurturingAction, error)
}

type InventoryController struct {
	store    store.Store
	notifier PropertyNotifier
	logger   logrus.FieldLogger
}

func NewInventoryController(st store.Store, n PropertyNotifier, logger logrus.FieldLogger) *InventoryController {
	if logger == nil {
		logger = utils.Logger("inventory")
	}
	return &InventoryController{store: st, notifier: n, logger: logger}
}

// CreateProperty stores a new listing and announces it right away.
func (ic *InventoryController) CreateProperty(c *fiber.Ctx) error {
	var p models.Property
	if err := c.BodyParser(&p); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	p.ID = 0
	if err := utils.ValidateStruct(p); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := ic.store.CreateProperty(c.UserContext(), &p); err != nil {
		return storeError(c, err, "Failed to create property")
	}

	actions, err := ic.notifier.NotifyNewProperty(c.UserContext(), &p)
	if err != nil {
		// the property is stored; announcements can be retried by the agent
		ic.logger.WithError(err).WithField("property_id", p.ID).Warn("announcement interrupted")
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"property": p,
		"notified": len(actions),
	}))
}
