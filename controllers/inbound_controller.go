package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadflow/qualification"
	"leadflow/utils"
)

// InboundController receives normalized messages from channel adapters
// (WhatsApp gateway, portals, web forms).
type InboundController struct {
	inbox  qualification.Inbox
	logger logrus.FieldLogger
}

func NewInboundController(inbox qualification.Inbox, logger logrus.FieldLogger) *InboundController {
	if logger == nil {
		logger = utils.Logger("inbound")
	}
	return &InboundController{inbox: inbox, logger: logger}
}

type InboundResponse struct {
	LeadID  uint   `json:"lead_id"`
	Created bool   `json:"created"`
	Score   int    `json:"score"`
	Label   string `json:"label"`
	Tasks   int    `json:"tasks"`
}

// HandleInbound records the message and qualifies the lead. Qualification
// failures are not reported to the adapter.
func (ic *InboundController) HandleInbound(c *fiber.Ctx) error {
	var msg qualification.InboundMessage
	if err := c.BodyParser(&msg); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	sub, err := ic.inbox.Submit(c.UserContext(), msg)
	if err != nil {
		return storeError(c, err, "Failed to record message")
	}

	ic.logger.WithFields(logrus.Fields{
		"lead_id": sub.Lead.ID,
		"channel": msg.Channel,
		"created": sub.Created,
	}).Info("inbound message recorded")

	status := fiber.StatusOK
	if sub.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(utils.SuccessResponse(InboundResponse{
		LeadID:  sub.Lead.ID,
		Created: sub.Created,
		Score:   sub.Lead.Score,
		Label:   string(sub.Lead.Label),
		Tasks:   len(sub.Tasks),
	}))
}
