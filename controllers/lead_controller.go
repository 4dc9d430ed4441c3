package controller

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadflow/models"
	"leadflow/qualification"
	"leadflow/store"
	"leadflow/utils"
)

// Qualifier re-runs qualification for one lead.
type Qualifier interface {
	Qualify(ctx context.Context, leadID uint) (*qualification.Result, error)
}

type LeadController struct {
	store     store.Store
	qualifier Qualifier
	logger    logrus.FieldLogger
}

func NewLeadController(st store.Store, q Qualifier, logger logrus.FieldLogger) *LeadController {
	if logger == nil {
		logger = utils.Logger("leads")
	}
	return &LeadController{store: st, qualifier: q, logger: logger}
}

// GetLeads lists leads, hottest first, filtered by status, label and minimum score.
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	minScore, _ := strconv.Atoi(c.Query("min_score", "0"))

	filter := store.LeadFilter{
		Status:   models.LeadStatus(c.Query("status")),
		Label:    models.Label(c.Query("label")),
		MinScore: minScore,
		Page:     page,
		Limit:    limit,
	}
	leads, total, err := lc.store.ListLeads(c.UserContext(), filter)
	if err != nil {
		return storeError(c, err, "Failed to fetch leads")
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	lead, err := lc.store.GetLead(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch lead")
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// GetSummary returns the qualification summary with the missing fields most
// worth asking about.
func (lc *LeadController) GetSummary(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	lead, err := lc.store.GetLead(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch lead")
	}
	return c.JSON(utils.SuccessResponse(qualification.Summarize(lead)))
}

func (lc *LeadController) QualifyLead(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	res, err := lc.qualifier.Qualify(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Qualification failed")
	}

	lc.logger.WithFields(logrus.Fields{
		"lead_id":  id,
		"operator": c.Locals("operator"),
		"score":    res.Lead.Score,
	}).Info("manual qualification")
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"lead":    res.Lead,
		"tasks":   res.Tasks,
		"handoff": res.Handoff,
		"skipped": res.Skipped,
	}))
}

func (lc *LeadController) AddTag(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	var input struct {
		Tag string `json:"tag" validate:"required,max=50"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.Tag = strings.TrimSpace(input.Tag)
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := lc.store.AddTag(c.UserContext(), id, input.Tag); err != nil {
		return storeError(c, err, "Failed to add tag")
	}
	lead, err := lc.store.GetLead(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch lead")
	}
	return c.JSON(utils.SuccessResponse(lead.Tags))
}

// GetActions lists the nurturing actions sent to a lead, newest first.
func (lc *LeadController) GetActions(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	if _, err := lc.store.GetLead(c.UserContext(), id); err != nil {
		return storeError(c, err, "Failed to fetch lead")
	}
	actions, err := lc.store.ListActions(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch actions")
	}
	return c.JSON(utils.SuccessResponse(actions))
}
