package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"leadflow/qualification"
	"leadflow/store"
	"leadflow/utils"
)

// storeError maps store and core sentinels to HTTP statuses.
func storeError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", nil)
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrDuplicateTask):
		return utils.ErrorResponse(c, fiber.StatusConflict, message, err)
	case errors.Is(err, qualification.ErrExtractionFailed), errors.Is(err, qualification.ErrMalformedExtraction):
		return utils.ErrorResponse(c, fiber.StatusBadGateway, message, err)
	case errors.Is(err, qualification.ErrInvalidMessage):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	utils.LogError("api", err, map[string]interface{}{"path": c.Path(), "method": c.Method()})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, message, nil)
}

func invalidID(c *fiber.Ctx) error {
	return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid id", nil)
}
