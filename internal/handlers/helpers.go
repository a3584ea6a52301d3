package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/pkg/utils"
)

var validate = validator.New()

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	return c.Get(fiber.HeaderXRequestID)
}

// serviceError maps service sentinel errors onto the response envelope.
func serviceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	case errors.Is(err, services.ErrInvalidParent):
		return utils.Error(c, fiber.StatusBadRequest, "invalid parent folder")
	case errors.Is(err, services.ErrDuplicateName):
		return utils.Error(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrRootFolder):
		return utils.Error(c, fiber.StatusBadRequest, "root folders cannot be modified")
	case errors.Is(err, models.ErrGrantBadResource),
		errors.Is(err, models.ErrGrantBadCategory),
		errors.Is(err, models.ErrGrantBadGrantee):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, fallback)
	}
}
