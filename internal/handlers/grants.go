package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/middleware"
	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/pkg/utils"
)

type GrantsHandler struct {
	DB     *gorm.DB
	Tree   *services.TreeService
	Files  *services.FileService
	Access *services.AccessService
	Grants *services.GrantService
	Audit  *services.AuditService
}

func NewGrantsHandler(db *gorm.DB, tree *services.TreeService, files *services.FileService, access *services.AccessService, grants *services.GrantService, audit *services.AuditService) *GrantsHandler {
	return &GrantsHandler{DB: db, Tree: tree, Files: files, Access: access, Grants: grants, Audit: audit}
}

type createGrantRequest struct {
	Category  models.GrantCategory `json:"category" validate:"required"`
	UserID    *uuid.UUID           `json:"userID"`
	Everybody bool                 `json:"everybody"`
}

func (h *GrantsHandler) resourceBySlug(c *fiber.Ctx, kind models.ResourceKind) (models.Resource, error) {
	slug := c.Params("slug")
	if kind == models.ResourceKindFolder {
		return h.Tree.FolderBySlug(c.Context(), slug)
	}
	return h.Files.FileBySlug(c.Context(), slug)
}

func (h *GrantsHandler) share(c *fiber.Ctx, kind models.ResourceKind) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	resource, err := h.resourceBySlug(c, kind)
	if err != nil {
		return serviceError(c, err, "failed loading resource")
	}

	// Sharing is owner-only. Edit access on an ancestor is not enough.
	if !h.Access.CanShare(currentUser, resource) {
		return utils.Error(c, fiber.StatusForbidden, "only the owner can share this")
	}

	var req createGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "category is required")
	}

	grant := &models.Grant{
		ResourceKind: resource.ResourceKind(),
		ResourceID:   resource.ResourceID(),
		Category:     req.Category,
		UserID:       req.UserID,
		Everybody:    req.Everybody,
	}
	if err := h.Grants.Create(c.Context(), grant); err != nil {
		return serviceError(c, err, "failed creating grant")
	}

	details := map[string]interface{}{
		"category":      string(grant.Category),
		"everybody":     grant.Everybody,
		"resource_name": resource.ResourceName(),
	}
	if grant.UserID != nil {
		details["grantee_user_id"] = grant.UserID.String()
	}
	resourceID := resource.ResourceID()
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.create",
		ResourceKind: string(resource.ResourceKind()),
		ResourceID:   &resourceID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, grant)
}

func (h *GrantsHandler) list(c *fiber.Ctx, kind models.ResourceKind) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	resource, err := h.resourceBySlug(c, kind)
	if err != nil {
		return serviceError(c, err, "failed loading resource")
	}

	if !h.Access.CanShare(currentUser, resource) {
		return utils.Error(c, fiber.StatusForbidden, "only the owner can view grants")
	}

	grants, err := h.Grants.ListForResource(c.Context(), resource.ResourceKind(), resource.ResourceID())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing grants")
	}
	return utils.Success(c, fiber.StatusOK, grants)
}

func (h *GrantsHandler) ShareFolder(c *fiber.Ctx) error {
	return h.share(c, models.ResourceKindFolder)
}

func (h *GrantsHandler) ShareFile(c *fiber.Ctx) error {
	return h.share(c, models.ResourceKindFile)
}

func (h *GrantsHandler) ListFolderGrants(c *fiber.Ctx) error {
	return h.list(c, models.ResourceKindFolder)
}

func (h *GrantsHandler) ListFileGrants(c *fiber.Ctx) error {
	return h.list(c, models.ResourceKindFile)
}

// Revoke deletes a grant. Only denied ownership surfaces as an error; every
// other failure degrades to a benign navigation result pointing home.
func (h *GrantsHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	grantID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid grant id")
	}

	resource, revoked, err := h.Grants.Revoke(c.Context(), currentUser, grantID)
	if err != nil {
		return serviceError(c, err, "failed revoking grant")
	}

	var kind models.ResourceKind
	var slug string
	details := map[string]interface{}{
		"grant_id": grantID.String(),
	}
	var resourceID *uuid.UUID
	if resource != nil {
		kind = resource.ResourceKind()
		slug = resource.ResourceSlug()
		details["resource_name"] = resource.ResourceName()
		id := resource.ResourceID()
		resourceID = &id
	}
	if revoked != nil && revoked.UserID != nil {
		details["grantee_user_id"] = revoked.UserID.String()
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.revoke",
		ResourceKind: string(kind),
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"resourceKind": kind,
		"resourceSlug": slug,
	})
}
