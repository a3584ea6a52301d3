package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/middleware"
	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/pkg/utils"
)

type FoldersHandler struct {
	DB     *gorm.DB
	Tree   *services.TreeService
	Access *services.AccessService
	Files  *services.FileService
	Grants *services.GrantService
	Audit  *services.AuditService
}

func NewFoldersHandler(db *gorm.DB, tree *services.TreeService, access *services.AccessService, files *services.FileService, grants *services.GrantService, audit *services.AuditService) *FoldersHandler {
	return &FoldersHandler{DB: db, Tree: tree, Access: access, Files: files, Grants: grants, Audit: audit}
}

type folderDetail struct {
	*models.Folder
	Children    []models.Folder `json:"children"`
	Files       []models.File   `json:"files"`
	Breadcrumbs []breadcrumb    `json:"breadcrumbs"`
}

type breadcrumb struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (h *FoldersHandler) detail(c *fiber.Ctx, folder *models.Folder) error {
	var children []models.Folder
	if err := h.DB.Where("parent_id = ?", folder.ID).Order("name").Find(&children).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading children")
	}

	var files []models.File
	if err := h.DB.Where("folder_id = ?", folder.ID).Order("name, original_filename").Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading files")
	}

	ancestors, err := h.Tree.Ancestors(c.Context(), folder, true)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading ancestors")
	}

	crumbs := make([]breadcrumb, 0, len(ancestors))
	for _, ancestor := range ancestors {
		// The synthetic top-level folder is not a navigable location.
		if ancestor.IsSyntheticRoot() {
			continue
		}
		crumbs = append(crumbs, breadcrumb{Slug: ancestor.Slug, Name: ancestor.Name})
	}

	return utils.Success(c, fiber.StatusOK, folderDetail{
		Folder:      folder,
		Children:    children,
		Files:       files,
		Breadcrumbs: crumbs,
	})
}

// Home returns the user's root folder, provisioning it on first access.
func (h *FoldersHandler) Home(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	root, err := h.Tree.GetUserRoot(c.Context(), currentUser)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading home folder")
	}
	return h.detail(c, root)
}

func (h *FoldersHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	folder, err := h.Tree.FolderBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading folder")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, folder, models.GrantCategoryView) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}
	return h.detail(c, folder)
}

// Path returns the breadcrumb chain for a folder.
func (h *FoldersHandler) Path(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	folder, err := h.Tree.FolderBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading folder")
	}
	if !h.Access.HasAccess(c.Context(), currentUser, folder, models.GrantCategoryView) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	ancestors, err := h.Tree.Ancestors(c.Context(), folder, true)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading ancestors")
	}

	crumbs := make([]breadcrumb, 0, len(ancestors))
	for _, ancestor := range ancestors {
		if ancestor.IsSyntheticRoot() {
			continue
		}
		crumbs = append(crumbs, breadcrumb{Slug: ancestor.Slug, Name: ancestor.Name})
	}
	return utils.Success(c, fiber.StatusOK, crumbs)
}

// Choices lists the valid "move to folder" targets for the current user,
// labels indented by depth below their home folder.
func (h *FoldersHandler) Choices(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var exclude *uuid.UUID
	if raw := c.Query("exclude"); raw != "" {
		folder, err := h.Tree.FolderBySlug(c.Context(), raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid exclude folder")
		}
		exclude = &folder.ID
	}

	choices, err := h.Tree.FolderChoices(c.Context(), currentUser, exclude)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing folder choices")
	}
	return utils.Success(c, fiber.StatusOK, choices)
}

type createFolderRequest struct {
	ParentID    uuid.UUID `json:"parentID" validate:"required"`
	Name        string    `json:"name" validate:"required,max=255"`
	Description *string   `json:"description"`
}

func (h *FoldersHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "name and parentID are required")
	}

	var parent models.Folder
	if err := h.DB.First(&parent, "id = ?", req.ParentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "parent folder not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading parent folder")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, &parent, models.GrantCategoryEdit) {
		return utils.Error(c, fiber.StatusForbidden, "no permission to create folders here")
	}

	folder, err := h.Tree.CreateFolder(c.Context(), currentUser, &parent, req.Name, req.Description)
	if err != nil {
		return serviceError(c, err, "failed creating folder")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.create",
		ResourceKind: string(models.ResourceKindFolder),
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name": folder.Name,
			"parent_id":   parent.ID.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, folder)
}

type updateFolderRequest struct {
	ParentID    uuid.UUID `json:"parentID" validate:"required"`
	Name        string    `json:"name" validate:"required,max=255"`
	Description *string   `json:"description"`
}

func (h *FoldersHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.Tree.FolderBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading folder")
	}

	isRoot, err := h.Tree.IsUserRoot(c.Context(), folder)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking folder")
	}
	if isRoot {
		return serviceError(c, services.ErrRootFolder, "")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, folder, models.GrantCategoryEdit) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	var req updateFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "name and parentID are required")
	}

	if req.ParentID != *folder.ParentID {
		var newParent models.Folder
		if err := h.DB.First(&newParent, "id = ?", req.ParentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.Error(c, fiber.StatusNotFound, "parent folder not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading parent folder")
		}
		if !h.Access.HasAccess(c.Context(), currentUser, &newParent, models.GrantCategoryEdit) {
			return utils.Error(c, fiber.StatusForbidden, "no permission to move into that folder")
		}
	}

	if err := h.Tree.UpdateFolder(c.Context(), folder, req.ParentID, req.Name, req.Description); err != nil {
		return serviceError(c, err, "failed updating folder")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.update",
		ResourceKind: string(models.ResourceKindFolder),
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name": folder.Name,
			"parent_id":   req.ParentID.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, folder)
}

func (h *FoldersHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.Tree.FolderBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading folder")
	}

	isRoot, err := h.Tree.IsUserRoot(c.Context(), folder)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking folder")
	}
	if isRoot {
		return serviceError(c, services.ErrRootFolder, "")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, folder, models.GrantCategoryEdit) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	parentSlug := ""
	if folder.ParentID != nil {
		var parent models.Folder
		if err := h.DB.First(&parent, "id = ?", *folder.ParentID).Error; err == nil {
			parentSlug = parent.Slug
		}
	}

	orphanedBlobs, err := h.Tree.DeleteFolder(c.Context(), folder)
	if err != nil {
		return serviceError(c, err, "failed deleting folder")
	}
	h.Files.RemoveOrphanedBlobs(c.Context(), orphanedBlobs)

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.delete",
		ResourceKind: string(models.ResourceKindFolder),
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name": folder.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"parentSlug": parentSlug})
}
