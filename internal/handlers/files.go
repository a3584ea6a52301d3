package handlers

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/middleware"
	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/internal/storage"
	"github.com/drivebox/backend/pkg/logger"
	"github.com/drivebox/backend/pkg/utils"
)

type FilesHandler struct {
	DB     *gorm.DB
	Tree   *services.TreeService
	Access *services.AccessService
	Files  *services.FileService
	Audit  *services.AuditService
}

func NewFilesHandler(db *gorm.DB, tree *services.TreeService, access *services.AccessService, files *services.FileService, audit *services.AuditService) *FilesHandler {
	return &FilesHandler{DB: db, Tree: tree, Access: access, Files: files, Audit: audit}
}

func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	folderIDRaw := strings.TrimSpace(c.FormValue("folderID"))
	if folderIDRaw == "" {
		return utils.Error(c, fiber.StatusBadRequest, "folderID is required")
	}
	folderID, err := parseUUID(folderIDRaw)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folderID")
	}

	var folder models.Folder
	if err := h.DB.First(&folder, "id = ?", folderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "folder not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, &folder, models.GrantCategoryEdit) {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":            "file_upload",
			"target_slug":       folder.Slug,
			"required_category": "edit",
		})
		return utils.Error(c, fiber.StatusForbidden, "no permission to upload to this folder")
	}

	filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))
	if filename == "" || filename == "." {
		return utils.Error(c, fiber.StatusBadRequest, "invalid filename")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	var description *string
	if raw := strings.TrimSpace(c.FormValue("description")); raw != "" {
		description = &raw
	}

	entry, err := h.Files.Create(c.Context(), currentUser, &folder, services.FileUpload{
		Reader:      stream,
		Filename:    filename,
		Size:        fileHeader.Size,
		ContentType: contentType,
		Name:        strings.TrimSpace(c.FormValue("name")),
		Description: description,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_uploaded", map[string]interface{}{
		"file_slug":   entry.Slug,
		"file_name":   entry.Name,
		"file_size":   entry.Size,
		"folder_slug": folder.Slug,
	})
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "file.upload",
		ResourceKind: string(models.ResourceKindFile),
		ResourceID:   &entry.ID,
		Details: map[string]interface{}{
			"file_name": entry.Name,
			"file_size": entry.Size,
			"folder_id": folder.ID.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, entry)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	file, err := h.Files.FileBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading file")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, file, models.GrantCategoryView) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}
	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	file, err := h.Files.FileBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading file")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, file, models.GrantCategoryView) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	stream, err := h.Files.Store.Download(c.Context(), file.StoragePath)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed downloading file")
	}

	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.OriginalFilename))
	return c.SendStream(stream)
}

const downloadURLExpiry = 15 * time.Minute

// DownloadURL mints a time-limited direct link to the blob for backends
// that support signing. Clients use it to hand downloads off to object
// storage instead of streaming through the API.
func (h *FilesHandler) DownloadURL(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	file, err := h.Files.FileBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading file")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, file, models.GrantCategoryView) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	signer, ok := h.Files.Store.(storage.URLSigner)
	if !ok {
		return utils.Error(c, fiber.StatusNotImplemented, "direct download links are not supported by this storage backend")
	}

	url, err := signer.PresignedGetURL(c.Context(), file.StoragePath, downloadURLExpiry)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating download link")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url":       url,
		"expiresIn": int(downloadURLExpiry.Seconds()),
	})
}

type updateFileRequest struct {
	FolderID    uuid.UUID `json:"folderID" validate:"required"`
	Name        string    `json:"name" validate:"max=255"`
	Description *string   `json:"description"`
}

func (h *FilesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	file, err := h.Files.FileBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading file")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, file, models.GrantCategoryEdit) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	var req updateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "folderID is required")
	}

	// Moving to another folder needs edit rights on the destination too.
	if req.FolderID != file.FolderID {
		var target models.Folder
		if err := h.DB.First(&target, "id = ?", req.FolderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.Error(c, fiber.StatusNotFound, "target folder not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading target folder")
		}
		if !h.Access.HasAccess(c.Context(), currentUser, &target, models.GrantCategoryEdit) {
			return utils.Error(c, fiber.StatusForbidden, "no permission to move into that folder")
		}
	}

	if err := h.Files.Update(c.Context(), file, req.FolderID, req.Name, req.Description); err != nil {
		return serviceError(c, err, "failed updating file")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "file.update",
		ResourceKind: string(models.ResourceKindFile),
		ResourceID:   &file.ID,
		Details: map[string]interface{}{
			"file_name": file.Name,
			"folder_id": req.FolderID.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	file, err := h.Files.FileBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return serviceError(c, err, "failed loading file")
	}

	if !h.Access.HasAccess(c.Context(), currentUser, file, models.GrantCategoryEdit) {
		return utils.Error(c, fiber.StatusForbidden, "insufficient permissions")
	}

	var folder models.Folder
	folderSlug := ""
	if err := h.DB.First(&folder, "id = ?", file.FolderID).Error; err == nil {
		folderSlug = folder.Slug
	}

	if err := h.Files.Delete(c.Context(), file); err != nil {
		return serviceError(c, err, "failed deleting file")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "file.delete",
		ResourceKind: string(models.ResourceKindFile),
		ResourceID:   &file.ID,
		Details: map[string]interface{}{
			"file_name": file.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"folderSlug": folderSlug})
}
