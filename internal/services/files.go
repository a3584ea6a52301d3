package services

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/storage"
	"github.com/drivebox/backend/pkg/logger"
)

// FileService owns the file lifecycle: blob placement on upload, metadata
// defaults, moves and reference-counted blob removal on delete.
type FileService struct {
	DB     *gorm.DB
	Store  storage.BlobStore
	Grants *GrantService
}

func NewFileService(db *gorm.DB, store storage.BlobStore, grants *GrantService) *FileService {
	return &FileService{DB: db, Store: store, Grants: grants}
}

// FileUpload carries a single incoming upload.
type FileUpload struct {
	Reader      io.Reader
	Filename    string
	Size        int64
	ContentType string
	Name        string
	Description *string
}

// FileBySlug resolves the opaque external identifier to a file.
func (f *FileService) FileBySlug(ctx context.Context, slug string) (*models.File, error) {
	var file models.File
	if err := f.DB.WithContext(ctx).First(&file, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// Create stores the blob and inserts the file row. The caller has already
// established edit access on the folder. Display name and size default from
// the upload when absent. If the row insert fails the stored blob is removed
// best-effort.
func (f *FileService) Create(ctx context.Context, owner *models.User, folder *models.Folder, upload FileUpload) (*models.File, error) {
	objectName := storage.ObjectName(upload.Filename, time.Now())
	if err := f.Store.Upload(ctx, objectName, upload.Reader, upload.Size, upload.ContentType); err != nil {
		return nil, err
	}

	file := &models.File{
		FolderID:         folder.ID,
		StoragePath:      objectName,
		Name:             upload.Name,
		OriginalFilename: upload.Filename,
		Size:             upload.Size,
		OwnerID:          owner.ID,
		Description:      upload.Description,
	}
	if err := f.DB.WithContext(ctx).Create(file).Error; err != nil {
		if cleanupErr := f.Store.Delete(ctx, objectName); cleanupErr != nil {
			logger.Error("file_create_blob_cleanup_failed", cleanupErr, map[string]interface{}{
				"object_name": objectName,
			})
		}
		return nil, err
	}
	return file, nil
}

// Update renames, re-describes and/or moves a file. The caller has already
// established edit access on the file and, for moves, on the target folder.
func (f *FileService) Update(ctx context.Context, file *models.File, folderID uuid.UUID, name string, description *string) error {
	if name == "" {
		name = file.OriginalFilename
	}
	file.Name = name
	file.FolderID = folderID
	file.Description = description
	return f.DB.WithContext(ctx).Model(file).Updates(map[string]interface{}{
		"name":        name,
		"folder_id":   folderID,
		"description": description,
	}).Error
}

// Delete removes the file row and its grants in one transaction, counting
// remaining references to the blob after the row is gone so two concurrent
// deletes of a shared blob cannot both see a stale reference. The blob
// itself is removed after commit, best-effort.
func (f *FileService) Delete(ctx context.Context, file *models.File) error {
	blobOrphaned := false

	err := f.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := f.Grants.DeleteForResource(tx, models.ResourceKindFile, file.ID); err != nil {
			return err
		}
		if err := tx.Delete(&models.File{}, "id = ?", file.ID).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.File{}).Where("storage_path = ?", file.StoragePath).Count(&remaining).Error; err != nil {
			return err
		}
		blobOrphaned = remaining == 0
		return nil
	})
	if err != nil {
		return err
	}

	if blobOrphaned {
		if err := f.Store.Delete(ctx, file.StoragePath); err != nil {
			// The row is already gone; losing the blob cleanup must not
			// fail the delete.
			logger.Error("file_blob_delete_failed", err, map[string]interface{}{
				"file_id":     file.ID.String(),
				"object_name": file.StoragePath,
			})
		}
	}
	return nil
}

// RemoveOrphanedBlobs deletes blobs left behind by a folder cascade. Always
// best-effort: failures are logged and swallowed.
func (f *FileService) RemoveOrphanedBlobs(ctx context.Context, paths []string) {
	for _, path := range paths {
		if err := f.Store.Delete(ctx, path); err != nil {
			logger.Error("orphaned_blob_delete_failed", err, map[string]interface{}{
				"object_name": path,
			})
		}
	}
}
