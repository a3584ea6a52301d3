package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/pkg/logger"
)

// UsersRootName is the name of the singleton top-level folder every user
// root hangs off.
const UsersRootName = "Users"

// maxTreeDepth bounds ancestor walks so a corrupted parent pointer cannot
// spin forever.
const maxTreeDepth = 256

// TreeService maintains the folder forest: per-user roots, ancestor and
// descendant queries, and the mutations that reshape the tree.
type TreeService struct {
	DB *gorm.DB
}

func NewTreeService(db *gorm.DB) *TreeService {
	return &TreeService{DB: db}
}

// UsersRoot returns the synthetic top-level folder, creating it on first use.
func (t *TreeService) UsersRoot(ctx context.Context) (*models.Folder, error) {
	return t.getOrCreateFolder(ctx, UsersRootName, nil, nil)
}

// GetUserRoot returns the user's home folder, lazily provisioning the
// synthetic root and the per-user root. Idempotent and safe under concurrent
// first calls: a racing duplicate create loses the unique index and is
// retried as a get.
func (t *TreeService) GetUserRoot(ctx context.Context, user *models.User) (*models.Folder, error) {
	usersRoot, err := t.UsersRoot(ctx)
	if err != nil {
		return nil, err
	}
	return t.getOrCreateFolder(ctx, user.ID.String(), &usersRoot.ID, &user.ID)
}

func (t *TreeService) getOrCreateFolder(ctx context.Context, name string, parentID, ownerID *uuid.UUID) (*models.Folder, error) {
	folder, err := t.findChild(ctx, parentID, name)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := &models.Folder{Name: name, ParentID: parentID, OwnerID: ownerID}
	if createErr := t.DB.WithContext(ctx).Create(created).Error; createErr != nil {
		// Lost the race against a concurrent first call.
		if folder, retryErr := t.findChild(ctx, parentID, name); retryErr == nil {
			return folder, nil
		}
		return nil, createErr
	}
	return created, nil
}

func (t *TreeService) findChild(ctx context.Context, parentID *uuid.UUID, name string) (*models.Folder, error) {
	query := t.DB.WithContext(ctx).Where("name = ?", name)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}

	var folder models.Folder
	if err := query.First(&folder).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

// FolderBySlug resolves the opaque external identifier to a folder.
func (t *TreeService) FolderBySlug(ctx context.Context, slug string) (*models.Folder, error) {
	var folder models.Folder
	if err := t.DB.WithContext(ctx).First(&folder, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

// IsUserRoot reports whether folder is the synthetic root or a user's home
// folder. Both are structural and must never be renamed, moved or deleted.
func (t *TreeService) IsUserRoot(ctx context.Context, folder *models.Folder) (bool, error) {
	if folder.IsSyntheticRoot() {
		return true, nil
	}
	var parent models.Folder
	if err := t.DB.WithContext(ctx).First(&parent, "id = ?", *folder.ParentID).Error; err != nil {
		return false, err
	}
	return parent.IsSyntheticRoot(), nil
}

// Ancestors returns the chain from the forest root down to folder (or its
// parent when includeSelf is false), for breadcrumbs and the permission walk.
func (t *TreeService) Ancestors(ctx context.Context, folder *models.Folder, includeSelf bool) ([]models.Folder, error) {
	chain := make([]models.Folder, 0, 8)
	if includeSelf {
		chain = append(chain, *folder)
	}

	parentID := folder.ParentID
	for depth := 0; parentID != nil; depth++ {
		if depth >= maxTreeDepth {
			return nil, fmt.Errorf("folder %s: ancestor chain exceeds %d levels", folder.Slug, maxTreeDepth)
		}
		var parent models.Folder
		if err := t.DB.WithContext(ctx).First(&parent, "id = ?", *parentID).Error; err != nil {
			return nil, err
		}
		chain = append(chain, parent)
		parentID = parent.ParentID
	}

	// Walked leaf-to-root; callers want root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// TreeEntry is a folder with its depth relative to the walk origin.
type TreeEntry struct {
	models.Folder
	Depth int
}

// Descendants returns folder's subtree, name-ordered depth-first, excluding
// folder itself. Depth is relative to folder (direct children are 1).
func (t *TreeService) Descendants(ctx context.Context, folder *models.Folder) ([]TreeEntry, error) {
	return t.collectDescendants(ctx, t.DB, folder.ID, 1)
}

func (t *TreeService) collectDescendants(ctx context.Context, tx *gorm.DB, parentID uuid.UUID, depth int) ([]TreeEntry, error) {
	if depth > maxTreeDepth {
		return nil, fmt.Errorf("descendant walk exceeds %d levels", maxTreeDepth)
	}

	var children []models.Folder
	if err := tx.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("name").
		Find(&children).Error; err != nil {
		return nil, err
	}

	var result []TreeEntry
	for _, child := range children {
		result = append(result, TreeEntry{Folder: child, Depth: depth})
		grandchildren, err := t.collectDescendants(ctx, tx, child.ID, depth+1)
		if err != nil {
			return nil, err
		}
		result = append(result, grandchildren...)
	}
	return result, nil
}

// IsDescendant reports whether candidateID lies strictly beneath ancestor,
// by walking the candidate's parent chain. Used to reject cycle-creating
// moves; callers run it on the same transaction as the move.
func (t *TreeService) IsDescendant(ctx context.Context, tx *gorm.DB, ancestor *models.Folder, candidateID uuid.UUID) (bool, error) {
	if tx == nil {
		tx = t.DB
	}
	currentID := candidateID
	for depth := 0; ; depth++ {
		if depth >= maxTreeDepth {
			return false, fmt.Errorf("parent chain exceeds %d levels", maxTreeDepth)
		}
		var current models.Folder
		if err := tx.WithContext(ctx).Select("id", "parent_id").First(&current, "id = ?", currentID).Error; err != nil {
			return false, err
		}
		if current.ParentID == nil {
			return false, nil
		}
		if *current.ParentID == ancestor.ID {
			return true, nil
		}
		currentID = *current.ParentID
	}
}

// FolderChoice is one entry of the "choose a folder" picker: the user root
// labeled Home, then its descendants indented by depth.
type FolderChoice struct {
	ID    uuid.UUID `json:"id"`
	Slug  string    `json:"slug"`
	Label string    `json:"label"`
}

// FolderChoices lists the valid move/create targets for user. exclude drops
// a folder (typically the one being moved) and its subtree from the list.
func (t *TreeService) FolderChoices(ctx context.Context, user *models.User, exclude *uuid.UUID) ([]FolderChoice, error) {
	root, err := t.GetUserRoot(ctx, user)
	if err != nil {
		return nil, err
	}

	entries, err := t.Descendants(ctx, root)
	if err != nil {
		return nil, err
	}

	choices := []FolderChoice{{ID: root.ID, Slug: root.Slug, Label: "Home"}}
	skipBelow := -1
	for _, entry := range entries {
		if skipBelow >= 0 {
			if entry.Depth > skipBelow {
				continue
			}
			skipBelow = -1
		}
		if exclude != nil && entry.ID == *exclude {
			skipBelow = entry.Depth
			continue
		}
		choices = append(choices, FolderChoice{
			ID:    entry.ID,
			Slug:  entry.Slug,
			Label: strings.Repeat("---", entry.Depth) + " " + entry.Name,
		})
	}
	return choices, nil
}

// CreateFolder adds a child folder owned by user. The caller has already
// established edit access on the parent.
func (t *TreeService) CreateFolder(ctx context.Context, user *models.User, parent *models.Folder, name string, description *string) (*models.Folder, error) {
	if _, err := t.findChild(ctx, &parent.ID, name); err == nil {
		return nil, ErrDuplicateName
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	folder := &models.Folder{
		Name:        name,
		ParentID:    &parent.ID,
		OwnerID:     &user.ID,
		Description: description,
	}
	if err := t.DB.WithContext(ctx).Create(folder).Error; err != nil {
		return nil, err
	}
	return folder, nil
}

// UpdateFolder renames, re-describes and/or moves a folder. A move is
// validated against the current tree inside the update transaction: the new
// parent may not be the folder itself or any of its descendants.
func (t *TreeService) UpdateFolder(ctx context.Context, folder *models.Folder, newParentID uuid.UUID, name string, description *string) error {
	return t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if newParentID == folder.ID {
			return ErrInvalidParent
		}
		cycles, err := t.IsDescendant(ctx, tx, folder, newParentID)
		if err != nil {
			return err
		}
		if cycles {
			return ErrInvalidParent
		}

		var sibling models.Folder
		err = tx.Where("parent_id = ? AND name = ? AND id <> ?", newParentID, name, folder.ID).
			First(&sibling).Error
		if err == nil {
			return ErrDuplicateName
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		folder.Name = name
		folder.ParentID = &newParentID
		folder.Description = description
		return tx.Model(folder).Updates(map[string]interface{}{
			"name":        name,
			"parent_id":   newParentID,
			"description": description,
		}).Error
	})
}

// DeleteFolder removes folder, its descendant folders, their files and every
// grant on any of them, in one transaction. It returns the storage paths
// whose last referencing file row is gone; the caller removes those blobs
// best-effort after commit.
func (t *TreeService) DeleteFolder(ctx context.Context, folder *models.Folder) ([]string, error) {
	var orphanedBlobs []string

	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := t.collectDescendants(ctx, tx, folder.ID, 1)
		if err != nil {
			return err
		}

		folderIDs := make([]uuid.UUID, 0, len(entries)+1)
		folderIDs = append(folderIDs, folder.ID)
		for _, entry := range entries {
			folderIDs = append(folderIDs, entry.ID)
		}

		var files []models.File
		if err := tx.Where("folder_id IN ?", folderIDs).Find(&files).Error; err != nil {
			return err
		}

		fileIDs := make([]uuid.UUID, len(files))
		paths := make(map[string]struct{}, len(files))
		for i, file := range files {
			fileIDs[i] = file.ID
			paths[file.StoragePath] = struct{}{}
		}

		if err := tx.Where("resource_kind = ? AND resource_id IN ?", models.ResourceKindFolder, folderIDs).
			Delete(&models.Grant{}).Error; err != nil {
			return err
		}
		if len(fileIDs) > 0 {
			if err := tx.Where("resource_kind = ? AND resource_id IN ?", models.ResourceKindFile, fileIDs).
				Delete(&models.Grant{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", fileIDs).Delete(&models.File{}).Error; err != nil {
				return err
			}
		}

		// Children before parents to keep referential integrity happy.
		for i := len(folderIDs) - 1; i >= 0; i-- {
			if err := tx.Where("id = ?", folderIDs[i]).Delete(&models.Folder{}).Error; err != nil {
				return err
			}
		}

		// Reference counting happens after the rows are gone, still inside
		// the transaction, so concurrent deletes of a shared blob cannot
		// both see a stale reference.
		for path := range paths {
			var remaining int64
			if err := tx.Model(&models.File{}).Where("storage_path = ?", path).Count(&remaining).Error; err != nil {
				return err
			}
			if remaining == 0 {
				orphanedBlobs = append(orphanedBlobs, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("folder_deleted", map[string]interface{}{
		"folder_id":      folder.ID.String(),
		"folder_slug":    folder.Slug,
		"orphaned_blobs": len(orphanedBlobs),
	})
	return orphanedBlobs, nil
}
