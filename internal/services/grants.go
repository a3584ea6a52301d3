package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/pkg/logger"
)

// GrantService is CRUD over grants. It owns the write-time consistency rules
// (resource must resolve, user XOR everybody) but no inheritance logic; that
// lives in AccessService.
type GrantService struct {
	DB *gorm.DB
}

func NewGrantService(db *gorm.DB) *GrantService {
	return &GrantService{DB: db}
}

// ResolveResource loads the Folder or File a (kind, id) pair points at.
// Only those two kinds exist; anything else is a validation error.
func (g *GrantService) ResolveResource(ctx context.Context, kind models.ResourceKind, id uuid.UUID) (models.Resource, error) {
	switch kind {
	case models.ResourceKindFolder:
		var folder models.Folder
		if err := g.DB.WithContext(ctx).First(&folder, "id = ?", id).Error; err != nil {
			return nil, err
		}
		return &folder, nil
	case models.ResourceKindFile:
		var file models.File
		if err := g.DB.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
			return nil, err
		}
		return &file, nil
	default:
		return nil, models.ErrGrantBadResource
	}
}

// Create validates and persists a grant. The caller has already verified the
// granting user may share the resource.
func (g *GrantService) Create(ctx context.Context, grant *models.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	if _, err := g.ResolveResource(ctx, grant.ResourceKind, grant.ResourceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrGrantBadResource
		}
		return err
	}
	if grant.UserID != nil {
		var grantee models.User
		if err := g.DB.WithContext(ctx).First(&grantee, "id = ?", *grant.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGrantBadGrantee
			}
			return err
		}
	}
	return g.DB.WithContext(ctx).Create(grant).Error
}

// ForResource returns the grants on exactly this resource and category,
// split the way the resolver consumes them.
func (g *GrantService) ForResource(ctx context.Context, kind models.ResourceKind, id uuid.UUID, category models.GrantCategory) (everybody, users []models.Grant, err error) {
	var grants []models.Grant
	err = g.DB.WithContext(ctx).
		Where("resource_kind = ? AND resource_id = ? AND category = ?", kind, id, category).
		Find(&grants).Error
	if err != nil {
		return nil, nil, err
	}

	for _, grant := range grants {
		if grant.Everybody {
			everybody = append(everybody, grant)
		} else {
			users = append(users, grant)
		}
	}
	return everybody, users, nil
}

// ListForResource returns every grant on a resource with grantees preloaded,
// ordered by user then resource kind.
func (g *GrantService) ListForResource(ctx context.Context, kind models.ResourceKind, id uuid.UUID) ([]models.Grant, error) {
	var grants []models.Grant
	err := g.DB.WithContext(ctx).
		Preload("User").
		Where("resource_kind = ? AND resource_id = ?", kind, id).
		Order("user_id, resource_kind").
		Find(&grants).Error
	return grants, err
}

// DeleteForResource cascades grant removal when a resource is deleted. It
// runs on the caller's transaction.
func (g *GrantService) DeleteForResource(tx *gorm.DB, kind models.ResourceKind, id uuid.UUID) error {
	return tx.Where("resource_kind = ? AND resource_id = ?", kind, id).Delete(&models.Grant{}).Error
}

// Revoke deletes a grant on behalf of user. Only the resource's owner may
// revoke. The returned resource locates where the caller should land; nil
// means home. The revoked grant comes back so callers can notify its
// grantee. Failures after the ownership check are logged and swallowed so
// the navigation result stays benign.
func (g *GrantService) Revoke(ctx context.Context, user *models.User, grantID uuid.UUID) (models.Resource, *models.Grant, error) {
	var grant models.Grant
	if loadErr := g.DB.WithContext(ctx).First(&grant, "id = ?", grantID).Error; loadErr != nil {
		logger.Error("grant_revoke_load_failed", loadErr, map[string]interface{}{
			"grant_id": grantID.String(),
		})
		return nil, nil, nil
	}

	resource, resolveErr := g.ResolveResource(ctx, grant.ResourceKind, grant.ResourceID)
	if resolveErr != nil {
		// Dangling grant target; degrade to home rather than failing.
		logger.Error("grant_revoke_resolve_failed", resolveErr, map[string]interface{}{
			"grant_id":      grantID.String(),
			"resource_kind": string(grant.ResourceKind),
			"resource_id":   grant.ResourceID.String(),
		})
		return nil, nil, nil
	}

	owner := resource.ResourceOwnerID()
	if owner == nil || *owner != user.ID {
		return nil, nil, ErrPermissionDenied
	}

	if deleteErr := g.DB.WithContext(ctx).Delete(&grant).Error; deleteErr != nil {
		logger.Error("grant_revoke_delete_failed", deleteErr, map[string]interface{}{
			"grant_id": grantID.String(),
		})
	}
	return resource, &grant, nil
}
