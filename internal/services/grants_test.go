package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/drivebox/backend/internal/models"
)

func TestGrantCreate(t *testing.T) {
	db := setupTestDB(t)
	tree := NewTreeService(db)
	grants := NewGrantService(db)
	ctx := context.Background()

	owner := createUser(t, db, "owner@example.com", models.UserRoleUser)
	grantee := createUser(t, db, "grantee@example.com", models.UserRoleUser)
	root, _ := tree.GetUserRoot(ctx, owner)
	folder := createFolder(t, db, "shared", root, owner)

	t.Run("persists a valid user grant", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryView,
			UserID:       &grantee.ID,
		}
		if err := grants.Create(ctx, grant); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if grant.ID == uuid.Nil {
			t.Error("expected grant to get an ID")
		}
	})

	t.Run("persists a valid everybody grant", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryEdit,
			Everybody:    true,
		}
		if err := grants.Create(ctx, grant); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	})

	t.Run("rejects user and everybody together", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryView,
			UserID:       &grantee.ID,
			Everybody:    true,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadGrantee) {
			t.Errorf("expected ErrGrantBadGrantee, got %v", err)
		}
	})

	t.Run("rejects neither user nor everybody", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryView,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadGrantee) {
			t.Errorf("expected ErrGrantBadGrantee, got %v", err)
		}
	})

	t.Run("rejects an unknown category", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     "admin",
			Everybody:    true,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadCategory) {
			t.Errorf("expected ErrGrantBadCategory, got %v", err)
		}
	})

	t.Run("rejects an unknown resource kind", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: "comment",
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryView,
			Everybody:    true,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadResource) {
			t.Errorf("expected ErrGrantBadResource, got %v", err)
		}
	})

	t.Run("rejects a missing resource", func(t *testing.T) {
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   uuid.New(),
			Category:     models.GrantCategoryView,
			Everybody:    true,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadResource) {
			t.Errorf("expected ErrGrantBadResource, got %v", err)
		}
	})

	t.Run("rejects a missing grantee", func(t *testing.T) {
		ghost := uuid.New()
		grant := &models.Grant{
			ResourceKind: models.ResourceKindFolder,
			ResourceID:   folder.ID,
			Category:     models.GrantCategoryView,
			UserID:       &ghost,
		}
		if err := grants.Create(ctx, grant); !errors.Is(err, models.ErrGrantBadGrantee) {
			t.Errorf("expected ErrGrantBadGrantee, got %v", err)
		}
	})
}

func TestGrantForResource(t *testing.T) {
	db := setupTestDB(t)
	tree := NewTreeService(db)
	grants := NewGrantService(db)
	ctx := context.Background()

	owner := createUser(t, db, "owner@example.com", models.UserRoleUser)
	grantee := createUser(t, db, "grantee@example.com", models.UserRoleUser)
	root, _ := tree.GetUserRoot(ctx, owner)
	folder := createFolder(t, db, "shared", root, owner)
	other := createFolder(t, db, "other", root, owner)

	createGrant(t, db, models.ResourceKindFolder, folder.ID, models.GrantCategoryView, &grantee.ID, false)
	createGrant(t, db, models.ResourceKindFolder, folder.ID, models.GrantCategoryView, nil, true)
	createGrant(t, db, models.ResourceKindFolder, folder.ID, models.GrantCategoryEdit, &grantee.ID, false)
	createGrant(t, db, models.ResourceKindFolder, other.ID, models.GrantCategoryView, nil, true)

	t.Run("splits by grantee and filters by category", func(t *testing.T) {
		everybody, users, err := grants.ForResource(ctx, models.ResourceKindFolder, folder.ID, models.GrantCategoryView)
		if err != nil {
			t.Fatalf("ForResource failed: %v", err)
		}
		if len(everybody) != 1 || len(users) != 1 {
			t.Errorf("expected 1 everybody and 1 user grant, got %d and %d", len(everybody), len(users))
		}
	})

	t.Run("lists all categories with grantees preloaded", func(t *testing.T) {
		all, err := grants.ListForResource(ctx, models.ResourceKindFolder, folder.ID)
		if err != nil {
			t.Fatalf("ListForResource failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 grants, got %d", len(all))
		}
		for _, grant := range all {
			if grant.UserID != nil && grant.User == nil {
				t.Error("expected grantee preloaded on user grant")
			}
		}
	})
}

func TestGrantRevoke(t *testing.T) {
	db := setupTestDB(t)
	tree := NewTreeService(db)
	grants := NewGrantService(db)
	ctx := context.Background()

	owner := createUser(t, db, "owner@example.com", models.UserRoleUser)
	grantee := createUser(t, db, "grantee@example.com", models.UserRoleUser)
	root, _ := tree.GetUserRoot(ctx, owner)
	folder := createFolder(t, db, "shared", root, owner)

	t.Run("owner revokes and lands on the resource", func(t *testing.T) {
		grant := createGrant(t, db, models.ResourceKindFolder, folder.ID, models.GrantCategoryView, &grantee.ID, false)

		resource, revoked, err := grants.Revoke(ctx, owner, grant.ID)
		if err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		if resource == nil || resource.ResourceKind() != models.ResourceKindFolder || resource.ResourceSlug() != folder.Slug {
			t.Errorf("expected folder/%s, got %v", folder.Slug, resource)
		}
		if revoked == nil || revoked.UserID == nil || *revoked.UserID != grantee.ID {
			t.Errorf("expected the revoked grant with its grantee, got %v", revoked)
		}

		var count int64
		db.Model(&models.Grant{}).Where("id = ?", grant.ID).Count(&count)
		if count != 0 {
			t.Error("expected grant deleted")
		}
	})

	t.Run("non-owner is refused", func(t *testing.T) {
		grant := createGrant(t, db, models.ResourceKindFolder, folder.ID, models.GrantCategoryView, &grantee.ID, false)

		if _, _, err := grants.Revoke(ctx, grantee, grant.ID); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		var count int64
		db.Model(&models.Grant{}).Where("id = ?", grant.ID).Count(&count)
		if count != 1 {
			t.Error("expected grant still present")
		}
	})

	t.Run("missing grant degrades to home", func(t *testing.T) {
		resource, revoked, err := grants.Revoke(ctx, owner, uuid.New())
		if err != nil {
			t.Fatalf("expected benign result, got %v", err)
		}
		if resource != nil || revoked != nil {
			t.Errorf("expected empty navigation target, got %v/%v", resource, revoked)
		}
	})
}
