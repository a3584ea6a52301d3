package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/database"
	"github.com/drivebox/backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating schema: %v", err)
	}

	return db
}

func createUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()

	user := &models.User{
		Email:        email,
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

func createFolder(t *testing.T, db *gorm.DB, name string, parent *models.Folder, owner *models.User) *models.Folder {
	t.Helper()

	folder := &models.Folder{Name: name}
	if parent != nil {
		folder.ParentID = &parent.ID
	}
	if owner != nil {
		folder.OwnerID = &owner.ID
	}
	if err := db.Create(folder).Error; err != nil {
		t.Fatalf("failed creating folder %s: %v", name, err)
	}
	return folder
}

func createFile(t *testing.T, db *gorm.DB, name string, folder *models.Folder, owner *models.User, storagePath string) *models.File {
	t.Helper()

	file := &models.File{
		FolderID:         folder.ID,
		StoragePath:      storagePath,
		Name:             name,
		OriginalFilename: name,
		Size:             42,
		OwnerID:          owner.ID,
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file %s: %v", name, err)
	}
	return file
}

func createGrant(t *testing.T, db *gorm.DB, kind models.ResourceKind, resourceID uuid.UUID, category models.GrantCategory, userID *uuid.UUID, everybody bool) *models.Grant {
	t.Helper()

	grant := &models.Grant{
		ResourceKind: kind,
		ResourceID:   resourceID,
		Category:     category,
		UserID:       userID,
		Everybody:    everybody,
	}
	if err := db.Create(grant).Error; err != nil {
		t.Fatalf("failed creating grant: %v", err)
	}
	return grant
}

// memBlobStore is an in-memory BlobStore for exercising the file lifecycle.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (m *memBlobStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return nil
}

func (m *memBlobStore) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) Delete(_ context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

func (m *memBlobStore) has(objectName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectName]
	return ok
}
