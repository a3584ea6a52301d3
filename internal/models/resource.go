package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/pkg/random"
)

// ResourceKind discriminates the two kinds of objects a grant can target.
// Nothing else is permission-able.
type ResourceKind string

const (
	ResourceKindFolder ResourceKind = "folder"
	ResourceKindFile   ResourceKind = "file"
)

func (k ResourceKind) Valid() bool {
	return k == ResourceKindFolder || k == ResourceKindFile
}

// Resource is the shared view of a Folder or File as a grant target and
// access-check subject. Only those two types implement it.
type Resource interface {
	ResourceKind() ResourceKind
	ResourceID() uuid.UUID
	ResourceOwnerID() *uuid.UUID
	ResourceSlug() string
	ResourceName() string
}

const slugLength = 20

// ensureSlug assigns a collision-free random slug inside the creating
// transaction. The unique index on slug is the atomicity backstop.
func ensureSlug(tx *gorm.DB, table string, slug *string) error {
	if *slug != "" {
		return nil
	}
	for {
		candidate := random.Hex(slugLength)
		var count int64
		if err := tx.Table(table).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			*slug = candidate
			return nil
		}
	}
}
