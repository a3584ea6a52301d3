package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Folder is a node in the per-user directory tree. The synthetic top-level
// "Users" folder is the only row with both ParentID and OwnerID nil; each
// user's root is a direct child of it named by the user's id.
type Folder struct {
	BaseModel
	Name        string     `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_folders_parent_name"`
	ParentID    *uuid.UUID `json:"parentID,omitempty" gorm:"type:uuid;uniqueIndex:idx_folders_parent_name"`
	OwnerID     *uuid.UUID `json:"ownerID,omitempty" gorm:"type:uuid;index"`
	Description *string    `json:"description,omitempty" gorm:"type:text"`
	Slug        string     `json:"slug" gorm:"type:varchar(40);uniqueIndex;not null"`

	Parent   *Folder  `json:"-" gorm:"foreignKey:ParentID"`
	Children []Folder `json:"children,omitempty" gorm:"foreignKey:ParentID"`
	Files    []File   `json:"files,omitempty" gorm:"foreignKey:FolderID"`
	Owner    *User    `json:"-" gorm:"foreignKey:OwnerID"`
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return ensureSlug(tx, "folders", &f.Slug)
}

// IsSyntheticRoot reports whether this is the shared top-level folder.
func (f *Folder) IsSyntheticRoot() bool {
	return f.ParentID == nil
}

func (f *Folder) ResourceKind() ResourceKind { return ResourceKindFolder }

func (f *Folder) ResourceID() uuid.UUID { return f.ID }

func (f *Folder) ResourceOwnerID() *uuid.UUID { return f.OwnerID }

func (f *Folder) ResourceSlug() string { return f.Slug }

func (f *Folder) ResourceName() string { return f.Name }
