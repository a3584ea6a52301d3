package models

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File is an uploaded document inside a Folder. StoragePath references the
// underlying blob; several File rows may point at the same blob.
type File struct {
	BaseModel
	FolderID         uuid.UUID `json:"folderID" gorm:"type:uuid;not null;index"`
	StoragePath      string    `json:"-" gorm:"type:text;not null;index"`
	Name             string    `json:"name" gorm:"type:varchar(255);not null;default:''"`
	OriginalFilename string    `json:"originalFilename" gorm:"type:varchar(255);not null;default:''"`
	Size             int64     `json:"size" gorm:"not null;default:0"`
	OwnerID          uuid.UUID `json:"ownerID" gorm:"type:uuid;not null;index"`
	Description      *string   `json:"description,omitempty" gorm:"type:text"`
	Slug             string    `json:"slug" gorm:"type:varchar(40);uniqueIndex;not null"`

	Folder Folder `json:"-" gorm:"foreignKey:FolderID"`
	Owner  User   `json:"-" gorm:"foreignKey:OwnerID"`
}

// maxFilenameLength matches the varchar(255) columns; longer uploaded
// filenames are truncated rather than rejected.
const maxFilenameLength = 255

func truncateFilename(name string) string {
	runes := []rune(name)
	if len(runes) <= maxFilenameLength {
		return name
	}
	return string(runes[:maxFilenameLength])
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	f.OriginalFilename = truncateFilename(f.OriginalFilename)
	// Display name defaults to the uploaded filename. Enforced once, at
	// creation, matching how the size default is applied by the caller.
	if f.Name == "" {
		f.Name = f.OriginalFilename
	}
	f.Name = truncateFilename(f.Name)
	return ensureSlug(tx, "files", &f.Slug)
}

// Extension returns the lowercased blob extension without the dot.
func (f *File) Extension() string {
	ext := strings.ToLower(filepath.Ext(f.StoragePath))
	return strings.TrimPrefix(ext, ".")
}

func (f *File) ResourceKind() ResourceKind { return ResourceKindFile }

func (f *File) ResourceID() uuid.UUID { return f.ID }

func (f *File) ResourceOwnerID() *uuid.UUID { return &f.OwnerID }

func (f *File) ResourceSlug() string { return f.Slug }

func (f *File) ResourceName() string { return f.Name }
