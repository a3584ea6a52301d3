package models

import (
	"errors"

	"github.com/google/uuid"
)

type GrantCategory string

const (
	GrantCategoryView GrantCategory = "view"
	GrantCategoryEdit GrantCategory = "edit"
)

func (c GrantCategory) Valid() bool {
	return c == GrantCategoryView || c == GrantCategoryEdit
}

var (
	ErrGrantBadResource = errors.New("grant resource must be a folder or file")
	ErrGrantBadCategory = errors.New("grant category must be view or edit")
	ErrGrantBadGrantee  = errors.New("grant requires exactly one of user or everybody")
)

// Grant confers a category of access on a Folder or File, to a single user
// or to everybody. Exactly one of UserID / Everybody is set; the database
// CHECK constraint backs up Validate.
type Grant struct {
	BaseModel
	ResourceKind ResourceKind  `json:"resourceKind" gorm:"type:varchar(10);not null;index:idx_grants_resource"`
	ResourceID   uuid.UUID     `json:"resourceID" gorm:"type:uuid;not null;index:idx_grants_resource"`
	Category     GrantCategory `json:"category" gorm:"type:varchar(10);not null;default:'view'"`
	UserID       *uuid.UUID    `json:"userID,omitempty" gorm:"type:uuid;index"`
	Everybody    bool          `json:"everybody" gorm:"not null;default:false"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (Grant) TableName() string {
	return "grants"
}

func (g *Grant) Validate() error {
	if !g.ResourceKind.Valid() {
		return ErrGrantBadResource
	}
	if !g.Category.Valid() {
		return ErrGrantBadCategory
	}
	if g.UserID != nil && g.Everybody {
		return ErrGrantBadGrantee
	}
	if g.UserID == nil && !g.Everybody {
		return ErrGrantBadGrantee
	}
	return nil
}
