package services

import "errors"

var (
	// ErrPermissionDenied maps to a 403 at the HTTP boundary.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidParent covers parent==self, cycle-creating moves and
	// parents the acting user cannot edit.
	ErrInvalidParent = errors.New("invalid parent folder")

	// ErrDuplicateName means a sibling with the same name already exists.
	ErrDuplicateName = errors.New("a folder with this name already exists here")

	// ErrRootFolder guards the synthetic root and user-root folders against
	// rename, move, share and delete.
	ErrRootFolder = errors.New("root folders cannot be modified")
)
