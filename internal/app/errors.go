package app

import "errors"

// Sentinel errors returned by application operations. Handlers map these to
// HTTP statuses; anything else is treated as an internal failure.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailExists         = errors.New("email already registered")
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrForbidden           = errors.New("access denied")
	ErrNotFound            = errors.New("not found")
	ErrEmptyUpload         = errors.New("uploaded file is empty")
	ErrFileTooLarge        = errors.New("uploaded file exceeds the size limit")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrInvalidResetToken   = errors.New("reset token is invalid or expired")
	ErrInvalidRole         = errors.New("unknown role")
	ErrSelfDelete          = errors.New("cannot delete your own account")
)
