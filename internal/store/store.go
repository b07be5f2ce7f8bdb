package store

import (
	"errors"
	"time"

	"filedepot/internal/domain"
)

var (
	// ErrDuplicateEmail is returned when the email uniqueness invariant
	// would be violated.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned by mutations whose target row is missing or
	// already soft-deleted.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence operations for users, sessions, and file records.
type Store interface {
	// users
	CreateUser(u domain.User) (domain.User, error)
	// RegisterUser inserts a user, granting the admin role when the table
	// is empty. Count and insert run under one lock so two concurrent
	// first registrations cannot both bootstrap an admin.
	RegisterUser(u domain.User) (domain.User, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id int64) (domain.User, bool, error)
	GetUserByResetToken(token string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UpdatePasswordHash(userID int64, hash string) error
	SetRole(userID int64, role domain.UserRole) error
	SetResetToken(userID int64, token string, expiry time.Time) error
	// ConsumeResetToken atomically replaces the password hash and clears the
	// token. Returns false when the token is unknown or expired.
	ConsumeResetToken(token, newHash string, now time.Time) (bool, error)
	// DeleteUserCascade soft-deletes the user's files, drops their tracked
	// session, and removes the user row in one transaction.
	DeleteUserCascade(userID int64, now time.Time) error

	// sessions; at most one tracked session exists per user email
	ReplaceSession(s domain.Session) error
	GetSession(token string) (domain.Session, bool, error)
	TouchSession(token string, now time.Time) error
	DeleteSession(token string) error
	ListActiveSessions(since time.Time) ([]domain.Session, error)

	// files
	CreateFile(f domain.FileRecord) (domain.FileRecord, error)
	// GetFile returns live (non-soft-deleted) records only.
	GetFile(id int64) (domain.FileRecord, bool, error)
	ListFiles(q domain.FileQuery) ([]domain.FileRecord, int64, error)
	SoftDeleteFile(id int64, now time.Time) error
	ListPurgeable(olderThan time.Time, limit int) ([]domain.FileRecord, error)
	MarkPurged(id int64) error

	// reports
	StorageUsage(q domain.UsageQuery) ([]domain.OwnerUsage, int64, error)
	LiveFileCounts() (map[string]int64, error)
	DashboardStats(now time.Time) (domain.DashboardStats, error)
}
