package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is an account identified by its email address.
type User struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Role             UserRole  `json:"role"`
	ResetToken       string    `json:"-"`
	ResetTokenExpiry time.Time `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// FileRecord describes one uploaded file. StoredName is the server-generated
// on-disk name; OriginalName is the untrusted client-supplied name and is only
// ever used in response metadata, never on storage paths.
type FileRecord struct {
	ID           int64      `json:"id"`
	OwnerEmail   string     `json:"ownerEmail"`
	StoredName   string     `json:"-"`
	OriginalName string     `json:"originalName"`
	ContentType  string     `json:"contentType"`
	SizeBytes    int64      `json:"sizeBytes"`
	UploadedAt   time.Time  `json:"uploadedAt"`
	Deleted      bool       `json:"-"`
	DeletedAt    *time.Time `json:"-"`
	Purged       bool       `json:"-"`
}

// Session is a tracked login. At most one session exists per user email; the
// token is the opaque cookie value handed to the client.
type Session struct {
	Token        string    `json:"-"`
	UserEmail    string    `json:"userEmail"`
	LastActivity time.Time `json:"lastActivity"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recognized sort keys for listings and reports. Anything outside these
// falls back to the default ordering; sort input never reaches SQL verbatim.
const (
	SortUploadDate   = "upload_date"
	SortFileSize     = "file_size"
	SortOriginalName = "original_name"
	SortFileType     = "file_type"

	SortTotalBytes = "total_bytes"
	SortFileCount  = "file_count"
	SortLastUpload = "last_upload"
	SortOwnerEmail = "user_email"
)

// FileQuery scopes and orders a file listing. An empty OwnerEmail means
// unscoped (admin); non-admin callers always have it set server-side.
type FileQuery struct {
	OwnerEmail string
	Search     string
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

// UsageQuery orders the per-owner storage usage report.
type UsageQuery struct {
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// DashboardStats carries the platform-wide totals for the admin dashboard.
type DashboardStats struct {
	TotalUsers     int64 `json:"totalUsers"`
	NewUsers30Days int64 `json:"newUsers30Days"`
	TotalFiles     int64 `json:"totalFiles"`
	TotalBytes     int64 `json:"totalBytes"`
	FilesLastWeek  int64 `json:"filesLastWeek"`
}

// OwnerUsage aggregates live (non-deleted) files per owner.
type OwnerUsage struct {
	OwnerEmail  string    `json:"ownerEmail"`
	FileCount   int64     `json:"fileCount"`
	TotalBytes  int64     `json:"totalBytes"`
	FirstUpload time.Time `json:"firstUpload"`
	LastUpload  time.Time `json:"lastUpload"`
}
