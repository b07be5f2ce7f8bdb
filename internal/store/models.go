package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"filedepot/internal/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID               int64  `gorm:"primaryKey"`
	Email            string `gorm:"uniqueIndex;not null"`
	PasswordHash     string `gorm:"not null"`
	Role             string `gorm:"not null"`
	ResetToken       string `gorm:"index"`
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time `gorm:"not null"`
}

type FileModel struct {
	ID           int64  `gorm:"primaryKey"`
	OwnerEmail   string `gorm:"not null;index"`
	StoredName   string `gorm:"uniqueIndex;not null"`
	OriginalName string `gorm:"not null"`
	ContentType  string `gorm:"not null"`
	SizeBytes    int64  `gorm:"not null"`
	UploadedAt   time.Time
	Deleted      bool `gorm:"not null;index"`
	DeletedAt    *time.Time
	Purged       bool `gorm:"not null"`
}

// SessionModel tracks the single live session per account. The unique index
// on UserEmail is what makes the single-active-session policy hold even under
// concurrent logins.
type SessionModel struct {
	Token        string    `gorm:"primaryKey"`
	UserEmail    string    `gorm:"uniqueIndex;not null"`
	LastActivity time.Time `gorm:"not null;index"`
	ClientMeta   datatypes.JSON
	CreatedAt    time.Time `gorm:"not null"`
}

type sessionClientMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

func userToModel(u domain.User) UserModel {
	m := UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		ResetToken:   u.ResetToken,
		CreatedAt:    u.CreatedAt,
	}
	if !u.ResetTokenExpiry.IsZero() {
		expiry := u.ResetTokenExpiry
		m.ResetTokenExpiry = &expiry
	}
	return m
}

func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		ResetToken:   m.ResetToken,
		CreatedAt:    m.CreatedAt,
	}
	if m.ResetTokenExpiry != nil {
		u.ResetTokenExpiry = *m.ResetTokenExpiry
	}
	return u
}

func fileToModel(f domain.FileRecord) FileModel {
	return FileModel{
		ID:           f.ID,
		OwnerEmail:   f.OwnerEmail,
		StoredName:   f.StoredName,
		OriginalName: f.OriginalName,
		ContentType:  f.ContentType,
		SizeBytes:    f.SizeBytes,
		UploadedAt:   f.UploadedAt,
		Deleted:      f.Deleted,
		DeletedAt:    f.DeletedAt,
		Purged:       f.Purged,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	return domain.FileRecord{
		ID:           m.ID,
		OwnerEmail:   m.OwnerEmail,
		StoredName:   m.StoredName,
		OriginalName: m.OriginalName,
		ContentType:  m.ContentType,
		SizeBytes:    m.SizeBytes,
		UploadedAt:   m.UploadedAt,
		Deleted:      m.Deleted,
		DeletedAt:    m.DeletedAt,
		Purged:       m.Purged,
	}
}

func sessionToModel(s domain.Session) SessionModel {
	meta, _ := json.Marshal(sessionClientMeta{IP: s.IP, UserAgent: s.UserAgent})
	return SessionModel{
		Token:        s.Token,
		UserEmail:    s.UserEmail,
		LastActivity: s.LastActivity,
		ClientMeta:   datatypes.JSON(meta),
		CreatedAt:    s.CreatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	var meta sessionClientMeta
	_ = json.Unmarshal(m.ClientMeta, &meta)
	return domain.Session{
		Token:        m.Token,
		UserEmail:    m.UserEmail,
		LastActivity: m.LastActivity,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		CreatedAt:    m.CreatedAt,
	}
}
