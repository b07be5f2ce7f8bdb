package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"filedepot/internal/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &FileModel{}, &SessionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a user, enforcing email uniqueness.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// registrationLockKey serializes first-user bootstrap across connections.
const registrationLockKey = 0x66647573

// RegisterUser inserts a self-registered user. The first account ever created
// gets the admin role; the count and the insert run under an advisory lock, so
// two racing first registrations can never both observe an empty table.
func (s *GormStore) RegisterUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", registrationLockKey).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&UserModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			model.Role = string(domain.RoleAdmin)
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByResetToken looks up the holder of an outstanding reset token.
// Expiry is the caller's concern.
func (s *GormStore) GetUserByResetToken(token string) (domain.User, bool, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, false, nil
	}
	var model UserModel
	if err := s.db.Where("reset_token = ?", token).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetRole changes an existing user's role.
func (s *GormStore) SetRole(userID int64, role domain.UserRole) error {
	tx := s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Update("role", string(role))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users ordered by creation.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdatePasswordHash replaces the password hash and drops any reset token.
func (s *GormStore) UpdatePasswordHash(userID int64, hash string) error {
	tx := s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":      hash,
			"reset_token":        "",
			"reset_token_expiry": nil,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResetToken stores a new reset token, overwriting any previous one.
func (s *GormStore) SetResetToken(userID int64, token string, expiry time.Time) error {
	tx := s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token":        token,
			"reset_token_expiry": expiry,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeResetToken swaps the password hash and invalidates the token in one
// transaction, so a valid token can never survive a successful reset.
func (s *GormStore) ConsumeResetToken(token, newHash string, now time.Time) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	ok := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Where("reset_token = ?", token).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if model.ResetTokenExpiry == nil || model.ResetTokenExpiry.Before(now) {
			return nil
		}
		if err := tx.Model(&UserModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]any{
				"password_hash":      newHash,
				"reset_token":        "",
				"reset_token_expiry": nil,
			}).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// DeleteUserCascade removes a user and everything hanging off it: files are
// soft-deleted (audit trail survives), the tracked session is dropped, the
// user row goes last. All or nothing.
func (s *GormStore) DeleteUserCascade(userID int64, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.First(&model, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&FileModel{}).
			Where("owner_email = ? AND deleted = ?", model.Email, false).
			Updates(map[string]any{"deleted": true, "deleted_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&SessionModel{}, "user_email = ?", model.Email).Error; err != nil {
			return err
		}
		return tx.Delete(&UserModel{}, "id = ?", model.ID).Error
	})
}

// ReplaceSession evicts any tracked session for the email and installs the
// new one. A single upsert keyed on the user_email unique index keeps this
// atomic under READ COMMITTED: when two logins race, the loser's insert
// conflicts on the committed row and overwrites it, so the later login always
// wins instead of surfacing a duplicate-key error.
func (s *GormStore) ReplaceSession(sess domain.Session) error {
	model := sessionToModel(sess)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token", "last_activity", "created_at", "client_meta",
		}),
	}).Create(&model).Error
}

// GetSession resolves a session token.
func (s *GormStore) GetSession(token string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// TouchSession refreshes last activity. A vanished session is not an error;
// the validity check covers that case.
func (s *GormStore) TouchSession(token string, now time.Time) error {
	return s.db.Model(&SessionModel{}).
		Where("token = ?", token).
		Update("last_activity", now).Error
}

// DeleteSession removes a session token. Idempotent.
func (s *GormStore) DeleteSession(token string) error {
	return s.db.Delete(&SessionModel{}, "token = ?", token).Error
}

// ListActiveSessions returns sessions with activity after the cutoff, most
// recent first.
func (s *GormStore) ListActiveSessions(since time.Time) ([]domain.Session, error) {
	var models []SessionModel
	if err := s.db.Where("last_activity > ?", since).
		Order("last_activity DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(models))
	for _, m := range models {
		res = append(res, sessionFromModel(m))
	}
	return res, nil
}

// CreateFile inserts a file record.
func (s *GormStore) CreateFile(f domain.FileRecord) (domain.FileRecord, error) {
	model := fileToModel(f)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.FileRecord{}, fmt.Errorf("stored name %q already taken: %w", f.StoredName, err)
		}
		return domain.FileRecord{}, err
	}
	return fileFromModel(model), nil
}

// GetFile retrieves a live record by ID.
func (s *GormStore) GetFile(id int64) (domain.FileRecord, bool, error) {
	var model FileModel
	if err := s.db.Where("id = ? AND deleted = ?", id, false).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFiles returns a page of live records plus the total match count.
// Owner scoping happens here, never in the caller's presentation layer.
func (s *GormStore) ListFiles(q domain.FileQuery) ([]domain.FileRecord, int64, error) {
	filtered := func() *gorm.DB {
		tx := s.db.Model(&FileModel{}).Where("deleted = ?", false)
		if q.OwnerEmail != "" {
			tx = tx.Where("owner_email = ?", q.OwnerEmail)
			if q.Search != "" {
				tx = tx.Where("original_name ILIKE ?", "%"+q.Search+"%")
			}
			return tx
		}
		if q.Search != "" {
			pattern := "%" + q.Search + "%"
			tx = tx.Where("original_name ILIKE ? OR owner_email ILIKE ?", pattern, pattern)
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []FileModel
	if err := filtered().
		Order(fileSortColumn(q.SortBy) + " " + sortDirection(q.SortOrder)).
		Offset(pageOffset(q.Page, q.Limit)).
		Limit(pageLimit(q.Limit)).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, total, nil
}

// SoftDeleteFile marks a live record deleted. Returns ErrNotFound when the
// record is missing or already deleted, so a second delete cannot resurrect
// or double-count anything.
func (s *GormStore) SoftDeleteFile(id int64, now time.Time) error {
	tx := s.db.Model(&FileModel{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{"deleted": true, "deleted_at": now})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPurgeable returns soft-deleted records whose blobs still exist and
// whose deletion is older than the cutoff.
func (s *GormStore) ListPurgeable(olderThan time.Time, limit int) ([]domain.FileRecord, error) {
	var models []FileModel
	if err := s.db.
		Where("deleted = ? AND purged = ? AND deleted_at <= ?", true, false, olderThan).
		Order("deleted_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// MarkPurged records that the blob behind a soft-deleted record is gone.
func (s *GormStore) MarkPurged(id int64) error {
	return s.db.Model(&FileModel{}).Where("id = ?", id).Update("purged", true).Error
}

// StorageUsage aggregates live files per owner.
func (s *GormStore) StorageUsage(q domain.UsageQuery) ([]domain.OwnerUsage, int64, error) {
	var total int64
	if err := s.db.Model(&FileModel{}).
		Where("deleted = ?", false).
		Distinct("owner_email").
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []domain.OwnerUsage
	if err := s.db.Model(&FileModel{}).
		Select("owner_email, COUNT(*) AS file_count, SUM(size_bytes) AS total_bytes, MIN(uploaded_at) AS first_upload, MAX(uploaded_at) AS last_upload").
		Where("deleted = ?", false).
		Group("owner_email").
		Order(usageSortColumn(q.SortBy) + " " + sortDirection(q.SortOrder)).
		Offset(pageOffset(q.Page, q.Limit)).
		Limit(pageLimit(q.Limit)).
		Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// LiveFileCounts returns the number of live files per owner email.
func (s *GormStore) LiveFileCounts() (map[string]int64, error) {
	var rows []struct {
		OwnerEmail string
		FileCount  int64
	}
	if err := s.db.Model(&FileModel{}).
		Select("owner_email, COUNT(*) AS file_count").
		Where("deleted = ?", false).
		Group("owner_email").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.OwnerEmail] = row.FileCount
	}
	return counts, nil
}

// DashboardStats aggregates the platform-wide numbers shown on the admin
// dashboard. Deleted files are excluded everywhere.
func (s *GormStore) DashboardStats(now time.Time) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	if err := s.db.Model(&UserModel{}).Count(&stats.TotalUsers).Error; err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.db.Model(&UserModel{}).
		Where("created_at > ?", now.AddDate(0, 0, -30)).
		Count(&stats.NewUsers30Days).Error; err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.db.Model(&FileModel{}).
		Where("deleted = ?", false).
		Count(&stats.TotalFiles).Error; err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.db.Model(&FileModel{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("deleted = ?", false).
		Scan(&stats.TotalBytes).Error; err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.db.Model(&FileModel{}).
		Where("deleted = ? AND uploaded_at > ?", false, now.AddDate(0, 0, -7)).
		Count(&stats.FilesLastWeek).Error; err != nil {
		return domain.DashboardStats{}, err
	}
	return stats, nil
}

func fileSortColumn(sortBy string) string {
	switch sortBy {
	case domain.SortFileSize:
		return "size_bytes"
	case domain.SortOriginalName:
		return "original_name"
	case domain.SortFileType:
		return "content_type"
	default:
		return "uploaded_at"
	}
}

func usageSortColumn(sortBy string) string {
	switch sortBy {
	case domain.SortFileCount:
		return "file_count"
	case domain.SortLastUpload:
		return "last_upload"
	case domain.SortOwnerEmail:
		return "owner_email"
	default:
		return "total_bytes"
	}
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func pageOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageLimit(limit)
}

func pageLimit(limit int) int {
	if limit < 1 {
		return 20
	}
	return limit
}
