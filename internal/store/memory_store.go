package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"filedepot/internal/domain"
)

// MemoryStore is an in-memory Store used by tests. It mirrors GormStore
// semantics, including the one-session-per-email invariant and live/deleted
// record visibility.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]domain.User
	files      map[int64]domain.FileRecord
	sessions   map[string]domain.Session
	nextUserID int64
	nextFileID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]domain.User),
		files:      make(map[int64]domain.FileRecord),
		sessions:   make(map[string]domain.Session),
		nextUserID: 1,
		nextFileID: 1,
	}
}

func (s *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return domain.User{}, ErrDuplicateEmail
		}
	}
	u.ID = s.nextUserID
	s.nextUserID++
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(id int64) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) RegisterUser(u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return domain.User{}, ErrDuplicateEmail
		}
	}
	if len(s.users) == 0 {
		u.Role = domain.RoleAdmin
	}
	u.ID = s.nextUserID
	s.nextUserID++
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUserByResetToken(token string) (domain.User, bool, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ResetToken == token {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) SetRole(userID int64, role domain.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) ListUsers() ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (s *MemoryStore) UpdatePasswordHash(userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.ResetToken = ""
	u.ResetTokenExpiry = time.Time{}
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SetResetToken(userID int64, token string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetToken = token
	u.ResetTokenExpiry = expiry
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) ConsumeResetToken(token, newHash string, now time.Time) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.ResetToken != token {
			continue
		}
		if u.ResetTokenExpiry.IsZero() || u.ResetTokenExpiry.Before(now) {
			return false, nil
		}
		u.PasswordHash = newHash
		u.ResetToken = ""
		u.ResetTokenExpiry = time.Time{}
		s.users[id] = u
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) DeleteUserCascade(userID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	for id, f := range s.files {
		if f.OwnerEmail == u.Email && !f.Deleted {
			f.Deleted = true
			t := now
			f.DeletedAt = &t
			s.files[id] = f
		}
	}
	for token, sess := range s.sessions {
		if sess.UserEmail == u.Email {
			delete(s.sessions, token)
		}
	}
	delete(s.users, userID)
	return nil
}

func (s *MemoryStore) ReplaceSession(sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, existing := range s.sessions {
		if existing.UserEmail == sess.UserEmail {
			delete(s.sessions, token)
		}
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *MemoryStore) GetSession(token string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok, nil
}

func (s *MemoryStore) TouchSession(token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil
	}
	sess.LastActivity = now
	s.sessions[token] = sess
	return nil
}

func (s *MemoryStore) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemoryStore) ListActiveSessions(since time.Time) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Session, 0)
	for _, sess := range s.sessions {
		if sess.LastActivity.After(since) {
			res = append(res, sess)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].LastActivity.After(res[j].LastActivity)
	})
	return res, nil
}

func (s *MemoryStore) CreateFile(f domain.FileRecord) (domain.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.nextFileID
	s.nextFileID++
	s.files[f.ID] = f
	return f, nil
}

func (s *MemoryStore) GetFile(id int64) (domain.FileRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok || f.Deleted {
		return domain.FileRecord{}, false, nil
	}
	return f, true, nil
}

func (s *MemoryStore) ListFiles(q domain.FileQuery) ([]domain.FileRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.FileRecord, 0)
	for _, f := range s.files {
		if f.Deleted {
			continue
		}
		if q.OwnerEmail != "" && f.OwnerEmail != q.OwnerEmail {
			continue
		}
		if q.Search != "" && !fileMatches(f, q) {
			continue
		}
		matched = append(matched, f)
	}

	asc := strings.EqualFold(q.SortOrder, "asc")
	sort.Slice(matched, func(i, j int) bool {
		less := fileLess(matched[i], matched[j], q.SortBy)
		if asc {
			return less
		}
		return !less
	})

	total := int64(len(matched))
	limit := pageLimit(q.Limit)
	offset := pageOffset(q.Page, q.Limit)
	if offset >= len(matched) {
		return []domain.FileRecord{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func fileMatches(f domain.FileRecord, q domain.FileQuery) bool {
	needle := strings.ToLower(q.Search)
	if strings.Contains(strings.ToLower(f.OriginalName), needle) {
		return true
	}
	// Owner email is only searchable on the unscoped (admin) listing.
	return q.OwnerEmail == "" && strings.Contains(strings.ToLower(f.OwnerEmail), needle)
}

func fileLess(a, b domain.FileRecord, sortBy string) bool {
	switch sortBy {
	case domain.SortFileSize:
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes < b.SizeBytes
		}
	case domain.SortOriginalName:
		if a.OriginalName != b.OriginalName {
			return a.OriginalName < b.OriginalName
		}
	case domain.SortFileType:
		if a.ContentType != b.ContentType {
			return a.ContentType < b.ContentType
		}
	default:
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.Before(b.UploadedAt)
		}
	}
	return a.ID < b.ID
}

func (s *MemoryStore) SoftDeleteFile(id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.Deleted {
		return ErrNotFound
	}
	f.Deleted = true
	t := now
	f.DeletedAt = &t
	s.files[id] = f
	return nil
}

func (s *MemoryStore) ListPurgeable(olderThan time.Time, limit int) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.FileRecord, 0)
	for _, f := range s.files {
		if f.Deleted && !f.Purged && f.DeletedAt != nil && !f.DeletedAt.After(olderThan) {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].DeletedAt.Before(*res[j].DeletedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *MemoryStore) MarkPurged(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Purged = true
	s.files[id] = f
	return nil
}

func (s *MemoryStore) StorageUsage(q domain.UsageQuery) ([]domain.OwnerUsage, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byOwner := make(map[string]*domain.OwnerUsage)
	for _, f := range s.files {
		if f.Deleted {
			continue
		}
		u, ok := byOwner[f.OwnerEmail]
		if !ok {
			u = &domain.OwnerUsage{
				OwnerEmail:  f.OwnerEmail,
				FirstUpload: f.UploadedAt,
				LastUpload:  f.UploadedAt,
			}
			byOwner[f.OwnerEmail] = u
		}
		u.FileCount++
		u.TotalBytes += f.SizeBytes
		if f.UploadedAt.Before(u.FirstUpload) {
			u.FirstUpload = f.UploadedAt
		}
		if f.UploadedAt.After(u.LastUpload) {
			u.LastUpload = f.UploadedAt
		}
	}

	rows := make([]domain.OwnerUsage, 0, len(byOwner))
	for _, u := range byOwner {
		rows = append(rows, *u)
	}
	asc := strings.EqualFold(q.SortOrder, "asc")
	sort.Slice(rows, func(i, j int) bool {
		less := usageLess(rows[i], rows[j], q.SortBy)
		if asc {
			return less
		}
		return !less
	})

	total := int64(len(rows))
	limit := pageLimit(q.Limit)
	offset := pageOffset(q.Page, q.Limit)
	if offset >= len(rows) {
		return []domain.OwnerUsage{}, total, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], total, nil
}

func usageLess(a, b domain.OwnerUsage, sortBy string) bool {
	switch sortBy {
	case domain.SortFileCount:
		if a.FileCount != b.FileCount {
			return a.FileCount < b.FileCount
		}
	case domain.SortLastUpload:
		if !a.LastUpload.Equal(b.LastUpload) {
			return a.LastUpload.Before(b.LastUpload)
		}
	case domain.SortOwnerEmail:
		if a.OwnerEmail != b.OwnerEmail {
			return a.OwnerEmail < b.OwnerEmail
		}
	default:
		if a.TotalBytes != b.TotalBytes {
			return a.TotalBytes < b.TotalBytes
		}
	}
	return a.OwnerEmail < b.OwnerEmail
}

func (s *MemoryStore) LiveFileCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, f := range s.files {
		if !f.Deleted {
			counts[f.OwnerEmail]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) DashboardStats(now time.Time) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.DashboardStats
	stats.TotalUsers = int64(len(s.users))
	for _, u := range s.users {
		if u.CreatedAt.After(now.AddDate(0, 0, -30)) {
			stats.NewUsers30Days++
		}
	}
	for _, f := range s.files {
		if f.Deleted {
			continue
		}
		stats.TotalFiles++
		stats.TotalBytes += f.SizeBytes
		if f.UploadedAt.After(now.AddDate(0, 0, -7)) {
			stats.FilesLastWeek++
		}
	}
	return stats, nil
}
