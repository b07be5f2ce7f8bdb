package store

import (
	"errors"
	"testing"
	"time"

	"filedepot/internal/domain"
)

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.CreateUser(domain.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateUser(domain.User{Email: "a@example.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestReplaceSessionEvictsPrevious(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	if err := s.ReplaceSession(domain.Session{Token: "t1", UserEmail: "a@example.com", LastActivity: now}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceSession(domain.Session{Token: "t2", UserEmail: "a@example.com", LastActivity: now}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetSession("t1"); ok {
		t.Fatal("old session should have been evicted")
	}
	if _, ok, _ := s.GetSession("t2"); !ok {
		t.Fatal("new session missing")
	}
	active, err := s.ListActiveSessions(now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one session per email, got %d", len(active))
	}
}

func TestSoftDeleteHidesFile(t *testing.T) {
	s := NewMemoryStore()
	f, err := s.CreateFile(domain.FileRecord{OwnerEmail: "a@example.com", OriginalName: "report.pdf", UploadedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SoftDeleteFile(f.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetFile(f.ID); ok {
		t.Fatal("soft-deleted file should be invisible")
	}
	if err := s.SoftDeleteFile(f.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report ErrNotFound, got %v", err)
	}
	rows, total, err := s.ListFiles(domain.FileQuery{OwnerEmail: "a@example.com", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("listing should exclude soft-deleted files, got total=%d rows=%d", total, len(rows))
	}
}

func TestListFilesScopeAndSearch(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	mustCreateFile(t, s, "a@example.com", "alpha.txt", 10, now)
	mustCreateFile(t, s, "a@example.com", "beta.pdf", 20, now.Add(time.Second))
	mustCreateFile(t, s, "b@example.com", "alpha-copy.txt", 30, now.Add(2*time.Second))

	rows, total, err := s.ListFiles(domain.FileQuery{OwnerEmail: "a@example.com", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("owner scope: want 2, got %d", total)
	}
	for _, f := range rows {
		if f.OwnerEmail != "a@example.com" {
			t.Fatalf("leaked file owned by %s", f.OwnerEmail)
		}
	}

	// Scoped search only matches names; it must not match other owners.
	_, total, err = s.ListFiles(domain.FileQuery{OwnerEmail: "a@example.com", Search: "alpha", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("scoped search: want 1, got %d", total)
	}

	// Unscoped search matches owner emails too.
	_, total, err = s.ListFiles(domain.FileQuery{Search: "b@example", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("unscoped email search: want 1, got %d", total)
	}
}

func TestListFilesSorting(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	mustCreateFile(t, s, "a@example.com", "small.txt", 1, now.Add(2*time.Second))
	mustCreateFile(t, s, "a@example.com", "big.txt", 100, now)

	rows, _, err := s.ListFiles(domain.FileQuery{SortBy: domain.SortFileSize, SortOrder: "asc", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].OriginalName != "small.txt" {
		t.Fatalf("size asc: want small.txt first, got %s", rows[0].OriginalName)
	}

	rows, _, err = s.ListFiles(domain.FileQuery{SortBy: "drop table", Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	// Unknown sort keys fall back to upload date descending.
	if rows[0].OriginalName != "small.txt" {
		t.Fatalf("fallback sort: want newest first, got %s", rows[0].OriginalName)
	}
}

func TestConsumeResetToken(t *testing.T) {
	s := NewMemoryStore()
	u, err := s.CreateUser(domain.User{Email: "a@example.com", PasswordHash: "old"})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := s.SetResetToken(u.ID, "tok", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if ok, _ := s.ConsumeResetToken("wrong", "new", now); ok {
		t.Fatal("unknown token must not reset")
	}
	if ok, _ := s.ConsumeResetToken("", "new", now); ok {
		t.Fatal("empty token must not reset")
	}
	ok, err := s.ConsumeResetToken("tok", "new", now)
	if err != nil || !ok {
		t.Fatalf("valid token reset: ok=%v err=%v", ok, err)
	}
	got, _, _ := s.GetUserByID(u.ID)
	if got.PasswordHash != "new" || got.ResetToken != "" {
		t.Fatalf("reset did not apply: %+v", got)
	}
	if ok, _ := s.ConsumeResetToken("tok", "again", now); ok {
		t.Fatal("token must be single use")
	}
}

func TestConsumeResetTokenExpired(t *testing.T) {
	s := NewMemoryStore()
	u, _ := s.CreateUser(domain.User{Email: "a@example.com"})
	now := time.Now()
	if err := s.SetResetToken(u.ID, "tok", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ConsumeResetToken("tok", "new", now); ok {
		t.Fatal("expired token must not reset")
	}
}

func TestDeleteUserCascade(t *testing.T) {
	s := NewMemoryStore()
	u, _ := s.CreateUser(domain.User{Email: "a@example.com"})
	now := time.Now()
	f := mustCreateFile(t, s, "a@example.com", "doc.txt", 5, now)
	if err := s.ReplaceSession(domain.Session{Token: "t", UserEmail: "a@example.com", LastActivity: now}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteUserCascade(u.ID, now); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetUserByID(u.ID); ok {
		t.Fatal("user should be gone")
	}
	if _, ok, _ := s.GetSession("t"); ok {
		t.Fatal("session should be gone")
	}
	if _, ok, _ := s.GetFile(f.ID); ok {
		t.Fatal("file should be soft-deleted")
	}
	purgeable, err := s.ListPurgeable(now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(purgeable) != 1 {
		t.Fatalf("cascade-deleted file should be purgeable, got %d", len(purgeable))
	}
	if err := s.DeleteUserCascade(u.ID, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleting a missing user: want ErrNotFound, got %v", err)
	}
}

func TestStorageUsage(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	mustCreateFile(t, s, "a@example.com", "one.txt", 10, now)
	mustCreateFile(t, s, "a@example.com", "two.txt", 30, now.Add(time.Second))
	mustCreateFile(t, s, "b@example.com", "three.txt", 100, now)
	deleted := mustCreateFile(t, s, "b@example.com", "gone.txt", 1000, now)
	if err := s.SoftDeleteFile(deleted.ID, now); err != nil {
		t.Fatal(err)
	}

	rows, total, err := s.StorageUsage(domain.UsageQuery{Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("want 2 owners, got %d", total)
	}
	// Default order is total bytes descending.
	if rows[0].OwnerEmail != "b@example.com" || rows[0].TotalBytes != 100 {
		t.Fatalf("deleted bytes must not count: %+v", rows[0])
	}
	if rows[1].FileCount != 2 || rows[1].TotalBytes != 40 {
		t.Fatalf("aggregate mismatch: %+v", rows[1])
	}
}

func TestPurgeLifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	f := mustCreateFile(t, s, "a@example.com", "doc.txt", 5, now)
	if err := s.SoftDeleteFile(f.ID, now); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListPurgeable(now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatal("recent deletions should not be purgeable yet")
	}
	got, err = s.ListPurgeable(now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 purgeable, got %d", len(got))
	}
	if err := s.MarkPurged(f.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ListPurgeable(now, 10)
	if len(got) != 0 {
		t.Fatal("purged files must not be listed again")
	}
}

func mustCreateFile(t *testing.T, s Store, owner, name string, size int64, at time.Time) domain.FileRecord {
	t.Helper()
	f, err := s.CreateFile(domain.FileRecord{
		OwnerEmail:   owner,
		StoredName:   name + ".stored",
		OriginalName: name,
		ContentType:  "text/plain",
		SizeBytes:    size,
		UploadedAt:   at,
	})
	if err != nil {
		t.Fatalf("create file %s: %v", name, err)
	}
	return f
}
