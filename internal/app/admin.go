package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filedepot/internal/auth"
	"filedepot/internal/domain"
	"filedepot/internal/store"
)

// UserSummary is one row of the admin user listing.
type UserSummary struct {
	domain.User
	FileCount int64 `json:"fileCount"`
	Online    bool  `json:"online"`
}

// OnlineUser is one row of the online-users report.
type OnlineUser struct {
	Email        string          `json:"email"`
	Role         domain.UserRole `json:"role"`
	FileCount    int64           `json:"fileCount"`
	LastActivity string          `json:"lastActivity"`
	IP           string          `json:"ip"`
	UserAgent    string          `json:"userAgent"`
}

// ListUsers returns every account with its live file count and whether it was
// active inside the online window.
func (a *App) ListUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, err
	}
	counts, err := a.store.LiveFileCounts()
	if err != nil {
		return nil, err
	}
	active, err := a.store.ListActiveSessions(a.now().Add(-a.cfg.OnlineWindow))
	if err != nil {
		return nil, err
	}
	online := make(map[string]bool, len(active))
	for _, s := range active {
		online[s.UserEmail] = true
	}

	res := make([]UserSummary, 0, len(users))
	for _, u := range users {
		res = append(res, UserSummary{
			User:      u,
			FileCount: counts[u.Email],
			Online:    online[u.Email],
		})
	}
	return res, nil
}

// CreateUser provisions an account with an explicit role. Unlike Register it
// never grants admin implicitly and does not open a session.
func (a *App) CreateUser(ctx context.Context, email, password string, role domain.UserRole) (domain.User, error) {
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    a.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailExists
		}
		return domain.User{}, err
	}
	return user, nil
}

// SetUserRole changes an existing account's role. Admins may demote
// themselves; that is how the bootstrap admin hands the platform over.
func (a *App) SetUserRole(ctx context.Context, userID int64, role domain.UserRole) (domain.User, error) {
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return domain.User{}, ErrInvalidRole
	}
	if err := a.store.SetRole(userID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// DeleteUser removes an account together with its sessions and soft-deletes
// its files. Admins cannot delete themselves; demote first, then have another
// admin remove the account.
func (a *App) DeleteUser(ctx context.Context, actor domain.User, userID int64) error {
	if actor.ID == userID {
		return ErrSelfDelete
	}
	if err := a.store.DeleteUserCascade(userID, a.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// AdminResetPassword sets a new password for an account, bypassing the token
// flow. Any outstanding reset token is invalidated at the same time.
func (a *App) AdminResetPassword(ctx context.Context, userID int64, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdatePasswordHash(userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// StorageUsage is the per-owner aggregate report over live files.
func (a *App) StorageUsage(ctx context.Context, q domain.UsageQuery) ([]domain.OwnerUsage, int64, error) {
	q.SortBy = allowedUsageSort(q.SortBy)
	q.Page, q.Limit = ClampPage(q.Page, q.Limit)
	return a.store.StorageUsage(q)
}

// DashboardStats returns the platform-wide totals for the admin dashboard.
func (a *App) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	return a.store.DashboardStats(a.now())
}

// OnlineUsers reports sessions with activity inside the online window, most
// recent first.
func (a *App) OnlineUsers(ctx context.Context) ([]OnlineUser, error) {
	active, err := a.store.ListActiveSessions(a.now().Add(-a.cfg.OnlineWindow))
	if err != nil {
		return nil, err
	}
	counts, err := a.store.LiveFileCounts()
	if err != nil {
		return nil, err
	}
	res := make([]OnlineUser, 0, len(active))
	for _, s := range active {
		row := OnlineUser{
			Email:        s.UserEmail,
			FileCount:    counts[s.UserEmail],
			LastActivity: s.LastActivity.UTC().Format(time.RFC3339),
			IP:           s.IP,
			UserAgent:    s.UserAgent,
		}
		if u, ok, err := a.store.GetUserByEmail(s.UserEmail); err != nil {
			return nil, err
		} else if ok {
			row.Role = u.Role
		}
		res = append(res, row)
	}
	return res, nil
}

func allowedUsageSort(sortBy string) string {
	switch sortBy {
	case domain.SortTotalBytes, domain.SortFileCount, domain.SortLastUpload, domain.SortOwnerEmail:
		return sortBy
	default:
		return domain.SortTotalBytes
	}
}
