package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"filedepot/internal/auth"
	"filedepot/internal/domain"
	"filedepot/internal/storage"
	"filedepot/internal/store"
	"filedepot/internal/util"
)

const (
	defaultSessionTTL     = 30 * time.Minute
	defaultOnlineWindow   = 15 * time.Minute
	defaultMaxUploadBytes = 10 << 20
	defaultPurgeRetention = 24 * time.Hour
	resetTokenTTL         = time.Hour
	resetTokenBytes       = 32
)

// Config carries the tunable limits of the application core.
type Config struct {
	SessionTTL        time.Duration
	OnlineWindow      time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
	PurgeRetention    time.Duration
}

// App implements the account, session, and file lifecycle operations on top
// of a Store and a BlobStore. It is transport-agnostic; the HTTP layer maps
// its sentinel errors to statuses.
type App struct {
	store store.Store
	blobs storage.BlobStore
	cfg   Config
	exts  map[string]struct{}

	// now is swappable in tests.
	now func() time.Time
}

func New(st store.Store, blobs storage.BlobStore, cfg Config) *App {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = defaultOnlineWindow
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.PurgeRetention <= 0 {
		cfg.PurgeRetention = defaultPurgeRetention
	}
	return &App{
		store: st,
		blobs: blobs,
		cfg:   cfg,
		exts:  normalizeExtensions(cfg.AllowedExtensions),
		now:   time.Now,
	}
}

// SessionTTL exposes the configured inactivity window.
func (a *App) SessionTTL() time.Duration { return a.cfg.SessionTTL }

// Register creates an account and logs it in. The first account ever created
// becomes the admin; everyone after that is a regular user.
func (a *App) Register(ctx context.Context, email, password, ip, userAgent string) (domain.User, domain.Session, error) {
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, domain.Session{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, domain.Session{}, fmt.Errorf("hash password: %w", err)
	}

	// The store decides the role: the bootstrap admin grant has to share a
	// lock with the insert, or two racing first registrations could both
	// observe an empty table.
	user, err := a.store.RegisterUser(domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    a.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, domain.Session{}, ErrEmailExists
		}
		return domain.User{}, domain.Session{}, err
	}

	sess, err := a.openSession(email, ip, userAgent)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	return user, sess, nil
}

// Login verifies credentials and replaces any existing session for the
// account. Unknown emails and wrong passwords are indistinguishable to the
// caller.
func (a *App) Login(ctx context.Context, email, password, ip, userAgent string) (domain.User, domain.Session, error) {
	email = auth.NormalizeEmail(email)
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, domain.Session{}, ErrInvalidCredentials
	}
	sess, err := a.openSession(email, ip, userAgent)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	return user, sess, nil
}

// Logout drops the session. Unknown tokens are a no-op.
func (a *App) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.store.DeleteSession(token)
}

// CurrentUser resolves a session token to its user and slides the inactivity
// window forward. Sessions idle past the TTL are removed on sight.
func (a *App) CurrentUser(ctx context.Context, token string) (domain.User, domain.Session, error) {
	if token == "" {
		return domain.User{}, domain.Session{}, ErrUnauthenticated
	}
	sess, ok, err := a.store.GetSession(token)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if !ok {
		return domain.User{}, domain.Session{}, ErrUnauthenticated
	}
	now := a.now()
	if now.Sub(sess.LastActivity) > a.cfg.SessionTTL {
		if err := a.store.DeleteSession(token); err != nil {
			slog.Warn("expired session cleanup failed", "error", err)
		}
		return domain.User{}, domain.Session{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByEmail(sess.UserEmail)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if !ok {
		// Account deleted while the session lingered.
		_ = a.store.DeleteSession(token)
		return domain.User{}, domain.Session{}, ErrUnauthenticated
	}
	if err := a.store.TouchSession(token, now); err != nil {
		return domain.User{}, domain.Session{}, err
	}
	sess.LastActivity = now
	return user, sess, nil
}

// RequestPasswordReset issues a fresh single-use token valid for one hour.
// Issuing again replaces the previous token. The returned token is empty when
// the email is unknown; callers must not reveal which case occurred.
func (a *App) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = auth.NormalizeEmail(email)
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	token := util.NewSecret(resetTokenBytes)
	if err := a.store.SetResetToken(user.ID, token, a.now().Add(resetTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyResetToken reports whether a reset token is outstanding and unexpired,
// without consuming it. Lets a client validate the token before asking the
// user for a new password.
func (a *App) VerifyResetToken(ctx context.Context, token string) (bool, error) {
	user, ok, err := a.store.GetUserByResetToken(token)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if user.ResetTokenExpiry.IsZero() || user.ResetTokenExpiry.Before(a.now()) {
		return false, nil
	}
	return true, nil
}

// ResetPassword redeems a reset token. The token is consumed whether or not
// it was the account's latest one.
func (a *App) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := a.store.ConsumeResetToken(token, hash, a.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidResetToken
	}
	return nil
}

func (a *App) openSession(email, ip, userAgent string) (domain.Session, error) {
	now := a.now()
	sess := domain.Session{
		Token:        uuid.NewString(),
		UserEmail:    email,
		LastActivity: now,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
	}
	if err := a.store.ReplaceSession(sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
