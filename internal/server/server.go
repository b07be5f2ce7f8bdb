package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"filedepot/internal/app"
	"filedepot/internal/auth"
	"filedepot/internal/domain"
	"filedepot/internal/ratelimit"
	"filedepot/internal/util"
)

const sessionCookieName = "filedepot_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	RedisAddr               string
	RedisPassword           string
	AllowedOrigin           string
	TrustedProxies          *util.TrustedProxies
	SecureCookies           bool
	MaxUploadBytes          int64
	RegisterRateLimitPerMin int
	LoginRateLimitPerMin    int
	ResetRateLimitPerMin    int
}

// Server exposes the HTTP endpoints.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigin  string
	trustedProxies *util.TrustedProxies
	secureCookies  bool
	maxUploadBytes int64

	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	resetLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMin
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMin
	if loginLimit <= 0 {
		loginLimit = 10
	}
	resetLimit := cfg.ResetRateLimitPerMin
	if resetLimit <= 0 {
		resetLimit = 3
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "filedepot:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	resetLimiter, err := newLimiter("reset", resetLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		allowedOrigin:   cfg.AllowedOrigin,
		trustedProxies:  cfg.TrustedProxies,
		secureCookies:   cfg.SecureCookies,
		maxUploadBytes:  cfg.MaxUploadBytes,
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		resetLimiter:    resetLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	h := util.WithSecurityHeaders(util.WithCORS(s.allowedOrigin, s.mux))
	return util.WithRequestID(util.WithRequestLog(h))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))
	s.mux.HandleFunc("/api/auth/reset/request", s.handleResetRequest)
	s.mux.HandleFunc("/api/auth/reset/verify", s.handleResetVerify)
	s.mux.HandleFunc("/api/auth/reset/confirm", s.handleResetConfirm)

	// files (auth required)
	s.mux.Handle("/api/files/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/files", s.authenticated(s.handleListFiles))
	s.mux.Handle("/api/files/download", s.authenticated(s.handleDownload))
	s.mux.Handle("/api/files/delete", s.authenticated(s.handleDeleteFile))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/delete", s.adminOnly(s.handleAdminDeleteUser))
	s.mux.Handle("/api/admin/users/set-role", s.adminOnly(s.handleAdminSetRole))
	s.mux.Handle("/api/admin/users/reset-password", s.adminOnly(s.handleAdminResetPassword))
	s.mux.Handle("/api/admin/storage-usage", s.adminOnly(s.handleStorageUsage))
	s.mux.Handle("/api/admin/online-users", s.adminOnly(s.handleOnlineUsers))
	s.mux.Handle("/api/admin/dashboard", s.adminOnly(s.handleDashboard))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		if !user.IsAdmin() {
			s.audit(r, "admin.authorize", "fail", "email", user.Email, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	token := s.sessionToken(r)
	user, _, err := s.app.CurrentUser(r.Context(), token)
	if err != nil {
		if errors.Is(err, app.ErrUnauthenticated) {
			s.audit(r, "session.verify", "fail", "reason", "missing_or_expired")
			s.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return domain.User{}, false
		}
		slog.Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return domain.User{}, false
	}
	// Re-issue the cookie so its lifetime slides along with the session's
	// inactivity window. Without this the browser drops the cookie one TTL
	// after login no matter how active the session is.
	s.setSessionCookie(w, token)
	return user, true
}

func (s *Server) sessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.app.SessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// auth handlers

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "register", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, sess, err := s.app.Register(r.Context(), req.Email, req.Password, s.clientIP(r), r.UserAgent())
	if err != nil {
		s.audit(r, "register", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "register", "success", "email", user.Email)
	s.setSessionCookie(w, sess.Token)
	writeOK(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, sess, err := s.app.Login(r.Context(), req.Email, req.Password, s.clientIP(r), r.UserAgent())
	if err != nil {
		s.audit(r, "login", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "login", "success", "email", user.Email)
	s.setSessionCookie(w, sess.Token)
	writeOK(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(r.Context(), s.sessionToken(r)); err != nil {
		slog.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "logout", "success")
	s.clearSessionCookie(w)
	writeOK(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"email": user.Email,
		"role":  user.Role,
		"user":  user,
	})
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetConfirmBody struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resetLimiter, "too many reset attempts") {
		s.audit(r, "password_reset.request", "rate_limited")
		return
	}
	var req resetRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.app.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		slog.Error("reset token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if token != "" {
		// No mail delivery is wired up; operators pick the link out of
		// the logs and pass it to the user out of band.
		slog.Info("password reset token issued", "email", auth.NormalizeEmail(req.Email), "token", token)
	}
	s.audit(r, "password_reset.request", "success")
	// Same answer whether or not the account exists.
	writeOK(w, http.StatusOK, map[string]any{})
}

type resetVerifyBody struct {
	Token string `json:"token"`
}

// handleResetVerify checks a reset token without consuming it, so the client
// can reject a dead link before prompting for a new password.
func (s *Server) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resetLimiter, "too many reset attempts") {
		s.audit(r, "password_reset.verify", "rate_limited")
		return
	}
	var req resetVerifyBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	valid, err := s.app.VerifyResetToken(r.Context(), req.Token)
	if err != nil {
		slog.Error("reset token lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"valid": valid})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resetLimiter, "too many reset attempts") {
		s.audit(r, "password_reset.confirm", "rate_limited")
		return
	}
	var req resetConfirmBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.audit(r, "password_reset.confirm", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "password_reset.confirm", "success")
	writeOK(w, http.StatusOK, map[string]any{})
}

// helpers

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK wraps a payload in the success envelope.
func writeOK(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeAppError maps application sentinels onto statuses. Anything
// unrecognized is an internal failure and only ever a generic message leaves
// the process.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrSelfDelete):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmailExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, app.ErrEmptyUpload),
		errors.Is(err, app.ErrFileTooLarge),
		errors.Is(err, app.ErrExtensionNotAllowed),
		errors.Is(err, app.ErrInvalidResetToken),
		errors.Is(err, app.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return v
}
