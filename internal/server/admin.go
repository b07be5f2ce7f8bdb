package server

import (
	"net/http"
	"strings"

	"filedepot/internal/app"
	"filedepot/internal/domain"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers(r.Context())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{
			"users": users,
			"count": len(users),
		})
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		role := domain.RoleUser
		if strings.EqualFold(strings.TrimSpace(req.Role), string(domain.RoleAdmin)) {
			role = domain.RoleAdmin
		}
		user, err := s.app.CreateUser(r.Context(), req.Email, req.Password, role)
		if err != nil {
			s.audit(r, "admin.user.create", "fail", "admin", admin.Email, "reason", err.Error())
			s.writeAppError(w, err)
			return
		}
		s.audit(r, "admin.user.create", "success", "admin", admin.Email, "email", user.Email, "role", user.Role)
		writeOK(w, http.StatusCreated, map[string]any{"user": user})
	default:
		methodNotAllowed(w)
	}
}

type adminUserIDRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req adminUserIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.DeleteUser(r.Context(), admin, req.ID); err != nil {
		s.audit(r, "admin.user.delete", "fail", "admin", admin.Email, "user_id", req.ID, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "admin.user.delete", "success", "admin", admin.Email, "user_id", req.ID)
	writeOK(w, http.StatusOK, map[string]any{})
}

type adminSetRoleRequest struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

func (s *Server) handleAdminSetRole(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req adminSetRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role := domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role)))
	user, err := s.app.SetUserRole(r.Context(), req.ID, role)
	if err != nil {
		s.audit(r, "admin.user.set_role", "fail", "admin", admin.Email, "user_id", req.ID, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "admin.user.set_role", "success", "admin", admin.Email, "email", user.Email, "role", user.Role)
	writeOK(w, http.StatusOK, map[string]any{"user": user})
}

type adminResetPasswordRequest struct {
	ID       int64  `json:"id"`
	Password string `json:"password"`
}

func (s *Server) handleAdminResetPassword(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req adminResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.AdminResetPassword(r.Context(), req.ID, req.Password); err != nil {
		s.audit(r, "admin.user.reset_password", "fail", "admin", admin.Email, "user_id", req.ID, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "admin.user.reset_password", "success", "admin", admin.Email, "user_id", req.ID)
	writeOK(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, limit := app.ClampPage(queryInt(r, "page"), queryInt(r, "limit"))
	rows, total, err := s.app.StorageUsage(r.Context(), domain.UsageQuery{
		SortBy:    r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"usage": rows,
		"pagination": map[string]any{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.DashboardStats(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	online, err := s.app.OnlineUsers(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"users": online,
		"count": len(online),
	})
}
