package server

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"filedepot/internal/app"
	"filedepot/internal/domain"
)

// multipart framing overhead on top of the payload ceiling
const uploadFormSlack = 1 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+uploadFormSlack)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.audit(r, "file.upload", "fail", "email", user.Email, "reason", "invalid_form")
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	rec, err := s.app.Upload(r.Context(), user, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.audit(r, "file.upload", "fail", "email", user.Email, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "file.upload", "success", "email", user.Email, "file_id", rec.ID)
	writeOK(w, http.StatusCreated, map[string]any{"fileId": rec.ID, "file": rec})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, limit := app.ClampPage(queryInt(r, "page"), queryInt(r, "limit"))
	query := domain.FileQuery{
		Search:    r.URL.Query().Get("search"),
		SortBy:    r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
		Page:      page,
		Limit:     limit,
	}
	// Only meaningful for admins; ListFiles pins everyone else to their
	// own email regardless.
	query.OwnerEmail = r.URL.Query().Get("owner")

	files, total, err := s.app.ListFiles(r.Context(), user, query)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"files": files,
		"pagination": map[string]any{
			"total": total,
			"page":  query.Page,
			"limit": query.Limit,
		},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, rc, err := s.app.Download(r.Context(), user, id)
	if err != nil {
		s.audit(r, "file.download", "fail", "email", user.Email, "file_id", id, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	defer rc.Close()

	s.audit(r, "file.download", "success", "email", user.Email, "file_id", rec.ID)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are out the door; all that is left is to log it.
		slog.Warn("download stream aborted", "file_id", rec.ID, "error", err)
	}
}

type deleteFileRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req deleteFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.DeleteFile(r.Context(), user, req.ID); err != nil {
		s.audit(r, "file.delete", "fail", "email", user.Email, "file_id", req.ID, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "file.delete", "success", "email", user.Email, "file_id", req.ID)
	writeOK(w, http.StatusOK, map[string]any{})
}
