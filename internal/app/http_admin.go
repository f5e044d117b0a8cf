package app

import (
	"net/http"

	"formvault/api/internal/rbac"
)

// handleAdmin serves /api/admin/... Every route needs the admin action.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if !s.service.Can(session.Role, rbac.ActionAdmin) {
		s.forbid(w, r, session, rbac.ActionAdmin)
		return
	}

	switch {
	case rest[0] == "users" && len(rest) == 1:
		s.handleAdminUsers(w, r, session)
	case rest[0] == "users" && len(rest) == 2:
		s.handleAdminUser(w, r, session, rest[1])
	case rest[0] == "reindex" && len(rest) == 1 && r.Method == http.MethodPost:
		s.service.Reindex(r.Context())
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	case rest[0] == "snapshots" && len(rest) == 1:
		s.handleSnapshots(w, r)
	case rest[0] == "snapshots" && len(rest) == 2 && rest[1] == "restore":
		s.handleRestore(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleAdminUsers(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.service.ListUsers(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})

	case http.MethodPost:
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
			Role     string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.RegisterAs(r.Context(), session, body.Email, body.Password, body.Name, body.Role)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created.User)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAdminUser(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		IsActive *bool  `json:"isActive"`
		Role     string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.IsActive == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "isActive is required", nil)
		return
	}
	if err := s.service.SetUserActive(r.Context(), session, userID, *body.IsActive, body.Role); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": userID, "isActive": *body.IsActive})
}

func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docPath := r.URL.Query().Get("path")
		keys, err := s.service.Snapshots(r.Context(), docPath)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": docPath, "items": keys})

	case http.MethodPost:
		var body struct {
			Path string `json:"path"`
			Key  string `json:"key"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		objectKey, err := s.service.Snapshot(r.Context(), body.Path, body.Key)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"objectKey": objectKey})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		ObjectKey string `json:"objectKey"`
		Path      string `json:"path"`
		Key       string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.ObjectKey == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "objectKey is required", nil)
		return
	}
	items, err := s.service.Restore(r.Context(), body.ObjectKey, body.Path, body.Key)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}
