package app

import (
	"mime"
	"net/http"
	"strconv"

	"formvault/api/internal/forms"
	"formvault/api/internal/rbac"
)

// handleForms serves /api/forms/... The session is the zero Session for
// anonymous callers.
func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch len(rest) {
	case 0:
		s.handleFormCollection(w, r, session)
		return
	case 1:
		s.handleForm(w, r, session, rest[0])
		return
	case 2:
		switch rest[1] {
		case "submissions":
			s.handleFormSubmissions(w, r, session, rest[0])
			return
		case "validate":
			s.handleValidateStep(w, r, session, rest[0])
			return
		}
	case 3:
		if rest[1] == "submissions" && rest[2] == "export" {
			s.handleExportSubmissions(w, r, session, rest[0])
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) requireManager(w http.ResponseWriter, r *http.Request, session Session) bool {
	if session.UserID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	if !s.service.Can(session.Role, rbac.ActionManage) {
		s.forbid(w, r, session, rbac.ActionManage)
		return false
	}
	return true
}

func (s *HTTPServer) handleFormCollection(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListForms(r.Context(), session.Role, r.URL.Query().Get("status"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		if !s.requireManager(w, r, session) {
			return
		}
		var body forms.Form
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		form, err := s.service.CreateForm(r.Context(), session, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, form)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleForm(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	switch r.Method {
	case http.MethodGet:
		form, err := s.service.GetForm(r.Context(), session.Role, formID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	case http.MethodPut:
		if !s.requireManager(w, r, session) {
			return
		}
		var body forms.Form
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		form, err := s.service.UpdateForm(r.Context(), formID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	case http.MethodDelete:
		if !s.requireManager(w, r, session) {
			return
		}
		if err := s.service.DeleteForm(r.Context(), formID); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

type submissionBody struct {
	Data map[string]any `json:"data"`
}

func (s *HTTPServer) handleFormSubmissions(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	switch r.Method {
	case http.MethodPost:
		if session.UserID != "" && !s.service.Can(session.Role, rbac.ActionSubmit) {
			s.forbid(w, r, session, rbac.ActionSubmit)
			return
		}
		var body submissionBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		submission, err := s.service.Submit(r.Context(), formID, body.Data, session.UserID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, submission)

	case http.MethodGet:
		if !s.requireManager(w, r, session) {
			return
		}
		items, err := s.service.ListSubmissions(r.Context(), formID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleExportSubmissions serves GET /api/forms/{id}/submissions/export
// with ?format=pdf|html|docx and an optional ?status= filter.
func (s *HTTPServer) handleExportSubmissions(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.requireManager(w, r, session) {
		return
	}
	query := r.URL.Query()
	result, err := s.service.ExportSubmissions(r.Context(), formID, query.Get("format"), query.Get("status"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleValidateStep(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	step, err := strconv.Atoi(r.URL.Query().Get("step"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "step must be a number", nil)
		return
	}
	var body submissionBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ValidateStep(r.Context(), session.Role, formID, step, body.Data); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "step": step})
}

// handleSubmission serves PATCH and DELETE /api/submissions/{id}.
func (s *HTTPServer) handleSubmission(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	if !s.requireManager(w, r, session) {
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		submission, err := s.service.UpdateSubmissionStatus(r.Context(), submissionID, body.Status)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, submission)

	case http.MethodDelete:
		if err := s.service.DeleteSubmission(r.Context(), submissionID); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
