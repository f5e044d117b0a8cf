package app

import (
	"errors"
	"fmt"
	"net/http"

	"formvault/api/internal/archive"
	"formvault/api/internal/auth"
	"formvault/api/internal/authpw"
	"formvault/api/internal/docstore"
	"formvault/api/internal/export"
	"formvault/api/internal/forms"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *forms.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validationErr.Fields
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", authpw.ErrInvalidCredentials.Error(), nil
	case errors.Is(err, authpw.ErrInactive):
		return http.StatusForbidden, "ACCOUNT_INACTIVE", authpw.ErrInactive.Error(), nil
	case errors.Is(err, authpw.ErrUserExists):
		return http.StatusConflict, "USER_EXISTS", authpw.ErrUserExists.Error(), nil
	case errors.Is(err, authpw.ErrWrongPassword):
		return http.StatusBadRequest, "WRONG_PASSWORD", authpw.ErrWrongPassword.Error(), nil
	case errors.Is(err, authpw.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", authpw.ErrUserNotFound.Error(), nil
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrUnknownRole):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, forms.ErrFormNotFound):
		return http.StatusNotFound, "FORM_NOT_FOUND", "Form not found", nil
	case errors.Is(err, forms.ErrSubmissionNotFound):
		return http.StatusNotFound, "SUBMISSION_NOT_FOUND", "Submission not found", nil
	case errors.Is(err, forms.ErrFormNotPublished):
		return http.StatusConflict, "FORM_CLOSED", forms.ErrFormNotPublished.Error(), nil
	case errors.Is(err, forms.ErrAlreadySubmitted):
		return http.StatusConflict, "ALREADY_SUBMITTED", forms.ErrAlreadySubmitted.Error(), nil
	case errors.Is(err, forms.ErrInvalidStatus), errors.Is(err, forms.ErrStepOutOfRange):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf, html or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil

	case errors.Is(err, archive.ErrSnapshotNotFound):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Snapshot not found", nil
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, docstore.ErrEntryNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrExists):
		return http.StatusConflict, "WRITE_CONFLICT", "The document changed while it was being saved, try again", nil
	case errors.Is(err, docstore.ErrNotCollection):
		return http.StatusUnprocessableEntity, "NOT_A_COLLECTION", err.Error(), nil
	}

	var hostErr *docstore.HostError
	if errors.As(err, &hostErr) {
		return http.StatusBadGateway, "STORE_ERROR", "Document store request failed", map[string]any{"status": hostErr.Status, "hint": hostErr.Hint}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
