package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"formvault/api/internal/docstore"
)

// APIError is a non-2xx response from the GitHub REST API.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
	Errors           []ValidationError
}

// ValidationError is one field-level failure of a 422 response.
type ValidationError struct {
	Resource string `json:"resource"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (err *APIError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "github: HTTP %d: %s", err.StatusCode, err.Message)
	for _, validationError := range err.Errors {
		detail := validationError.Message
		if detail == "" {
			detail = validationError.Code
		}
		fmt.Fprintf(&builder, "; %s.%s: %s", validationError.Resource, validationError.Field, detail)
	}
	return builder.String()
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 response.
func IsConflict(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusConflict
}

// IsRateLimited reports whether err is a primary (403) or secondary (429)
// rate limit response.
func IsRateLimited(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == http.StatusTooManyRequests ||
		(apiError.StatusCode == http.StatusForbidden && isRateLimitMessage(apiError.Message))
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
}

// isMissingSHA matches the 422 GitHub returns when a create targets a path
// that already has a file.
func isMissingSHA(apiError *APIError) bool {
	return apiError.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(apiError.Message, `"sha" wasn't supplied`)
}

func parseAPIErrorFromBody(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}
	var wireError struct {
		Message          string            `json:"message"`
		DocumentationURL string            `json:"documentation_url"`
		Errors           []ValidationError `json:"errors"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
		apiError.DocumentationURL = wireError.DocumentationURL
		apiError.Errors = wireError.Errors
	} else {
		apiError.Message = strings.TrimSpace(string(body))
	}
	return apiError
}

// translate maps API errors onto the docstore error vocabulary. The
// returned error still unwraps to the *APIError.
func translate(err error) error {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return err
	}
	switch {
	case apiError.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, apiError)
	case apiError.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", docstore.ErrConflict, apiError)
	case isMissingSHA(apiError):
		return fmt.Errorf("%w: %w", docstore.ErrExists, apiError)
	}
	return &docstore.HostError{
		Status:  apiError.StatusCode,
		Message: apiError.Error(),
		Hint:    hintFor(apiError),
		Cause:   apiError,
	}
}

func hintFor(apiError *APIError) string {
	switch apiError.StatusCode {
	case http.StatusUnauthorized:
		return "check GITHUB_TOKEN: the token was rejected"
	case http.StatusForbidden:
		if isRateLimitMessage(apiError.Message) {
			return "rate limit exhausted; retry later"
		}
		return "check GITHUB_TOKEN permissions: contents read/write is required"
	case http.StatusUnprocessableEntity:
		return "the request was rejected; the file may be too large for the contents API"
	}
	return ""
}
