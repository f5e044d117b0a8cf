package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"formvault/api/internal/archive"
	"formvault/api/internal/auth"
	"formvault/api/internal/authpw"
	"formvault/api/internal/config"
	"formvault/api/internal/docstore"
	"formvault/api/internal/export"
	"formvault/api/internal/forms"
	"formvault/api/internal/rbac"
	"formvault/api/internal/search"
	"formvault/api/internal/session"
)

const defaultHistoryLimit = 50

type Session struct {
	Token     string
	UserID    string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// Options carries the optional collaborators of a Service. Nil values
// disable the matching feature or select an in-process fallback.
type Options struct {
	Revoker  session.Revoker
	Meili    *search.Meili
	Notifier forms.Notifier
	Objects  archive.ObjectStore
	Now      func() time.Time
	Logger   *slog.Logger
}

type Service struct {
	cfg     config.Config
	host    docstore.Host
	docs    *docstore.Client
	auth    *authpw.Service
	forms   *forms.Service
	search  *search.Service
	archive *archive.Archiver
	export  *export.Service
	logger  *slog.Logger
}

func New(cfg config.Config, host docstore.Host, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	docs := docstore.NewClient(host, docstore.Options{
		MaxAttempts: cfg.WriteMaxAttempts,
		RetryDelay:  cfg.WriteRetryDelay,
		Now:         opts.Now,
		Logger:      logger,
	})

	s := &Service{cfg: cfg, host: host, docs: docs, logger: logger}
	s.auth = authpw.NewService(docs, authpw.Config{
		DataDir:     cfg.DataDir,
		TokenSecret: []byte(cfg.JWTSecret),
		TokenTTL:    cfg.TokenTTL,
		Revoker:     opts.Revoker,
		BcryptCost:  cfg.BcryptCost,
		Now:         opts.Now,
		Logger:      logger,
	})
	// The scan fallback reads through the forms service, which in turn
	// reports its changes to the search service.
	s.search = search.NewService(opts.Meili, search.SourceFunc(func(ctx context.Context) ([]search.FormRecord, []search.SubmissionRecord, error) {
		return s.forms.LoadSearchRecords(ctx)
	}), logger)
	s.forms = forms.NewService(docs, forms.Config{
		DataDir:  cfg.DataDir,
		Indexer:  s.search,
		Notifier: opts.Notifier,
		Now:      opts.Now,
		Logger:   logger,
	})
	s.export = export.NewService(s.forms, export.Options{
		ChromePath: cfg.ChromePath,
		Timeout:    cfg.ExportTimeout,
		Now:        opts.Now,
		Logger:     logger,
	})
	if opts.Objects != nil {
		s.archive = archive.New(docs, opts.Objects, archive.Options{Now: opts.Now, Logger: logger})
	}
	return s
}

// Docs exposes the document client for tooling that works below the
// domain services.
func (s *Service) Docs() *docstore.Client {
	return s.docs
}

func (s *Service) Auth() *authpw.Service {
	return s.auth
}

func (s *Service) Forms() *forms.Service {
	return s.forms
}

// Ping checks that the document host answers by listing the data directory.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.host.ListDir(ctx, s.cfg.DataDir)
	return err
}

func (s *Service) Close() {
	s.search.Close()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func roleOrDefault(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return string(rbac.RoleUser)
	}
	return role
}

func (s *Service) Login(ctx context.Context, email, password, role string) (authpw.Session, error) {
	return s.auth.Login(ctx, email, password, roleOrDefault(role))
}

// Register creates a user account. Admin accounts are only created by
// other admins or from the command line.
func (s *Service) Register(ctx context.Context, email, password, name string) (authpw.Session, error) {
	return s.auth.Register(ctx, email, password, name, string(rbac.RoleUser))
}

func (s *Service) RegisterAs(ctx context.Context, caller Session, email, password, name, role string) (authpw.Session, error) {
	if !s.Can(caller.Role, rbac.ActionAdmin) {
		return authpw.Session{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.auth.Register(ctx, email, password, name, roleOrDefault(role))
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.auth.Logout(ctx, token)
}

func (s *Service) ChangePassword(ctx context.Context, session Session, currentPassword, newPassword string) error {
	return s.auth.ChangePassword(ctx, session.UserID, currentPassword, newPassword, session.Role)
}

// Verify is the unauthenticated token check a client performs before
// trusting a stored token: shape and expiry, no signature.
func (s *Service) Verify(token string) (auth.Claims, error) {
	return s.auth.Verify(token)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.auth.SessionFromToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.ID,
		Email:     claims.Email,
		Role:      string(rbac.Normalize(claims.Role)),
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *Service) Me(ctx context.Context, session Session) (*authpw.User, error) {
	user, err := s.auth.GetUserByID(ctx, session.UserID, session.Role)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, authpw.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, name string) (*authpw.User, error) {
	return s.auth.UpdateProfile(ctx, session.UserID, name, session.Role)
}

func (s *Service) ListUsers(ctx context.Context, role string) ([]authpw.User, error) {
	return s.auth.ListUsers(ctx, roleOrDefault(role))
}

func (s *Service) SetUserActive(ctx context.Context, caller Session, userID string, active bool, role string) error {
	if userID == caller.UserID && !active {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "You cannot deactivate your own account", nil)
	}
	return s.auth.SetActive(ctx, userID, active, roleOrDefault(role))
}

// ListForms returns every form to managers and only published forms to
// everyone else.
func (s *Service) ListForms(ctx context.Context, role, status string) ([]forms.Form, error) {
	if !s.Can(role, rbac.ActionManage) {
		status = forms.StatusPublished
	}
	return s.forms.ListForms(ctx, status)
}

func (s *Service) GetForm(ctx context.Context, role, id string) (forms.Form, error) {
	form, err := s.forms.GetForm(ctx, id)
	if err != nil {
		return forms.Form{}, err
	}
	if form.Status != forms.StatusPublished && !s.Can(role, rbac.ActionManage) {
		return forms.Form{}, forms.ErrFormNotFound
	}
	return form, nil
}

func (s *Service) CreateForm(ctx context.Context, session Session, form forms.Form) (forms.Form, error) {
	return s.forms.CreateForm(ctx, form, session.UserID)
}

func (s *Service) UpdateForm(ctx context.Context, id string, form forms.Form) (forms.Form, error) {
	return s.forms.UpdateForm(ctx, id, form)
}

func (s *Service) DeleteForm(ctx context.Context, id string) error {
	return s.forms.DeleteForm(ctx, id)
}

func (s *Service) ValidateStep(ctx context.Context, role, formID string, step int, values map[string]any) error {
	form, err := s.GetForm(ctx, role, formID)
	if err != nil {
		return err
	}
	return forms.ValidateStep(form, step, values)
}

// Submit stores a submission. submittedBy is empty for anonymous callers.
func (s *Service) Submit(ctx context.Context, formID string, values map[string]any, submittedBy string) (forms.Submission, error) {
	return s.forms.Submit(ctx, formID, values, submittedBy)
}

func (s *Service) ListSubmissions(ctx context.Context, formID string) ([]forms.Submission, error) {
	if _, err := s.forms.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	return s.forms.ListSubmissions(ctx, formID)
}

// ExportSubmissions renders the submissions of formID, optionally only
// those in one review state.
func (s *Service) ExportSubmissions(ctx context.Context, formID, format, status string) (*export.Result, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if status != "" && !forms.ValidSubmissionStatus(status) {
		return nil, forms.ErrInvalidStatus
	}
	return s.export.Export(ctx, export.Request{FormID: formID, Format: f, Status: status})
}

func (s *Service) UpdateSubmissionStatus(ctx context.Context, id, status string) (forms.Submission, error) {
	return s.forms.UpdateSubmissionStatus(ctx, id, status)
}

func (s *Service) DeleteSubmission(ctx context.Context, id string) error {
	return s.forms.DeleteSubmission(ctx, id)
}

// Search limits non-managers to published forms.
func (s *Service) Search(ctx context.Context, role string, q search.Query) search.Response {
	if !s.Can(role, rbac.ActionManage) {
		q.FilterType = search.ResultForm
		q.FilterStatus = forms.StatusPublished
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Reindex(ctx context.Context) {
	s.search.ReindexAll(ctx)
}

// ReadDocument returns the stored JSON at docPath. A path without a
// canonical file is read as a chunked collection under key. Auth
// collections are never exposed.
func (s *Service) ReadDocument(ctx context.Context, docPath, key string) (json.RawMessage, error) {
	docPath, err := s.documentPath(docPath)
	if err != nil {
		return nil, err
	}
	snapshot, found, err := s.docs.Read(ctx, docPath)
	if err != nil {
		return nil, err
	}
	if found {
		return snapshot.Content, nil
	}
	if key == "" {
		key = docstore.DefaultItemsKey
	}
	coll, found, err := s.docs.LoadCollection(ctx, docPath, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	return docstore.Marshal(coll)
}

// History lists the revisions of docPath on hosts that keep them.
func (s *Service) History(ctx context.Context, docPath string, limit int) ([]docstore.Revision, error) {
	docPath, err := s.documentPath(docPath)
	if err != nil {
		return nil, err
	}
	historian, ok := s.host.(docstore.Historian)
	if !ok {
		return nil, domainError(http.StatusNotImplemented, "HISTORY_UNAVAILABLE", "The configured store does not keep history", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return historian.History(ctx, docPath, limit)
}

func (s *Service) documentPath(docPath string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+docPath), "/")
	if cleaned == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
	}
	if strings.HasSuffix(cleaned, "_auth.json") {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Auth collections cannot be read", nil)
	}
	return cleaned, nil
}

var errSnapshotsDisabled = domainError(http.StatusServiceUnavailable, "SNAPSHOTS_UNAVAILABLE", "Object storage is not configured", nil)

func (s *Service) Snapshot(ctx context.Context, docPath, key string) (string, error) {
	if s.archive == nil {
		return "", errSnapshotsDisabled
	}
	docPath, err := s.documentPath(docPath)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = docstore.DefaultItemsKey
	}
	objectKey, err := s.archive.Snapshot(ctx, docPath, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	return objectKey, err
}

func (s *Service) Snapshots(ctx context.Context, docPath string) ([]string, error) {
	if s.archive == nil {
		return nil, errSnapshotsDisabled
	}
	docPath, err := s.documentPath(docPath)
	if err != nil {
		return nil, err
	}
	return s.archive.Snapshots(ctx, docPath)
}

func (s *Service) Restore(ctx context.Context, objectKey, docPath, key string) (int, error) {
	if s.archive == nil {
		return 0, errSnapshotsDisabled
	}
	docPath, err := s.documentPath(docPath)
	if err != nil {
		return 0, err
	}
	if key == "" {
		key = docstore.DefaultItemsKey
	}
	return s.archive.Restore(ctx, objectKey, docPath, key)
}
