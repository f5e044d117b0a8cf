package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"formvault/api/internal/docstore"
	"formvault/api/internal/search"
	"formvault/api/internal/util"
)

var (
	ErrFormNotFound       = errors.New("form not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrFormNotPublished   = errors.New("form is not accepting submissions")
	ErrAlreadySubmitted   = errors.New("form already submitted")
	ErrInvalidStatus      = errors.New("invalid status")
)

// Submission statuses.
const (
	SubmissionNew      = "new"
	SubmissionReviewed = "reviewed"
	SubmissionArchived = "archived"
)

type Submission struct {
	SubmissionID string         `json:"submissionId"`
	FormID       string         `json:"formId"`
	FormTitle    string         `json:"formTitle,omitempty"`
	Data         map[string]any `json:"data"`
	Status       string         `json:"status"`
	SubmittedBy  string         `json:"submittedBy,omitempty"`
	SubmittedAt  string         `json:"submittedAt"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
}

// Indexer receives search updates. Implementations must not block.
type Indexer interface {
	IndexForm(search.FormRecord)
	DeleteForm(id string)
	IndexSubmission(search.SubmissionRecord)
	DeleteSubmission(id string)
}

// Notifier delivers the notification email of a new submission.
type Notifier interface {
	IsConfigured() bool
	SendSubmissionNotice(to, formTitle, submissionID string, data map[string]any) error
}

type Config struct {
	// DataDir holds forms.json and submissions.json.
	DataDir  string
	Indexer  Indexer
	Notifier Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

type Service struct {
	store           *docstore.Client
	formsPath       string
	submissionsPath string
	indexer         Indexer
	notifier        Notifier
	now             func() time.Time
	logger          *slog.Logger
}

func NewService(store *docstore.Client, cfg Config) *Service {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "backend/data"
	}
	s := &Service{
		store:           store,
		formsPath:       path.Join(dataDir, "forms.json"),
		submissionsPath: path.Join(dataDir, "submissions.json"),
		indexer:         cfg.Indexer,
		notifier:        cfg.Notifier,
		now:             cfg.Now,
		logger:          cfg.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// FormsPath is the document holding every form definition.
func (s *Service) FormsPath() string { return s.formsPath }

// SubmissionsPath is the (possibly chunked) document holding submissions.
func (s *Service) SubmissionsPath() string { return s.submissionsPath }

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// CreateForm stores a new form. The id, owner and timestamps are assigned
// here; a missing status means draft.
func (s *Service) CreateForm(ctx context.Context, form Form, createdBy string) (Form, error) {
	if form.Status == "" {
		form.Status = StatusDraft
	}
	if err := form.Check(); err != nil {
		return Form{}, err
	}
	form.ID = util.NewID("form")
	form.CreatedBy = createdBy
	form.CreatedAt = s.timestamp()
	form.UpdatedAt = ""
	assignStepIDs(&form)

	entry, err := toEntry(form)
	if err != nil {
		return Form{}, err
	}
	if _, err := s.store.AddEntry(ctx, s.formsPath, entry, fmt.Sprintf("Create form %s", form.ID)); err != nil {
		return Form{}, err
	}
	s.logger.Info("forms: created", "form_id", form.ID, "steps", len(form.Steps))
	s.indexForm(form)
	return form, nil
}

// UpdateForm replaces the editable parts of a form. The id, owner and
// creation time are kept from the stored record.
func (s *Service) UpdateForm(ctx context.Context, id string, form Form) (Form, error) {
	if form.Status == "" {
		form.Status = StatusDraft
	}
	if err := form.Check(); err != nil {
		return Form{}, err
	}
	assignStepIDs(&form)

	var updated Form
	_, err := s.store.UpdateEntry(ctx, s.formsPath, id, "id", func(entry docstore.Entry) (docstore.Entry, error) {
		var stored Form
		if err := fromEntry(entry, &stored); err != nil {
			return nil, err
		}
		form.ID = stored.ID
		form.CreatedBy = stored.CreatedBy
		form.CreatedAt = stored.CreatedAt
		form.UpdatedAt = s.timestamp()
		updated = form
		return toEntry(form)
	}, fmt.Sprintf("Update form %s", id))
	if errors.Is(err, docstore.ErrEntryNotFound) {
		return Form{}, ErrFormNotFound
	}
	if err != nil {
		return Form{}, err
	}
	s.indexForm(updated)
	return updated, nil
}

// DeleteForm removes a form definition. Its submissions are kept.
func (s *Service) DeleteForm(ctx context.Context, id string) error {
	err := s.store.RemoveEntry(ctx, s.formsPath, id, "id", fmt.Sprintf("Delete form %s", id))
	if errors.Is(err, docstore.ErrEntryNotFound) {
		return ErrFormNotFound
	}
	if err != nil {
		return err
	}
	if s.indexer != nil {
		s.indexer.DeleteForm(id)
	}
	s.logger.Info("forms: deleted", "form_id", id)
	return nil
}

func (s *Service) GetForm(ctx context.Context, id string) (Form, error) {
	coll, _, _, err := s.store.ReadCollection(ctx, s.formsPath, docstore.DefaultItemsKey)
	if err != nil {
		return Form{}, err
	}
	index := coll.Find("id", id)
	if index < 0 {
		return Form{}, ErrFormNotFound
	}
	var form Form
	if err := fromEntry(coll.Items[index], &form); err != nil {
		return Form{}, err
	}
	return form, nil
}

// ListForms returns forms ordered by creation time, optionally filtered by
// status.
func (s *Service) ListForms(ctx context.Context, status string) ([]Form, error) {
	coll, _, _, err := s.store.ReadCollection(ctx, s.formsPath, docstore.DefaultItemsKey)
	if err != nil {
		return nil, err
	}
	forms := make([]Form, 0, len(coll.Items))
	for _, entry := range coll.Items {
		var form Form
		if err := fromEntry(entry, &form); err != nil {
			s.logger.Warn("forms: skipping unreadable form", "error", err)
			continue
		}
		if status != "" && form.Status != status {
			continue
		}
		forms = append(forms, form)
	}
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].CreatedAt < forms[j].CreatedAt })
	return forms, nil
}

// ValidateStep validates one step of a stored form.
func (s *Service) ValidateStep(ctx context.Context, formID string, stepIndex int, values map[string]any) error {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	return ValidateStep(form, stepIndex, values)
}

// Submit validates values against a published form and stores the cleaned
// data as a new submission.
func (s *Service) Submit(ctx context.Context, formID string, values map[string]any, submittedBy string) (Submission, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return Submission{}, err
	}
	if form.Status != StatusPublished {
		return Submission{}, ErrFormNotPublished
	}
	data, err := ValidateSubmission(form, values)
	if err != nil {
		return Submission{}, err
	}

	coll, _, err := s.store.LoadCollection(ctx, s.submissionsPath, docstore.DefaultItemsKey)
	if err != nil {
		return Submission{}, err
	}
	if !form.Settings.AllowMultiple && submittedBy != "" {
		for _, entry := range coll.Items {
			if entry["formId"] == formID && entry["submittedBy"] == submittedBy {
				return Submission{}, ErrAlreadySubmitted
			}
		}
	}

	submission := Submission{
		SubmissionID: util.NewID("sub"),
		FormID:       formID,
		FormTitle:    form.Title,
		Data:         data,
		Status:       SubmissionNew,
		SubmittedBy:  submittedBy,
		SubmittedAt:  s.timestamp(),
	}
	entry, err := toEntry(submission)
	if err != nil {
		return Submission{}, err
	}
	coll.Items = append(coll.Items, entry)
	if err := s.store.SaveCollection(ctx, s.submissionsPath, coll, fmt.Sprintf("Submit %s to %s", submission.SubmissionID, formID)); err != nil {
		return Submission{}, err
	}
	s.logger.Info("forms: submission stored", "form_id", formID, "submission_id", submission.SubmissionID)

	s.indexSubmission(submission)
	s.notify(form, submission)
	return submission, nil
}

func (s *Service) notify(form Form, submission Submission) {
	to := strings.TrimSpace(form.Settings.NotifyEmail)
	if to == "" || s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}
	go func() {
		if err := s.notifier.SendSubmissionNotice(to, form.Title, submission.SubmissionID, submission.Data); err != nil {
			s.logger.Warn("forms: submission notice failed", "submission_id", submission.SubmissionID, "error", err)
		}
	}()
}

// ListSubmissions returns the submissions of formID, newest first. An empty
// formID lists every submission.
func (s *Service) ListSubmissions(ctx context.Context, formID string) ([]Submission, error) {
	coll, _, err := s.store.LoadCollection(ctx, s.submissionsPath, docstore.DefaultItemsKey)
	if err != nil {
		return nil, err
	}
	out := make([]Submission, 0)
	for _, entry := range coll.Items {
		var submission Submission
		if err := fromEntry(entry, &submission); err != nil {
			s.logger.Warn("forms: skipping unreadable submission", "error", err)
			continue
		}
		if formID != "" && submission.FormID != formID {
			continue
		}
		out = append(out, submission)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt > out[j].SubmittedAt })
	return out, nil
}

// ValidSubmissionStatus reports whether status is a review state.
func ValidSubmissionStatus(status string) bool {
	switch status {
	case SubmissionNew, SubmissionReviewed, SubmissionArchived:
		return true
	}
	return false
}

func (s *Service) UpdateSubmissionStatus(ctx context.Context, id, status string) (Submission, error) {
	if !ValidSubmissionStatus(status) {
		return Submission{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var updated Submission
	err := s.modifySubmissions(ctx, fmt.Sprintf("Set submission %s %s", id, status), func(coll *docstore.Collection) error {
		index := coll.Find("submissionId", id)
		if index < 0 {
			return ErrSubmissionNotFound
		}
		coll.Items[index]["status"] = status
		coll.Items[index]["updatedAt"] = s.timestamp()
		return fromEntry(coll.Items[index], &updated)
	})
	if err != nil {
		return Submission{}, err
	}
	s.indexSubmission(updated)
	return updated, nil
}

func (s *Service) DeleteSubmission(ctx context.Context, id string) error {
	err := s.modifySubmissions(ctx, fmt.Sprintf("Delete submission %s", id), func(coll *docstore.Collection) error {
		index := coll.Find("submissionId", id)
		if index < 0 {
			return ErrSubmissionNotFound
		}
		coll.Items = append(coll.Items[:index], coll.Items[index+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	if s.indexer != nil {
		s.indexer.DeleteSubmission(id)
	}
	return nil
}

func (s *Service) modifySubmissions(ctx context.Context, message string, fn func(*docstore.Collection) error) error {
	coll, _, err := s.store.LoadCollection(ctx, s.submissionsPath, docstore.DefaultItemsKey)
	if err != nil {
		return err
	}
	if err := fn(coll); err != nil {
		return err
	}
	return s.store.SaveCollection(ctx, s.submissionsPath, coll, message)
}

// LoadSearchRecords projects every stored form and submission for the
// search index.
func (s *Service) LoadSearchRecords(ctx context.Context) ([]search.FormRecord, []search.SubmissionRecord, error) {
	forms, err := s.ListForms(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	submissions, err := s.ListSubmissions(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	formRecords := make([]search.FormRecord, len(forms))
	for i, form := range forms {
		formRecords[i] = formRecord(form)
	}
	submissionRecords := make([]search.SubmissionRecord, len(submissions))
	for i, submission := range submissions {
		submissionRecords[i] = submissionRecord(submission)
	}
	return formRecords, submissionRecords, nil
}

func (s *Service) indexForm(form Form) {
	if s.indexer != nil {
		s.indexer.IndexForm(formRecord(form))
	}
}

func (s *Service) indexSubmission(submission Submission) {
	if s.indexer != nil {
		s.indexer.IndexSubmission(submissionRecord(submission))
	}
}

func formRecord(form Form) search.FormRecord {
	var labels []string
	for _, field := range form.fields() {
		if field.Label != "" {
			labels = append(labels, field.Label)
		}
	}
	return search.FormRecord{
		ID:          form.ID,
		Title:       form.Title,
		Description: form.Description,
		Fields:      strings.Join(labels, " "),
		Status:      form.Status,
	}
}

func submissionRecord(submission Submission) search.SubmissionRecord {
	keys := make([]string, 0, len(submission.Data))
	for key := range submission.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var content []string
	for _, key := range keys {
		content = append(content, fmt.Sprint(submission.Data[key]))
	}
	return search.SubmissionRecord{
		ID:          submission.SubmissionID,
		FormID:      submission.FormID,
		FormTitle:   submission.FormTitle,
		Content:     strings.Join(content, " "),
		Status:      submission.Status,
		SubmittedAt: submission.SubmittedAt,
	}
}

func assignStepIDs(form *Form) {
	for i := range form.Steps {
		if form.Steps[i].ID == "" {
			form.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
}

func toEntry(v any) (docstore.Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var entry docstore.Entry
	if err := docstore.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func fromEntry(entry docstore.Entry, v any) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return docstore.Unmarshal(raw, v)
}
