package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"formvault/api/internal/forms"
)

// Source is the part of the forms service an export reads from.
type Source interface {
	GetForm(ctx context.Context, id string) (forms.Form, error)
	ListSubmissions(ctx context.Context, formID string) ([]forms.Submission, error)
}

type Options struct {
	// ChromePath overrides the Chromium binary used for PDF output.
	ChromePath string
	Timeout    time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service provides submission export functionality.
type Service struct {
	source     Source
	chromePath string
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(source Source, opts Options) *Service {
	s := &Service{
		source:     source,
		chromePath: opts.ChromePath,
		timeout:    opts.Timeout,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Export generates a report in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	report, err := s.BuildReport(ctx, req.FormID, req.Status)
	if err != nil {
		return nil, err
	}
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(report.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = exportPDF(ctx, html, report.Title, s.chromePath, s.timeout)
	case FormatDOCX:
		result, err = exportDOCX(ctx, html, report.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("export: report generated",
		"form_id", req.FormID,
		"format", string(req.Format),
		"rows", len(report.Rows),
		"bytes", len(result.Data),
	)
	return result, nil
}

// BuildReport lays out one column per value-carrying field, in step order,
// and one row per submission, oldest first.
func (s *Service) BuildReport(ctx context.Context, formID, status string) (Report, error) {
	form, err := s.source.GetForm(ctx, formID)
	if err != nil {
		return Report{}, err
	}
	submissions, err := s.source.ListSubmissions(ctx, formID)
	if err != nil {
		return Report{}, err
	}

	var fields []forms.Field
	for _, step := range form.Steps {
		for _, field := range step.Fields {
			if !reportable(field.Type) {
				continue
			}
			fields = append(fields, field)
		}
	}

	report := Report{
		Title:       form.Title,
		Description: form.Description,
		GeneratedAt: s.now().UTC(),
		Columns:     make([]Column, len(fields)),
	}
	for i, field := range fields {
		label := field.Label
		if label == "" {
			label = field.Name
		}
		report.Columns[i] = Column{Name: field.Name, Label: label}
	}

	sort.SliceStable(submissions, func(i, j int) bool {
		return submissions[i].SubmittedAt < submissions[j].SubmittedAt
	})
	for _, submission := range submissions {
		if status != "" && submission.Status != status {
			continue
		}
		row := Row{
			SubmissionID: submission.SubmissionID,
			Status:       submission.Status,
			SubmittedBy:  submission.SubmittedBy,
			SubmittedAt:  submission.SubmittedAt,
			Values:       make([]string, len(fields)),
		}
		for i, field := range fields {
			row.Values[i] = formatValue(field, submission.Data[field.Name])
		}
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

func reportable(t forms.FieldType) bool {
	switch t {
	case forms.FieldHeading, forms.FieldParagraph, forms.FieldDivider, forms.FieldPassword:
		return false
	}
	return true
}

// formatValue renders a stored value as report text. Choice values are
// shown by their option label.
func formatValue(field forms.Field, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return optionLabel(field, v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if text := formatValue(field, item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ", ")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

func optionLabel(field forms.Field, value string) string {
	for _, option := range field.Options {
		if option.Value == value && option.Label != "" {
			return option.Label
		}
	}
	return value
}
