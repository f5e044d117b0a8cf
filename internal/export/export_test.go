package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"formvault/api/internal/forms"
)

type fakeSource struct {
	form        forms.Form
	submissions []forms.Submission
}

func (f fakeSource) GetForm(_ context.Context, id string) (forms.Form, error) {
	if id != f.form.ID {
		return forms.Form{}, forms.ErrFormNotFound
	}
	return f.form, nil
}

func (f fakeSource) ListSubmissions(_ context.Context, formID string) ([]forms.Submission, error) {
	var out []forms.Submission
	for _, s := range f.submissions {
		if s.FormID == formID {
			out = append(out, s)
		}
	}
	return out, nil
}

func surveySource() fakeSource {
	return fakeSource{
		form: forms.Form{
			ID:          "form-1",
			Title:       "Volunteer Signup",
			Description: "Weekend shifts",
			Status:      forms.StatusPublished,
			Steps: []forms.Step{
				{ID: "about", Title: "About you", Fields: []forms.Field{
					{Name: "intro", Type: forms.FieldHeading, Label: "Welcome"},
					{Name: "name", Type: forms.FieldText, Label: "Name"},
					{Name: "secret", Type: forms.FieldPassword, Label: "Secret"},
				}},
				{ID: "shift", Title: "Shift", Fields: []forms.Field{
					{Name: "days", Type: forms.FieldCheckboxes, Label: "Days", Options: []forms.Option{
						{Label: "Saturday", Value: "sat"},
						{Label: "Sunday", Value: "sun"},
					}},
					{Name: "hours", Type: forms.FieldNumber},
					{Name: "driver", Type: forms.FieldToggle, Label: "Can drive"},
				}},
			},
		},
		submissions: []forms.Submission{
			{
				SubmissionID: "sub-2", FormID: "form-1", Status: forms.SubmissionReviewed,
				SubmittedAt: "2026-03-02T10:00:00Z",
				Data:        map[string]any{"name": "<Sam>", "days": []any{"sun"}, "hours": json.Number("2.5"), "driver": false},
			},
			{
				SubmissionID: "sub-1", FormID: "form-1", Status: forms.SubmissionNew,
				SubmittedAt: "2026-03-01T09:00:00Z", SubmittedBy: "user-7",
				Data: map[string]any{"name": "Robin", "secret": "hunter2", "days": []any{"sat", "sun"}, "hours": json.Number("4"), "driver": true},
			},
			{SubmissionID: "other", FormID: "form-2", SubmittedAt: "2026-03-01T08:00:00Z"},
		},
	}
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	svc := NewService(surveySource(), Options{Now: func() time.Time { return now }})

	report, err := svc.BuildReport(context.Background(), "form-1", "")
	if err != nil {
		t.Fatalf("BuildReport() error = %v", err)
	}

	var labels []string
	for _, c := range report.Columns {
		labels = append(labels, c.Label)
	}
	if got := strings.Join(labels, "|"); got != "Name|Days|hours|Can drive" {
		t.Fatalf("columns = %s", got)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Rows))
	}
	first := report.Rows[0]
	if first.SubmissionID != "sub-1" {
		t.Fatalf("rows not in submission order: %v", report.Rows)
	}
	want := []string{"Robin", "Saturday, Sunday", "4", "Yes"}
	for i, v := range want {
		if first.Values[i] != v {
			t.Errorf("value %d = %q, want %q", i, first.Values[i], v)
		}
	}
	if !report.GeneratedAt.Equal(now) {
		t.Errorf("GeneratedAt = %v", report.GeneratedAt)
	}
}

func TestBuildReportStatusFilter(t *testing.T) {
	svc := NewService(surveySource(), Options{})
	report, err := svc.BuildReport(context.Background(), "form-1", forms.SubmissionReviewed)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rows) != 1 || report.Rows[0].SubmissionID != "sub-2" {
		t.Fatalf("rows = %v", report.Rows)
	}
	if got := report.Rows[0].Values[3]; got != "No" {
		t.Fatalf("toggle value = %q", got)
	}
}

func TestBuildReportMissingForm(t *testing.T) {
	svc := NewService(surveySource(), Options{})
	if _, err := svc.BuildReport(context.Background(), "nope", ""); !errors.Is(err, forms.ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound, got %v", err)
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(surveySource(), Options{})
	result, err := svc.Export(context.Background(), Request{FormID: "form-1", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Volunteer-Signup.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("result = %s %s", result.Filename, result.MimeType)
	}
	html := string(result.Data)
	for _, want := range []string{"Volunteer Signup", "Weekend shifts", "2 submissions", "<th>Can drive</th>", "&lt;Sam&gt;", "user-7"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "hunter2") || strings.Contains(html, "Welcome") {
		t.Error("password and layout fields must not be exported")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(surveySource(), Options{})
	_, err := svc.Export(context.Background(), Request{FormID: "form-1", Format: "xlsx"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatPDF, false},
		{"PDF", FormatPDF, false},
		{" html ", FormatHTML, false},
		{"docx", FormatDOCX, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Survey v1.2", "Survey-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "submissions"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderReportHTMLEmpty(t *testing.T) {
	html, err := RenderReportHTML(Report{Title: "Empty", GeneratedAt: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if !strings.Contains(html, "No submissions.") || strings.Contains(html, "<table>") {
		t.Error("empty report should render the placeholder instead of a table")
	}
}

func TestExportPDFWithoutChrome(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	svc := NewService(surveySource(), Options{})
	_, err := svc.Export(context.Background(), Request{FormID: "form-1", Format: FormatPDF})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
