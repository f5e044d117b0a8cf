// Package export renders the submissions of a form as an HTML, PDF or DOCX
// report.
package export

import (
	"errors"
	"strings"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name case-insensitively; "" means PDF.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatDOCX:
		return FormatDOCX, nil
	}
	return "", ErrUnsupportedFormat
}

type Request struct {
	FormID string
	Format Format
	// Status keeps only submissions in this review state when set.
	Status string
}

// Report is the rendered view of a form and its submissions.
type Report struct {
	Title       string
	Description string
	GeneratedAt time.Time
	Columns     []Column
	Rows        []Row
}

type Column struct {
	Name  string
	Label string
}

type Row struct {
	SubmissionID string
	Status       string
	SubmittedBy  string
	SubmittedAt  string
	Values       []string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
