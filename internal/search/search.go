package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultForm       ResultType = "form"
	ResultSubmission ResultType = "submission"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	FormID  string     `json:"formId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterFormID string
	// FilterStatus keeps only records in this status. It applies before
	// paging, so Total counts matching records only.
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordSource loads every searchable entity from primary storage.
type RecordSource interface {
	LoadSearchRecords(ctx context.Context) ([]FormRecord, []SubmissionRecord, error)
}

// SourceFunc adapts a function to RecordSource.
type SourceFunc func(ctx context.Context) ([]FormRecord, []SubmissionRecord, error)

func (f SourceFunc) LoadSearchRecords(ctx context.Context) ([]FormRecord, []SubmissionRecord, error) {
	return f(ctx)
}

// FormRecord is the data we index for a form.
type FormRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Fields      string `json:"fields"`
	Status      string `json:"status"`
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID          string `json:"id"`
	FormID      string `json:"formId"`
	FormTitle   string `json:"formTitle"`
	Content     string `json:"content"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submittedAt"`
}
