package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type staticSource struct {
	forms       []FormRecord
	submissions []SubmissionRecord
	err         error
}

func (s staticSource) LoadSearchRecords(context.Context) ([]FormRecord, []SubmissionRecord, error) {
	return s.forms, s.submissions, s.err
}

func testSource() staticSource {
	return staticSource{
		forms: []FormRecord{
			{ID: "form_1", Title: "Volunteer signup", Description: "Join the harbour clean-up crew", Fields: "Name Email Shirt size", Status: "published"},
			{ID: "form_2", Title: "Incident report", Description: "Report a harbour incident", Fields: "Location Description", Status: "draft"},
		},
		submissions: []SubmissionRecord{
			{ID: "sub_1", FormID: "form_1", FormTitle: "Volunteer signup", Content: "Robin robin@example.com M", Status: "new"},
			{ID: "sub_2", FormID: "form_2", FormTitle: "Incident report", Content: "North pier broken railing", Status: "reviewed"},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanSearch(t *testing.T) {
	ctx := context.Background()
	scan := NewScan(testSource())

	tests := []struct {
		name    string
		query   Query
		wantIDs []string
	}{
		{name: "title beats body", query: Query{Text: "volunteer"}, wantIDs: []string{"form_1", "sub_1"}},
		{name: "all terms required", query: Query{Text: "harbour incident"}, wantIDs: []string{"form_2"}},
		{name: "type filter", query: Query{Text: "harbour", FilterType: ResultSubmission}, wantIDs: nil},
		{name: "form filter", query: Query{Text: "pier", FilterFormID: "form_2"}, wantIDs: []string{"sub_2"}},
		{name: "email term", query: Query{Text: "robin@example.com"}, wantIDs: []string{"sub_1"}},
		{name: "status filter", query: Query{Text: "harbour", FilterStatus: "published"}, wantIDs: []string{"form_1"}},
		{name: "status filter on submissions", query: Query{Text: "pier railing", FilterStatus: "new"}, wantIDs: nil},
		{name: "blank query", query: Query{Text: "  "}, wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, total, err := scan.Search(ctx, tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if total != len(tt.wantIDs) || len(results) != len(tt.wantIDs) {
				t.Fatalf("Search(%q) = %d results (total %d), want %v", tt.query.Text, len(results), total, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if results[i].ID != id {
					t.Fatalf("result %d = %s, want %s", i, results[i].ID, id)
				}
			}
		})
	}
}

func TestScanSearchPaging(t *testing.T) {
	scan := NewScan(testSource())
	results, total, err := scan.Search(context.Background(), Query{Text: "harbour", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || len(results) != 1 {
		t.Fatalf("expected page 2 of 2, got %d results of %d", len(results), total)
	}
	results, _, _ = scan.Search(context.Background(), Query{Text: "harbour", Offset: 10})
	if len(results) != 0 {
		t.Fatalf("expected no results past the end, got %d", len(results))
	}
}

func TestScanStatusFilterAppliesBeforePaging(t *testing.T) {
	source := staticSource{forms: []FormRecord{
		{ID: "draft_1", Title: "Volunteer rota", Status: "draft"},
		{ID: "draft_2", Title: "Volunteer rota", Status: "draft"},
		{ID: "draft_3", Title: "Volunteer rota", Status: "draft"},
		{ID: "open_1", Title: "Volunteer signup", Status: "published"},
	}}
	results, total, err := NewScan(source).Search(context.Background(), Query{Text: "volunteer", FilterStatus: "published", Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].ID != "open_1" {
		t.Fatalf("got %d results of %d: %+v", len(results), total, results)
	}
}

func TestSnippet(t *testing.T) {
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	words[0] = "needle"
	words[40] = "needle"
	text := strings.Join(words, " ")

	got := strings.Fields(snippet(text, []string{"needle"}))
	if len(got) != 30 || got[0] != "needle" {
		t.Fatalf("snippet should start at the first match, got %v", got)
	}

	words[0] = "w0"
	got = strings.Fields(snippet(strings.Join(words, " "), []string{"needle"}))
	if got[0] != "w35" || got[5] != "needle" {
		t.Fatalf("snippet should lead the match by five words, got %v", got)
	}
}

func TestMeiliFilter(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		rtyp  ResultType
		want  string
	}{
		{name: "none", query: Query{}, rtyp: ResultForm, want: ""},
		{name: "form id", query: Query{FilterFormID: "f1"}, rtyp: ResultForm, want: `id = "f1"`},
		{name: "submission form id", query: Query{FilterFormID: "f1"}, rtyp: ResultSubmission, want: `formId = "f1"`},
		{name: "status", query: Query{FilterStatus: "published"}, rtyp: ResultForm, want: `status = "published"`},
		{name: "both", query: Query{FilterFormID: "f1", FilterStatus: "new"}, rtyp: ResultSubmission, want: `formId = "f1" AND status = "new"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := meiliFilter(tt.query, tt.rtyp); got != tt.want {
				t.Errorf("meiliFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServiceFallsBackToScan(t *testing.T) {
	svc := NewService(nil, testSource(), quietLogger())
	resp := svc.Search(context.Background(), Query{Text: "railing"})
	if resp.Engine != "scan" || resp.Total != 1 || resp.Results[0].ID != "sub_2" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Index calls are no-ops without Meilisearch.
	svc.IndexForm(FormRecord{ID: "form_3"})
	svc.DeleteSubmission("sub_1")
	svc.ReindexAll(context.Background())
	svc.Close()
}

func TestServiceSourceErrorYieldsEmptyResults(t *testing.T) {
	svc := NewService(nil, staticSource{err: errors.New("host down")}, quietLogger())
	resp := svc.Search(context.Background(), Query{Text: "anything"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}
