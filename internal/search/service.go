package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to a
// scan of the stored collections.
type Service struct {
	meili  *Meili
	scan   Searcher
	source RecordSource
	logger *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, source RecordSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, scan: NewScan(source), source: source, logger: logger}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise scans primary storage.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("search: meilisearch error, falling back to scan", "error", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		s.logger.Error("search: scan failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "scan"}
}

// IndexForm indexes a form (fire-and-forget to Meilisearch).
func (s *Service) IndexForm(form FormRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexForms(form); err != nil {
			s.logger.Warn("search: index form", "form_id", form.ID, "error", err)
		}
	}()
}

// IndexSubmission indexes a submission (fire-and-forget to Meilisearch).
func (s *Service) IndexSubmission(submission SubmissionRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexSubmissions(submission); err != nil {
			s.logger.Warn("search: index submission", "submission_id", submission.ID, "error", err)
		}
	}()
}

func (s *Service) DeleteForm(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteForm(id); err != nil {
			s.logger.Warn("search: delete form", "form_id", id, "error", err)
		}
	}()
}

func (s *Service) DeleteSubmission(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteSubmission(id); err != nil {
			s.logger.Warn("search: delete submission", "submission_id", id, "error", err)
		}
	}()
}

// ReindexAll pushes every stored form and submission to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.source == nil {
		return
	}
	forms, submissions, err := s.source.LoadSearchRecords(ctx)
	if err != nil {
		s.logger.Error("search: reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexForms(forms...); err != nil {
		s.logger.Warn("search: reindex forms", "error", err)
	}
	if err := s.meili.IndexSubmissions(submissions...); err != nil {
		s.logger.Warn("search: reindex submissions", "error", err)
	}
	s.logger.Info("search: reindexed", "forms", len(forms), "submissions", len(submissions))
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
