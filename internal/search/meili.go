package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxForms       = "formvault_forms"
	idxSubmissions = "formvault_submissions"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not an error: the client starts unhealthy and a
// background loop reconfigures it once the server appears.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxForms,
			filterable: []string{"id", "status"},
			searchable: []string{"title", "description", "fields"},
		},
		{
			uid:        idxSubmissions,
			filterable: []string{"formId", "status"},
			searchable: []string{"content", "formTitle"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("search: create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("search: update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("search: update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or the filtered one) and merges the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, target := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxForms, ResultForm},
		{idxSubmissions, ResultSubmission},
	} {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter := meiliFilter(q, target.rtyp); filter != "" {
			sr.Filter = filter
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

// meiliFilter builds the filter expression of one index query.
func meiliFilter(q Query, rtyp ResultType) string {
	var clauses []string
	if q.FilterFormID != "" {
		if rtyp == ResultForm {
			clauses = append(clauses, fmt.Sprintf("id = %q", q.FilterFormID))
		} else {
			clauses = append(clauses, fmt.Sprintf("formId = %q", q.FilterFormID))
		}
	}
	if q.FilterStatus != "" {
		clauses = append(clauses, fmt.Sprintf("status = %q", q.FilterStatus))
	}
	return strings.Join(clauses, " AND ")
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxForms:
		return ResultForm
	case idxSubmissions:
		return ResultSubmission
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{
		Type:   rtyp,
		ID:     decodeString(hit, "id"),
		Status: decodeString(hit, "status"),
	}
	switch rtyp {
	case ResultForm:
		r.FormID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultSubmission:
		r.FormID = decodeString(hit, "formId")
		r.Title = firstNonBlank(decodeFormattedString(hit, "formTitle"), decodeString(hit, "formTitle"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexForms(forms ...FormRecord) error {
	if len(forms) == 0 {
		return nil
	}
	_, err := m.client.Index(idxForms).AddDocuments(forms, nil)
	return err
}

func (m *Meili) IndexSubmissions(submissions ...SubmissionRecord) error {
	if len(submissions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSubmissions).AddDocuments(submissions, nil)
	return err
}

func (m *Meili) DeleteForm(id string) error {
	_, err := m.client.Index(idxForms).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteSubmission(id string) error {
	_, err := m.client.Index(idxSubmissions).DeleteDocument(id, nil)
	return err
}
