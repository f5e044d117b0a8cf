package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Scan implements Searcher by loading every record from primary storage and
// matching query terms in memory. It is the fallback when Meilisearch is
// not configured or unhealthy.
type Scan struct {
	source RecordSource
}

func NewScan(source RecordSource) *Scan {
	return &Scan{source: source}
}

// Healthy always returns true; a failing source surfaces as a search error.
func (s *Scan) Healthy() bool {
	return true
}

type scored struct {
	result Result
	score  int
}

// Search ranks records by how many query terms they contain, title matches
// counting double. Every term must match somewhere.
func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return nil, 0, nil
	}
	forms, submissions, err := s.source.LoadSearchRecords(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("scan search: %w", err)
	}

	var hits []scored
	if q.FilterType == "" || q.FilterType == ResultForm {
		for _, form := range forms {
			if q.FilterFormID != "" && form.ID != q.FilterFormID {
				continue
			}
			if q.FilterStatus != "" && form.Status != q.FilterStatus {
				continue
			}
			body := strings.Join([]string{form.Description, form.Fields}, " ")
			if score, ok := match(terms, form.Title, body); ok {
				hits = append(hits, scored{score: score, result: Result{
					Type:    ResultForm,
					ID:      form.ID,
					FormID:  form.ID,
					Title:   form.Title,
					Snippet: snippet(body, terms),
					Status:  form.Status,
				}})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultSubmission {
		for _, sub := range submissions {
			if q.FilterFormID != "" && sub.FormID != q.FilterFormID {
				continue
			}
			if q.FilterStatus != "" && sub.Status != q.FilterStatus {
				continue
			}
			if score, ok := match(terms, sub.FormTitle, sub.Content); ok {
				hits = append(hits, scored{score: score, result: Result{
					Type:    ResultSubmission,
					ID:      sub.ID,
					FormID:  sub.FormID,
					Title:   sub.FormTitle,
					Snippet: snippet(sub.Content, terms),
					Status:  sub.Status,
				}})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-offset)
	for _, hit := range hits[offset:end] {
		results = append(results, hit.result)
	}
	return results, total, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '@' && r != '.'
	})
}

func match(terms []string, title, body string) (int, bool) {
	title = strings.ToLower(title)
	body = strings.ToLower(body)
	score := 0
	for _, term := range terms {
		inTitle := strings.Contains(title, term)
		inBody := strings.Contains(body, term)
		if !inTitle && !inBody {
			return 0, false
		}
		if inTitle {
			score += 2
		}
		if inBody {
			score++
		}
	}
	return score, true
}

// snippet returns up to 30 words of text around the first matching term.
func snippet(text string, terms []string) string {
	words := strings.Fields(text)
	if len(words) <= 30 {
		return strings.Join(words, " ")
	}
	start := 0
	found := false
	for i, word := range words {
		lower := strings.ToLower(word)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				start, found = i, true
				break
			}
		}
		if found {
			break
		}
	}
	start -= 5
	if start < 0 {
		start = 0
	}
	end := start + 30
	if end > len(words) {
		end = len(words)
	}
	return strings.Join(words[start:end], " ")
}
