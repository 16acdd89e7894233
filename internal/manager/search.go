package manager

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/vrsandeep/repokeep/internal/repository"
)

// SearchResult is one match of Search. Higher scores match better.
type SearchResult struct {
	repository.Status
	Score int `json:"score"`
}

type searchable []repository.Status

func (s searchable) String(i int) string {
	r := s[i]
	parts := []string{r.FullName, r.DisplayName}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	parts = append(parts, r.Topics...)
	return strings.ToLower(strings.Join(parts, " "))
}

func (s searchable) Len() int { return len(s) }

// Search fuzzy matches the query against names, descriptions and topics of
// the listed repositories. An empty query returns everything.
func (m *Manager) Search(query string, f Filter) []SearchResult {
	statuses := m.List(f)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		results := make([]SearchResult, len(statuses))
		for i, s := range statuses {
			results[i] = SearchResult{Status: s}
		}
		return results
	}

	matches := fuzzy.FindFrom(query, searchable(statuses))
	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, SearchResult{Status: statuses[match.Index], Score: match.Score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
