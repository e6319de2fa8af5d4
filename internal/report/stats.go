package report

import (
	"sort"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

type CategoryCount struct {
	Category string
	Count    int
}

type Stats struct {
	Total      int
	Classified int
	// Categories is ordered by count, largest first.
	Categories []CategoryCount
}

func ComputeStats(repos []models.Repo) Stats {
	counts := make(map[string]int)
	s := Stats{Total: len(repos)}
	for _, r := range repos {
		if r.Category == nil || *r.Category == "" {
			counts[models.UnclassifiedHeading]++
			continue
		}
		s.Classified++
		counts[*r.Category]++
	}

	s.Categories = SortCounts(counts)
	return s
}

// SortCounts orders per-category counts largest first, ties by name.
func SortCounts(counts map[string]int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}
