package engine

import (
	"strings"
	"time"

	"phaseline/internal/domain"
)

// Filters restricts a project listing. Zero-value fields are unset.
type Filters struct {
	Status  string
	Phase   string
	Overdue bool
	Search  string
}

func (f Filters) empty() bool {
	return f.Status == "" && f.Phase == "" && !f.Overdue && f.Search == ""
}

// ApplyFilters narrows projects to those matching every set filter field and
// returns them in priority order. With no fields set, Done projects are
// hidden; that is the deliberate default dashboard view, not a no-op. Setting
// any field (including search) suspends the hide-Done default.
func ApplyFilters(projects []domain.Project, f Filters, now time.Time) []domain.Project {
	matched := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if f.empty() {
			if p.Status != domain.StatusDone {
				matched = append(matched, p)
			}
			continue
		}
		if f.Status != "" && p.Status != domain.Status(f.Status) {
			continue
		}
		if f.Phase != "" && p.Phase != domain.Phase(f.Phase) {
			continue
		}
		if f.Overdue && !p.Overdue(now) {
			continue
		}
		if f.Search != "" && !matchesSearch(p, f.Search) {
			continue
		}
		matched = append(matched, p)
	}
	return SortByPriority(matched, now)
}

func matchesSearch(p domain.Project, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(p.Name), term) ||
		strings.Contains(strings.ToLower(p.Description), term)
}
