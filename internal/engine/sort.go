package engine

import (
	"sort"
	"time"

	"phaseline/internal/domain"
)

// SortByPriority orders projects so that overdue ones come first, then by
// nearest deadline within each group. The input is not mutated; ties keep
// their input order (stable sort).
func SortByPriority(projects []domain.Project, now time.Time) []domain.Project {
	out := make([]domain.Project, len(projects))
	copy(out, projects)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i].Overdue(now), out[j].Overdue(now)
		if oi != oj {
			return oi
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}
