package engine

import (
	"testing"

	"phaseline/internal/domain"
)

func sampleProjects() []domain.Project {
	return []domain.Project{
		{ID: "p1", Name: "Billing revamp", Description: "new invoices", Deadline: day(20), Status: domain.StatusInProgress, Phase: domain.PhaseInt},
		{ID: "p2", Name: "Search rollout", Description: "elastic upgrade", Deadline: day(5), Status: domain.StatusTodo, Phase: domain.PhaseDev},
		{ID: "p3", Name: "Legacy shutdown", Description: "", Deadline: day(2), Status: domain.StatusDone, Phase: domain.PhaseProd},
	}
}

func ids(projects []domain.Project) []string {
	out := make([]string, len(projects))
	for i, p := range projects {
		out[i] = p.ID
	}
	return out
}

func TestFilterDefaultHidesDone(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{}, day(10))
	for _, p := range got {
		if p.Status == domain.StatusDone {
			t.Fatalf("done project %s visible without filters", p.ID)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 projects, got %v", ids(got))
	}
}

func TestFilterStatusShowsDone(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{Status: "Done"}, day(10))
	if len(got) != 1 || got[0].ID != "p3" {
		t.Fatalf("expected only p3, got %v", ids(got))
	}
}

func TestFilterSearchSuspendsHideDone(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{Search: "legacy"}, day(10))
	if len(got) != 1 || got[0].ID != "p3" {
		t.Fatalf("search should match done project, got %v", ids(got))
	}
}

func TestFilterSearchCaseInsensitive(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{Search: "ELASTIC"}, day(10))
	if len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("expected p2 via description match, got %v", ids(got))
	}
}

func TestFilterOverdue(t *testing.T) {
	// p2 is past deadline and not done; p3 is past deadline but done.
	got := ApplyFilters(sampleProjects(), Filters{Overdue: true}, day(10))
	if len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("expected only p2 overdue, got %v", ids(got))
	}
}

func TestFilterCombinedAnd(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{Status: "To-Do", Phase: "DEV"}, day(10))
	if len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("expected p2, got %v", ids(got))
	}
	got = ApplyFilters(sampleProjects(), Filters{Status: "To-Do", Phase: "PROD"}, day(10))
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %v", ids(got))
	}
}

func TestFilterResultSorted(t *testing.T) {
	got := ApplyFilters(sampleProjects(), Filters{}, day(10))
	// p2 is overdue so it must come before p1.
	if got[0].ID != "p2" || got[1].ID != "p1" {
		t.Fatalf("expected priority order p2,p1, got %v", ids(got))
	}
}
