package engine

import (
	"testing"
	"time"

	"phaseline/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestSortOverdueFirst(t *testing.T) {
	now := day(10)
	projects := []domain.Project{
		{ID: "future", Deadline: day(20), Status: domain.StatusInProgress},
		{ID: "late", Deadline: day(5), Status: domain.StatusInProgress},
		{ID: "soon", Deadline: day(12), Status: domain.StatusTodo},
		{ID: "later-late", Deadline: day(8), Status: domain.StatusTodo},
	}
	sorted := SortByPriority(projects, now)
	want := []string{"late", "later-late", "soon", "future"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, sorted[i].ID, id)
		}
	}
}

func TestSortDoneNotOverdue(t *testing.T) {
	// A finished project past its deadline is not overdue and must not jump
	// ahead of active work.
	now := day(10)
	projects := []domain.Project{
		{ID: "done-late", Deadline: day(5), Status: domain.StatusDone},
		{ID: "active-late", Deadline: day(7), Status: domain.StatusInProgress},
	}
	sorted := SortByPriority(projects, now)
	if sorted[0].ID != "active-late" {
		t.Fatalf("expected active-late first, got %s", sorted[0].ID)
	}
}

func TestSortStableOnTies(t *testing.T) {
	now := day(10)
	projects := []domain.Project{
		{ID: "a", Deadline: day(15), Status: domain.StatusTodo},
		{ID: "b", Deadline: day(15), Status: domain.StatusTodo},
		{ID: "c", Deadline: day(15), Status: domain.StatusTodo},
	}
	sorted := SortByPriority(projects, now)
	for i, id := range []string{"a", "b", "c"} {
		if sorted[i].ID != id {
			t.Fatalf("tie order changed: got %s at %d", sorted[i].ID, i)
		}
	}
	again := SortByPriority(sorted, now)
	for i := range sorted {
		if again[i].ID != sorted[i].ID {
			t.Fatalf("sort not idempotent at %d", i)
		}
	}
}

func TestSortDoesNotMutateInput(t *testing.T) {
	now := day(10)
	projects := []domain.Project{
		{ID: "b", Deadline: day(20), Status: domain.StatusTodo},
		{ID: "a", Deadline: day(5), Status: domain.StatusTodo},
	}
	_ = SortByPriority(projects, now)
	if projects[0].ID != "b" {
		t.Fatalf("input slice was reordered")
	}
}
