package engine

import (
	"testing"

	"phaseline/internal/domain"
)

func tasks(completed, total int) []domain.Task {
	ts := make([]domain.Task, total)
	for i := 0; i < total; i++ {
		ts[i] = domain.Task{ID: string(rune('a' + i)), Name: "t", Completed: i < completed}
	}
	return ts
}

func TestProgressPhaseBaselines(t *testing.T) {
	cases := []struct {
		phase domain.Phase
		want  int
	}{
		{domain.PhaseDev, 25},
		{domain.PhaseInt, 50},
		{domain.PhasePre, 75},
		{domain.PhaseProd, 100},
	}
	for _, c := range cases {
		if got := CalculateProgress(nil, c.phase); got != c.want {
			t.Errorf("empty tasks in %s: got %d, want %d", c.phase, got, c.want)
		}
	}
}

func TestProgressWeighting(t *testing.T) {
	cases := []struct {
		name      string
		completed int
		total     int
		phase     domain.Phase
		want      int
	}{
		{"none done in DEV", 0, 4, domain.PhaseDev, 8},        // 0 + 7.5 -> 8
		{"half done in DEV", 1, 2, domain.PhaseDev, 43},       // 35 + 7.5 = 42.5 -> 43
		{"three of ten in PRE", 3, 10, domain.PhasePre, 44},   // 21 + 22.5 = 43.5 -> 44
		{"all done in DEV", 2, 2, domain.PhaseDev, 78},        // 70 + 7.5 = 77.5 -> 78
		{"all done in PROD", 3, 3, domain.PhaseProd, 100},     // 70 + 30
		{"quarter done in INT", 1, 4, domain.PhaseInt, 33},    // 17.5 + 15 = 32.5 -> 33
		{"none done in PROD", 0, 5, domain.PhaseProd, 30},     // 0 + 30
	}
	for _, c := range cases {
		if got := CalculateProgress(tasks(c.completed, c.total), c.phase); got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestProgressBounds(t *testing.T) {
	for _, phase := range domain.PhaseOrder {
		for total := 0; total <= 6; total++ {
			for completed := 0; completed <= total; completed++ {
				got := CalculateProgress(tasks(completed, total), phase)
				if got < 0 || got > 100 {
					t.Fatalf("progress out of range: %d (%d/%d in %s)", got, completed, total, phase)
				}
			}
		}
	}
}
