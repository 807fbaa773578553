package engine

import (
	"math"

	"phaseline/internal/domain"
)

const taskWeight = 0.7

// CalculateProgress derives a project's completion percentage from its tasks
// and phase. With no tasks the phase baseline stands alone; otherwise task
// completion contributes 70% and the phase baseline 30%. Halves round up
// (math.Round) so 42.5 becomes 43.
func CalculateProgress(tasks []domain.Task, phase domain.Phase) int {
	if len(tasks) == 0 {
		return phase.Percent()
	}
	completed := 0
	for _, t := range tasks {
		if t.Completed {
			completed++
		}
	}
	taskProgress := float64(completed) / float64(len(tasks)) * 100 * taskWeight
	phaseProgress := float64(phase.Percent()) * (1 - taskWeight)
	return int(math.Round(taskProgress + phaseProgress))
}
