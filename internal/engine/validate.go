package engine

import (
	"fmt"
	"strings"
	"time"

	"phaseline/internal/domain"
)

// ProjectInput is the validated-input shape accepted by CreateProject. The
// HTTP layer decodes JSON into it; the CLI fills it from flags.
type ProjectInput struct {
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Deadline         string      `json:"deadline"`
	Status           string      `json:"status"`
	Phase            string      `json:"phase"`
	RequiresApproval bool        `json:"requires_approval"`
	Tasks            []TaskInput `json:"tasks,omitempty"`
}

type TaskInput struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Completed  bool    `json:"completed,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
}

// deadline values accepted from callers, most specific first
var deadlineLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDeadline parses an RFC 3339 timestamp or a bare date.
func ParseDeadline(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range deadlineLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Validate checks a project input and returns every problem found; an empty
// slice means the input is valid. Checks are independent and never panic.
func Validate(in ProjectInput) []string {
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if in.Deadline == "" {
		problems = append(problems, "deadline is required")
	} else if _, err := ParseDeadline(in.Deadline); err != nil {
		problems = append(problems, fmt.Sprintf("deadline %q is not a valid date", in.Deadline))
	}
	if !domain.Status(in.Status).Valid() {
		problems = append(problems, fmt.Sprintf("status %q must be one of To-Do, In-Progress, Done", in.Status))
	}
	if !domain.Phase(in.Phase).Valid() {
		problems = append(problems, fmt.Sprintf("phase %q must be one of DEV, INT, PRE, PROD", in.Phase))
	}
	return problems
}
