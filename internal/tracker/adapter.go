package tracker

import (
	"context"
	"fmt"
	"strings"

	"phaseline/internal/engine"
)

// Adapter mirrors tracker issues into a project's task list. Imported tasks
// are named "KEY: summary" and matched on the KEY prefix on later syncs, so
// reruns update completion state instead of duplicating tasks.
type Adapter struct {
	Client *Client
	Engine engine.Engine
}

// SyncResult reports what a sync changed.
type SyncResult struct {
	Imported int
	Updated  int
	Total    int
}

// Sync fetches issues matching the JQL query and merges them into the
// project's tasks. Tasks that did not come from the tracker are left alone.
func (a Adapter) Sync(ctx context.Context, projectID, jql string, actorID string) (SyncResult, error) {
	issues, err := a.Client.SearchIssues(ctx, jql, 200)
	if err != nil {
		return SyncResult{}, fmt.Errorf("search issues: %w", err)
	}

	p, err := a.Engine.GetProject(ctx, projectID)
	if err != nil {
		return SyncResult{}, err
	}

	byKey := map[string]engine.TaskInput{}
	var inputs []engine.TaskInput
	for _, t := range p.Tasks {
		in := engine.TaskInput{ID: t.ID, Name: t.Name, Completed: t.Completed, AssignedTo: t.AssignedTo}
		inputs = append(inputs, in)
		if key := issueKeyFromName(t.Name); key != "" {
			byKey[key] = in
		}
	}

	var res SyncResult
	for _, issue := range issues {
		name := fmt.Sprintf("%s: %s", issue.Key, issue.Fields.Summary)
		completed := issue.Fields.Status.StatusCategory.Key == "done"
		var assignee *string
		if issue.Fields.Assignee != nil && issue.Fields.Assignee.Name != "" {
			assignee = &issue.Fields.Assignee.Name
		}
		if prev, ok := byKey[issue.Key]; ok {
			for i := range inputs {
				if inputs[i].ID == prev.ID {
					inputs[i].Name = name
					inputs[i].Completed = completed
					inputs[i].AssignedTo = assignee
				}
			}
			res.Updated++
			continue
		}
		inputs = append(inputs, engine.TaskInput{Name: name, Completed: completed, AssignedTo: assignee})
		res.Imported++
	}
	res.Total = len(inputs)

	if res.Imported == 0 && res.Updated == 0 {
		return res, nil
	}
	if _, err := a.Engine.UpdateProject(ctx, projectID, engine.UpdateProjectOptions{Tasks: &inputs}, actorID); err != nil {
		return res, err
	}
	return res, nil
}

// NotifyCompleted comments on the tracked issue behind a completed task.
func (a Adapter) NotifyCompleted(ctx context.Context, taskName string) error {
	key := issueKeyFromName(taskName)
	if key == "" {
		return nil
	}
	return a.Client.AddComment(ctx, key, "Task completed in Phaseline.")
}

// issueKeyFromName extracts the "ABC-123" prefix from an imported task name.
func issueKeyFromName(name string) string {
	idx := strings.Index(name, ": ")
	if idx <= 0 {
		return ""
	}
	key := name[:idx]
	dash := strings.Index(key, "-")
	if dash <= 0 || dash == len(key)-1 {
		return ""
	}
	for _, r := range key[:dash] {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	for _, r := range key[dash+1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return key
}
