package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { st.DB().Close() })
	eng := engine.New(st)
	eng.Now = func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createProject(t *testing.T, requiresApproval bool, tasks ...engine.TaskInput) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectInput{
		Name:             "rollout",
		Description:      "switch traffic over",
		Deadline:         "2026-03-01",
		Status:           "In-Progress",
		Phase:            "DEV",
		RequiresApproval: requiresApproval,
		Tasks:            tasks,
	}, "alice")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestCreateProjectDerivesProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true,
		engine.TaskInput{Name: "build", Completed: true},
		engine.TaskInput{Name: "deploy"},
	)
	// 1 of 2 done in DEV: 35 + 7.5 rounds to 43
	if p.Progress != 43 {
		t.Fatalf("progress = %d, want 43", p.Progress)
	}
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Progress != 43 || len(got.Tasks) != 2 {
		t.Fatalf("round trip: progress=%d tasks=%d", got.Progress, len(got.Tasks))
	}
	if got.OwnerID != "alice" {
		t.Fatalf("owner = %q", got.OwnerID)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectInput{
		Name:     " ",
		Deadline: "never",
		Status:   "Paused",
		Phase:    "QA",
	}, "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Problems) != 4 {
		t.Fatalf("expected 4 problems, got %v", ve.Problems)
	}
}

func TestUpdatePreservesTaskIdentity(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true,
		engine.TaskInput{Name: "keep me"},
		engine.TaskInput{Name: "drop me"},
	)
	keepID := p.Tasks[0].ID
	dropID := p.Tasks[1].ID

	next := []engine.TaskInput{
		{ID: keepID, Name: "keep me renamed", Completed: true},
		{Name: "brand new"},
	}
	updated, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.UpdateProjectOptions{Tasks: &next}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(updated.Tasks))
	}
	if updated.Tasks[0].ID != keepID {
		t.Fatalf("kept task changed id: %s != %s", updated.Tasks[0].ID, keepID)
	}
	if !updated.Tasks[0].Completed || updated.Tasks[0].Name != "keep me renamed" {
		t.Fatalf("kept task not updated: %+v", updated.Tasks[0])
	}
	if updated.Tasks[1].ID == dropID || updated.Tasks[1].ID == "" {
		t.Fatalf("new task has bad id %q", updated.Tasks[1].ID)
	}
	for _, task := range updated.Tasks {
		if task.ID == dropID {
			t.Fatalf("dropped task still present")
		}
	}
}

func TestUpdateRecomputesProgressOnPhaseChange(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true)
	phase := "PRE"
	updated, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.UpdateProjectOptions{Phase: &phase}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Progress != 75 {
		t.Fatalf("progress = %d, want 75", updated.Progress)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true, engine.TaskInput{Name: "task"})
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.Engine.GetProject(env.Ctx, p.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	tasks, err := env.Engine.Store.ListTasks(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks not cascaded: %d left", len(tasks))
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func TestTransitionMustTargetNextPhase(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true)
	_, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhasePre, "alice", "")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("skip ahead: expected ValidationError, got %v", err)
	}
	_, err = env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseDev, "alice", "")
	if !errors.As(err, &ve) {
		t.Fatalf("same phase: expected ValidationError, got %v", err)
	}
}

func TestTransitionApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true)
	if _, err := env.Engine.AddMember(env.Ctx, p.ID, "bob", domain.RoleAdmin); err != nil {
		t.Fatalf("add member: %v", err)
	}

	tr, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", "ready")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if tr.Status != domain.TransitionPending {
		t.Fatalf("status = %s, want pending", tr.Status)
	}

	// only one pending transition per project
	_, err = env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "bob", "")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second request: expected ConflictError, got %v", err)
	}

	// the requester cannot review their own request
	_, err = env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "alice", "")
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("self review: expected ForbiddenError, got %v", err)
	}

	// arbitrary users cannot review either
	_, err = env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "mallory", "")
	if !errors.As(err, &fe) {
		t.Fatalf("outsider review: expected ForbiddenError, got %v", err)
	}

	reviewed, err := env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "bob", "lgtm")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if reviewed.Status != domain.TransitionApproved {
		t.Fatalf("status = %s, want approved", reviewed.Status)
	}
	if reviewed.ApprovedBy == nil || *reviewed.ApprovedBy != "bob" {
		t.Fatalf("approved_by = %v", reviewed.ApprovedBy)
	}
	if reviewed.ReviewedAt == nil {
		t.Fatalf("reviewed_at not stamped")
	}

	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Phase != domain.PhaseInt {
		t.Fatalf("phase = %s, want INT", got.Phase)
	}
	if got.CurrentTransitionID != nil {
		t.Fatalf("active transition pointer not cleared")
	}
	if got.Progress != 50 {
		t.Fatalf("progress = %d, want 50 after phase change", got.Progress)
	}

	// a settled transition cannot be reviewed again
	_, err = env.Engine.ReviewTransition(env.Ctx, tr.ID, false, "bob", "")
	if !errors.As(err, &ce) {
		t.Fatalf("re-review: expected ConflictError, got %v", err)
	}
}

func TestTransitionRejectionLeavesPhase(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true)
	if _, err := env.Engine.AddMember(env.Ctx, p.ID, "bob", domain.RoleAdmin); err != nil {
		t.Fatalf("add member: %v", err)
	}
	tr, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	reviewed, err := env.Engine.ReviewTransition(env.Ctx, tr.ID, false, "bob", "not yet")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if reviewed.Status != domain.TransitionRejected {
		t.Fatalf("status = %s, want rejected", reviewed.Status)
	}
	got, _ := env.Engine.GetProject(env.Ctx, p.ID)
	if got.Phase != domain.PhaseDev {
		t.Fatalf("phase changed on rejection: %s", got.Phase)
	}
	if got.CurrentTransitionID != nil {
		t.Fatalf("active transition pointer not cleared")
	}

	// the gate reopens after a rejection
	if _, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", "second try"); err != nil {
		t.Fatalf("request after rejection: %v", err)
	}
}

func TestTransitionAutoApprove(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, false)
	tr, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if tr.Status != domain.TransitionApproved {
		t.Fatalf("status = %s, want approved", tr.Status)
	}
	got, _ := env.Engine.GetProject(env.Ctx, p.ID)
	if got.Phase != domain.PhaseInt {
		t.Fatalf("phase = %s, want INT", got.Phase)
	}
}

func TestTransitionRoleGates(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, true)
	if _, err := env.Engine.AddMember(env.Ctx, p.ID, "vera", domain.RoleViewer); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, p.ID, "mark", domain.RoleMember); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// viewers cannot request
	_, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "vera", "")
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("viewer request: expected ForbiddenError, got %v", err)
	}

	// members can request but not approve
	tr, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "mark", "")
	if err != nil {
		t.Fatalf("member request: %v", err)
	}
	if _, err := env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "vera", ""); !errors.As(err, &fe) {
		t.Fatalf("viewer review: expected ForbiddenError, got %v", err)
	}

	// the project owner can approve
	if _, err := env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "alice", ""); err != nil {
		t.Fatalf("owner review: %v", err)
	}
}

func TestTransitionHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, false)
	if _, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhasePre, "alice", ""); err != nil {
		t.Fatalf("second: %v", err)
	}
	history, err := env.Engine.TransitionHistory(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].ToPhase != domain.PhasePre || history[1].ToPhase != domain.PhaseInt {
		t.Fatalf("history out of order: %s then %s", history[0].ToPhase, history[1].ToPhase)
	}
	if _, err := env.Engine.TransitionHistory(env.Ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFinalPhaseHasNoNext(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, false)
	for _, phase := range []domain.Phase{domain.PhaseInt, domain.PhasePre, domain.PhaseProd} {
		if _, err := env.Engine.RequestTransition(env.Ctx, p.ID, phase, "alice", ""); err != nil {
			t.Fatalf("advance to %s: %v", phase, err)
		}
	}
	_, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseProd, "alice", "")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError past PROD, got %v", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, false)
	if _, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", ""); err != nil {
		t.Fatalf("request: %v", err)
	}
	events, err := env.Engine.ListEvents(env.Ctx, p.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
		if ev.ActorID != "alice" {
			t.Fatalf("actor = %q", ev.ActorID)
		}
	}
	for _, want := range []string{"project.created", "transition.requested", "transition.approved"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

func TestGlobalAdminCanReview(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertProfile(env.Ctx, domain.Profile{
		ID:    "root",
		Email: "root@example.com",
		Role:  domain.RoleAdmin,
	}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	p := env.createProject(t, true)
	tr, err := env.Engine.RequestTransition(env.Ctx, p.ID, domain.PhaseInt, "alice", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.Engine.ReviewTransition(env.Ctx, tr.ID, true, "root", ""); err != nil {
		t.Fatalf("admin review: %v", err)
	}
}

func TestListProjectsFiltersAndSorts(t *testing.T) {
	env := newTestEnv(t)
	mk := func(name, deadline string, status string) domain.Project {
		p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectInput{
			Name:     name,
			Deadline: deadline,
			Status:   status,
			Phase:    "DEV",
		}, "alice")
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return p
	}
	mk("late one", "2026-01-05", "In-Progress")
	mk("future one", "2026-06-01", "To-Do")
	mk("finished", "2026-01-01", "Done")

	// Now is fixed at 2026-01-10, so "late one" is overdue.
	got, err := env.Engine.ListProjects(env.Ctx, engine.Filters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected done hidden, got %d projects", len(got))
	}
	if got[0].Name != "late one" {
		t.Fatalf("overdue project not first: %s", got[0].Name)
	}

	got, err = env.Engine.ListProjects(env.Ctx, engine.Filters{Search: "finish"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "finished" {
		t.Fatalf("search should reach done projects: %v", got)
	}
}
