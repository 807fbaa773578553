package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/store"
)

// Engine implements the boundary operations over an injected Store. Each
// operation runs to completion on its own; multi-statement writes share one
// transaction so a partial failure leaves no orphaned rows.
type Engine struct {
	Store  store.Store
	Events events.Writer
	Now    func() time.Time
}

func New(st store.Store) Engine {
	return Engine{
		Store:  st,
		Events: events.Writer{Store: st},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// wrapStore keeps ErrNotFound recognizable and tags everything else as a
// storage failure so the boundary layer can answer 503 instead of 4xx.
func wrapStore(op string, err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return StorageError{Op: op, Err: err}
}

// ListProjects returns projects matching the filters in priority order, with
// progress recomputed per item before return.
func (e Engine) ListProjects(ctx context.Context, f Filters) ([]domain.Project, error) {
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return nil, wrapStore("list projects", err)
	}
	for i := range projects {
		projects[i].Progress = CalculateProgress(projects[i].Tasks, projects[i].Phase)
	}
	return ApplyFilters(projects, f, e.now()), nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return p, wrapStore("get project", err)
	}
	p.Progress = CalculateProgress(p.Tasks, p.Phase)
	return p, nil
}

// CreateProject validates input, derives progress, and writes the project
// with its tasks in one transaction.
func (e Engine) CreateProject(ctx context.Context, in ProjectInput, ownerID string) (domain.Project, error) {
	if problems := Validate(in); len(problems) > 0 {
		return domain.Project{}, ValidationError{Problems: problems}
	}
	if ownerID == "" {
		return domain.Project{}, ValidationError{Problems: []string{"owner is required"}}
	}
	deadline, err := ParseDeadline(in.Deadline)
	if err != nil {
		return domain.Project{}, ValidationError{Problems: []string{err.Error()}}
	}
	now := e.now().UTC()
	p := domain.Project{
		ID:               uuid.New().String(),
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		Deadline:         deadline,
		Status:           domain.Status(in.Status),
		Phase:            domain.Phase(in.Phase),
		RequiresApproval: in.RequiresApproval,
		OwnerID:          ownerID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, tin := range in.Tasks {
		p.Tasks = append(p.Tasks, newTask(tin, now))
	}
	p.Progress = CalculateProgress(p.Tasks, p.Phase)

	tx, err := e.Store.DB().BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, wrapStore("begin tx", err)
	}
	defer tx.Rollback()

	if err := e.Store.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, wrapStore("insert project", err)
	}
	for _, t := range p.Tasks {
		if err := e.Store.InsertTask(ctx, tx, p.ID, t); err != nil {
			return domain.Project{}, wrapStore("insert task", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, ownerID, events.EventPayload{
		"name": p.Name, "phase": p.Phase, "progress": p.Progress,
	}); err != nil {
		return domain.Project{}, wrapStore("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, wrapStore("commit", err)
	}
	return p, nil
}

// UpdateProjectOptions carries a partial update; nil fields are untouched.
// A non-nil Tasks replaces the task list logically but task rows are merged
// by id so surviving tasks keep their identity.
type UpdateProjectOptions struct {
	Name             *string
	Description      *string
	Deadline         *string
	Status           *string
	Phase            *string
	RequiresApproval *bool
	Tasks            *[]TaskInput
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts UpdateProjectOptions, actorID string) (domain.Project, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return p, wrapStore("get project", err)
	}

	// re-validate only the fields being changed
	var problems []string
	if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	var deadline time.Time
	if opts.Deadline != nil {
		deadline, err = ParseDeadline(*opts.Deadline)
		if err != nil {
			problems = append(problems, fmt.Sprintf("deadline %q is not a valid date", *opts.Deadline))
		}
	}
	if opts.Status != nil && !domain.Status(*opts.Status).Valid() {
		problems = append(problems, fmt.Sprintf("status %q must be one of To-Do, In-Progress, Done", *opts.Status))
	}
	if opts.Phase != nil && !domain.Phase(*opts.Phase).Valid() {
		problems = append(problems, fmt.Sprintf("phase %q must be one of DEV, INT, PRE, PROD", *opts.Phase))
	}
	if len(problems) > 0 {
		return p, ValidationError{Problems: problems}
	}

	if opts.Name != nil {
		p.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Deadline != nil {
		p.Deadline = deadline
	}
	if opts.Status != nil {
		p.Status = domain.Status(*opts.Status)
	}
	if opts.Phase != nil {
		p.Phase = domain.Phase(*opts.Phase)
	}
	if opts.RequiresApproval != nil {
		p.RequiresApproval = *opts.RequiresApproval
	}

	now := e.now().UTC()
	var inserts, updates []domain.Task
	var deletes []string
	if opts.Tasks != nil {
		existing := map[string]domain.Task{}
		for _, t := range p.Tasks {
			existing[t.ID] = t
		}
		kept := map[string]bool{}
		var next []domain.Task
		for _, tin := range *opts.Tasks {
			if prev, ok := existing[tin.ID]; tin.ID != "" && ok {
				prev.Name = tin.Name
				prev.Completed = tin.Completed
				prev.AssignedTo = tin.AssignedTo
				updates = append(updates, prev)
				next = append(next, prev)
				kept[tin.ID] = true
				continue
			}
			t := newTask(tin, now)
			inserts = append(inserts, t)
			next = append(next, t)
		}
		for _, t := range p.Tasks {
			if !kept[t.ID] {
				deletes = append(deletes, t.ID)
			}
		}
		p.Tasks = next
	}

	p.Progress = CalculateProgress(p.Tasks, p.Phase)
	p.UpdatedAt = now

	tx, err := e.Store.DB().BeginTx(ctx, nil)
	if err != nil {
		return p, wrapStore("begin tx", err)
	}
	defer tx.Rollback()

	if err := e.Store.UpdateProject(ctx, tx, p); err != nil {
		return p, wrapStore("update project", err)
	}
	for _, t := range updates {
		if err := e.Store.UpdateTask(ctx, tx, p.ID, t); err != nil {
			return p, wrapStore("update task", err)
		}
	}
	for _, t := range inserts {
		if err := e.Store.InsertTask(ctx, tx, p.ID, t); err != nil {
			return p, wrapStore("insert task", err)
		}
	}
	for _, taskID := range deletes {
		if err := e.Store.DeleteTask(ctx, tx, p.ID, taskID); err != nil {
			return p, wrapStore("delete task", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "project.updated", p.ID, actorID, events.EventPayload{
		"status": p.Status, "phase": p.Phase, "progress": p.Progress,
	}); err != nil {
		return p, wrapStore("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return p, wrapStore("commit", err)
	}
	return p, nil
}

// DeleteProject removes a project and, via cascade, its tasks and
// transition history.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	tx, err := e.Store.DB().BeginTx(ctx, nil)
	if err != nil {
		return wrapStore("begin tx", err)
	}
	defer tx.Rollback()
	if err := e.Store.DeleteProject(ctx, tx, id); err != nil {
		return wrapStore("delete project", err)
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", id, actorID, nil); err != nil {
		return wrapStore("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStore("commit", err)
	}
	return nil
}

func newTask(in TaskInput, now time.Time) domain.Task {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	return domain.Task{
		ID:         id,
		Name:       in.Name,
		Completed:  in.Completed,
		AssignedTo: in.AssignedTo,
		CreatedAt:  now,
	}
}

// canRequest reports whether the actor may request a phase transition:
// project owner, global admin, or a member whose project role is admin or
// member (viewers cannot).
func (e Engine) canRequest(ctx context.Context, p domain.Project, actorID string) (bool, error) {
	if actorID == p.OwnerID {
		return true, nil
	}
	if admin, err := e.isGlobalAdmin(ctx, actorID); err != nil || admin {
		return admin, err
	}
	role, err := e.Store.MemberRole(ctx, p.ID, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStore("member role", err)
	}
	return role == domain.RoleAdmin || role == domain.RoleMember, nil
}

// canApprove reports whether the actor may review a transition: project
// owner, global admin, or a member whose project role is admin.
func (e Engine) canApprove(ctx context.Context, p domain.Project, actorID string) (bool, error) {
	if actorID == p.OwnerID {
		return true, nil
	}
	if admin, err := e.isGlobalAdmin(ctx, actorID); err != nil || admin {
		return admin, err
	}
	role, err := e.Store.MemberRole(ctx, p.ID, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStore("member role", err)
	}
	return role == domain.RoleAdmin, nil
}

func (e Engine) isGlobalAdmin(ctx context.Context, actorID string) (bool, error) {
	profile, err := e.Store.GetProfile(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStore("get profile", err)
	}
	return profile.Role == domain.RoleAdmin, nil
}

// RequestTransition opens a phase change request. The target must be the
// project's immediate next phase; skips and regressions are rejected. At most
// one transition may be pending per project. When the project does not
// require approval the request is applied immediately instead of waiting for
// review.
func (e Engine) RequestTransition(ctx context.Context, projectID string, toPhase domain.Phase, requestedBy, comment string) (domain.PhaseTransition, error) {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return domain.PhaseTransition{}, wrapStore("get project", err)
	}
	if !toPhase.Valid() {
		return domain.PhaseTransition{}, ValidationError{Problems: []string{
			fmt.Sprintf("phase %q must be one of DEV, INT, PRE, PROD", toPhase)}}
	}
	next, ok := p.Phase.Next()
	if !ok {
		return domain.PhaseTransition{}, ValidationError{Problems: []string{
			fmt.Sprintf("project is already in final phase %s", p.Phase)}}
	}
	if toPhase != next {
		return domain.PhaseTransition{}, ValidationError{Problems: []string{
			fmt.Sprintf("phase can only advance from %s to %s, not %s", p.Phase, next, toPhase)}}
	}
	allowed, err := e.canRequest(ctx, p, requestedBy)
	if err != nil {
		return domain.PhaseTransition{}, err
	}
	if !allowed {
		return domain.PhaseTransition{}, ForbiddenError{ActorID: requestedBy, Action: "request a phase transition"}
	}
	if _, err := e.Store.PendingTransition(ctx, projectID); err == nil {
		return domain.PhaseTransition{}, ConflictError{Reason: "a phase transition is already pending for this project"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.PhaseTransition{}, wrapStore("pending transition", err)
	}

	now := e.now().UTC()
	fromPhase := p.Phase
	t := domain.PhaseTransition{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		FromPhase:   &fromPhase,
		ToPhase:     toPhase,
		Status:      domain.TransitionPending,
		RequestedBy: requestedBy,
		Comment:     comment,
		RequestedAt: now,
	}

	autoApproved := !p.RequiresApproval
	if autoApproved {
		t.Status = domain.TransitionApproved
		t.ApprovedBy = &t.RequestedBy
		reviewedAt := now
		t.ReviewedAt = &reviewedAt
		p.Phase = toPhase
		p.CurrentTransitionID = nil
	} else {
		p.CurrentTransitionID = &t.ID
	}
	p.Progress = CalculateProgress(p.Tasks, p.Phase)
	p.UpdatedAt = now

	tx, err := e.Store.DB().BeginTx(ctx, nil)
	if err != nil {
		return domain.PhaseTransition{}, wrapStore("begin tx", err)
	}
	defer tx.Rollback()

	if err := e.Store.InsertTransition(ctx, tx, t); err != nil {
		return domain.PhaseTransition{}, wrapStore("insert transition", err)
	}
	if err := e.Store.UpdateProject(ctx, tx, p); err != nil {
		return domain.PhaseTransition{}, wrapStore("update project", err)
	}
	if err := e.Events.Append(ctx, tx, "transition.requested", projectID, requestedBy, events.EventPayload{
		"transition_id": t.ID, "from": fromPhase, "to": toPhase, "auto_approved": autoApproved,
	}); err != nil {
		return domain.PhaseTransition{}, wrapStore("append event", err)
	}
	if autoApproved {
		if err := e.Events.Append(ctx, tx, "transition.approved", projectID, requestedBy, events.EventPayload{
			"transition_id": t.ID, "phase": toPhase,
		}); err != nil {
			return domain.PhaseTransition{}, wrapStore("append event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.PhaseTransition{}, wrapStore("commit", err)
	}
	return t, nil
}

// ReviewTransition settles a pending transition exactly once. Approval
// applies the phase and recomputes progress; rejection leaves the project
// untouched. Either way the reviewer and time are stamped and the project's
// active-transition pointer is cleared. Requesters cannot review their own
// transitions.
func (e Engine) ReviewTransition(ctx context.Context, transitionID string, approved bool, reviewedBy, comment string) (domain.PhaseTransition, error) {
	t, err := e.Store.GetTransition(ctx, transitionID)
	if err != nil {
		return t, wrapStore("get transition", err)
	}
	if t.Status != domain.TransitionPending {
		return t, ConflictError{Reason: fmt.Sprintf("transition already %s", t.Status)}
	}
	if reviewedBy == t.RequestedBy {
		return t, ForbiddenError{ActorID: reviewedBy, Action: "review their own transition request"}
	}
	p, err := e.Store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, wrapStore("get project", err)
	}
	allowed, err := e.canApprove(ctx, p, reviewedBy)
	if err != nil {
		return t, err
	}
	if !allowed {
		return t, ForbiddenError{ActorID: reviewedBy, Action: "review phase transitions for this project"}
	}

	now := e.now().UTC()
	t.ApprovedBy = &reviewedBy
	reviewedAt := now
	t.ReviewedAt = &reviewedAt
	if comment != "" {
		t.Comment = comment
	}
	evtType := "transition.rejected"
	if approved {
		t.Status = domain.TransitionApproved
		p.Phase = t.ToPhase
		evtType = "transition.approved"
	} else {
		t.Status = domain.TransitionRejected
	}
	p.CurrentTransitionID = nil
	p.Progress = CalculateProgress(p.Tasks, p.Phase)
	p.UpdatedAt = now

	tx, err := e.Store.DB().BeginTx(ctx, nil)
	if err != nil {
		return t, wrapStore("begin tx", err)
	}
	defer tx.Rollback()

	if err := e.Store.UpdateTransition(ctx, tx, t); err != nil {
		return t, wrapStore("update transition", err)
	}
	if err := e.Store.UpdateProject(ctx, tx, p); err != nil {
		return t, wrapStore("update project", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, p.ID, reviewedBy, events.EventPayload{
		"transition_id": t.ID, "phase": p.Phase,
	}); err != nil {
		return t, wrapStore("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return t, wrapStore("commit", err)
	}
	return t, nil
}

// TransitionHistory lists a project's transitions, newest first.
func (e Engine) TransitionHistory(ctx context.Context, projectID string) ([]domain.PhaseTransition, error) {
	if _, err := e.Store.GetProject(ctx, projectID); err != nil {
		return nil, wrapStore("get project", err)
	}
	res, err := e.Store.ListTransitions(ctx, projectID)
	return res, wrapStore("list transitions", err)
}

// UpsertProfile stores a user profile for authorization checks.
func (e Engine) UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.ID == "" || p.Email == "" {
		return p, ValidationError{Problems: []string{"profile id and email are required"}}
	}
	if p.Role == "" {
		p.Role = domain.RoleMember
	}
	if !p.Role.Valid() {
		return p, ValidationError{Problems: []string{fmt.Sprintf("role %q must be one of admin, member, viewer", p.Role)}}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.now().UTC()
	}
	return p, wrapStore("upsert profile", e.Store.UpsertProfile(ctx, p))
}

// AddMember grants a per-project role to a profile.
func (e Engine) AddMember(ctx context.Context, projectID, userID string, role domain.Role) (domain.Member, error) {
	if !role.Valid() {
		return domain.Member{}, ValidationError{Problems: []string{fmt.Sprintf("role %q must be one of admin, member, viewer", role)}}
	}
	if _, err := e.Store.GetProject(ctx, projectID); err != nil {
		return domain.Member{}, wrapStore("get project", err)
	}
	m := domain.Member{ProjectID: projectID, UserID: userID, Role: role, CreatedAt: e.now().UTC()}
	return m, wrapStore("add member", e.Store.AddMember(ctx, m))
}

func (e Engine) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	res, err := e.Store.ListMembers(ctx, projectID)
	return res, wrapStore("list members", err)
}

// CreateAPIKey mints a random key for a user and stores only its hash. The
// raw key is returned once and cannot be recovered later.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if userID == "" {
		return "", domain.APIKey{}, ValidationError{Problems: []string{"user id is required"}}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	k := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   store.HashAPIKey(raw),
		CreatedAt: e.now().UTC(),
	}
	if err := e.Store.InsertAPIKey(ctx, k); err != nil {
		return "", domain.APIKey{}, wrapStore("insert api key", err)
	}
	return raw, k, nil
}

func (e Engine) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	res, err := e.Store.ListEvents(ctx, projectID, limit)
	return res, wrapStore("list events", err)
}
