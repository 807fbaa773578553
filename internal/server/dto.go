package server

import (
	"encoding/json"
	"time"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

type CreateProjectRequest struct {
	Name             string               `json:"name" example:"billing-revamp"`
	Description      string               `json:"description,omitempty"`
	Deadline         string               `json:"deadline" example:"2026-03-31"`
	Status           string               `json:"status,omitempty" example:"To-Do"`
	Phase            string               `json:"phase,omitempty" example:"DEV"`
	RequiresApproval *bool                `json:"requires_approval,omitempty"`
	Tasks            []engine.TaskInput   `json:"tasks,omitempty"`
}

type UpdateProjectRequest struct {
	Name             *string             `json:"name,omitempty"`
	Description      *string             `json:"description,omitempty"`
	Deadline         *string             `json:"deadline,omitempty"`
	Status           *string             `json:"status,omitempty"`
	Phase            *string             `json:"phase,omitempty"`
	RequiresApproval *bool               `json:"requires_approval,omitempty"`
	Tasks            *[]engine.TaskInput `json:"tasks,omitempty"`
}

type TaskResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Completed  bool    `json:"completed"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type ProjectResponse struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	Tasks               []TaskResponse `json:"tasks"`
	Deadline            string         `json:"deadline"`
	Status              string         `json:"status"`
	Phase               string         `json:"phase"`
	Progress            int            `json:"progress"`
	Overdue             bool           `json:"overdue"`
	RequiresApproval    bool           `json:"requires_approval"`
	CurrentTransitionID *string        `json:"current_transition_id,omitempty"`
	OwnerID             string         `json:"owner_id"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
}

type RequestTransitionRequest struct {
	ToPhase string `json:"to_phase" example:"INT"`
	Comment string `json:"comment,omitempty"`
}

type ReviewTransitionRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

type TransitionResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	FromPhase   *string `json:"from_phase,omitempty"`
	ToPhase     string  `json:"to_phase"`
	Status      string  `json:"status"`
	RequestedBy string  `json:"requested_by"`
	ApprovedBy  *string `json:"approved_by,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	RequestedAt string  `json:"requested_at"`
	ReviewedAt  *string `json:"reviewed_at,omitempty"`
}

type MemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" example:"member"`
}

type MemberResponse struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type ProfileRequest struct {
	Email     string `json:"email" format:"email"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty" example:"member"`
}

type ProfileResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type APIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

func tsString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		Name:       t.Name,
		Completed:  t.Completed,
		AssignedTo: t.AssignedTo,
		CreatedAt:  tsString(t.CreatedAt),
	}
}

func projectResponse(p domain.Project, now time.Time) ProjectResponse {
	tasks := make([]TaskResponse, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, taskResponse(t))
	}
	return ProjectResponse{
		ID:                  p.ID,
		Name:                p.Name,
		Description:         p.Description,
		Tasks:               tasks,
		Deadline:            tsString(p.Deadline),
		Status:              string(p.Status),
		Phase:               string(p.Phase),
		Progress:            p.Progress,
		Overdue:             p.Overdue(now),
		RequiresApproval:    p.RequiresApproval,
		CurrentTransitionID: p.CurrentTransitionID,
		OwnerID:             p.OwnerID,
		CreatedAt:           tsString(p.CreatedAt),
		UpdatedAt:           tsString(p.UpdatedAt),
	}
}

func mapProjects(items []domain.Project, now time.Time) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p, now))
	}
	return res
}

func transitionResponse(t domain.PhaseTransition) TransitionResponse {
	res := TransitionResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		ToPhase:     string(t.ToPhase),
		Status:      string(t.Status),
		RequestedBy: t.RequestedBy,
		ApprovedBy:  t.ApprovedBy,
		Comment:     t.Comment,
		RequestedAt: tsString(t.RequestedAt),
	}
	if t.FromPhase != nil {
		from := string(*t.FromPhase)
		res.FromPhase = &from
	}
	if t.ReviewedAt != nil {
		at := tsString(*t.ReviewedAt)
		res.ReviewedAt = &at
	}
	return res
}

func mapTransitions(items []domain.PhaseTransition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, transitionResponse(t))
	}
	return res
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		CreatedAt: tsString(m.CreatedAt),
	}
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		AvatarURL: p.AvatarURL,
		Role:      string(p.Role),
		CreatedAt: tsString(p.CreatedAt),
	}
}

func eventResponse(ev domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if ev.Payload != "" && json.Valid([]byte(ev.Payload)) {
		payload = json.RawMessage(ev.Payload)
	}
	return EventResponse{
		ID:        ev.ID,
		TS:        tsString(ev.TS),
		Type:      ev.Type,
		ProjectID: ev.ProjectID,
		ActorID:   ev.ActorID,
		Payload:   payload,
	}
}
