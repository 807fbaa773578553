package domain

import "time"

// Phase is a delivery stage. Phases advance in a fixed order and only
// through the transition workflow (or an explicit project edit).
type Phase string

const (
	PhaseDev  Phase = "DEV"
	PhaseInt  Phase = "INT"
	PhasePre  Phase = "PRE"
	PhaseProd Phase = "PROD"
)

// PhaseOrder lists all phases in delivery order.
var PhaseOrder = []Phase{PhaseDev, PhaseInt, PhasePre, PhaseProd}

// Percent maps a phase to its baseline completion percentage.
func (p Phase) Percent() int {
	switch p {
	case PhaseDev:
		return 25
	case PhaseInt:
		return 50
	case PhasePre:
		return 75
	case PhaseProd:
		return 100
	}
	return 0
}

// Next returns the phase that follows p, or false from PROD.
func (p Phase) Next() (Phase, bool) {
	for i, candidate := range PhaseOrder {
		if candidate == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	for _, candidate := range PhaseOrder {
		if candidate == p {
			return true
		}
	}
	return false
}

// Status is the day-to-day working state of a project, independent of phase.
type Status string

const (
	StatusTodo       Status = "To-Do"
	StatusInProgress Status = "In-Progress"
	StatusDone       Status = "Done"
)

var StatusOrder = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	for _, candidate := range StatusOrder {
		if candidate == s {
			return true
		}
	}
	return false
}

// TransitionStatus is the review state of a phase transition request.
type TransitionStatus string

const (
	TransitionPending  TransitionStatus = "pending"
	TransitionApproved TransitionStatus = "approved"
	TransitionRejected TransitionStatus = "rejected"
)

// Role grants capabilities either globally (Profile) or per project
// (project membership).
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

var RoleOrder = []Role{RoleAdmin, RoleMember, RoleViewer}

func (r Role) Valid() bool {
	for _, candidate := range RoleOrder {
		if candidate == r {
			return true
		}
	}
	return false
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tasks       []Task    `json:"tasks"`
	Deadline    time.Time `json:"deadline" format:"date-time"`
	Status      Status    `json:"status" enum:"To-Do,In-Progress,Done"`
	Phase       Phase     `json:"phase" enum:"DEV,INT,PRE,PROD"`
	// Progress is derived from tasks and phase; the stored value is only a
	// cache and is recomputed on every read returned to callers.
	Progress            int        `json:"progress" minimum:"0" maximum:"100"`
	RequiresApproval    bool       `json:"requires_approval"`
	CurrentTransitionID *string    `json:"current_transition_id,omitempty"`
	OwnerID             string     `json:"owner_id"`
	CreatedAt           time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt           time.Time  `json:"updated_at" format:"date-time"`
}

// Overdue reports whether the deadline has passed and the project is not Done.
func (p Project) Overdue(now time.Time) bool {
	return now.After(p.Deadline) && p.Status != StatusDone
}

// CompletedTasks counts tasks marked complete.
func (p Project) CompletedTasks() int {
	n := 0
	for _, t := range p.Tasks {
		if t.Completed {
			n++
		}
	}
	return n
}

// Task is owned by its parent project and has no identity outside it.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Completed  bool      `json:"completed"`
	AssignedTo *string   `json:"assigned_to,omitempty"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

// PhaseTransition records one request to advance a project's phase.
// It is created pending and reviewed exactly once; afterwards the row is
// immutable history.
type PhaseTransition struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	FromPhase   *Phase           `json:"from_phase,omitempty"`
	ToPhase     Phase            `json:"to_phase" enum:"DEV,INT,PRE,PROD"`
	Status      TransitionStatus `json:"status" enum:"pending,approved,rejected"`
	RequestedBy string           `json:"requested_by"`
	ApprovedBy  *string          `json:"approved_by,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	RequestedAt time.Time        `json:"requested_at" format:"date-time"`
	ReviewedAt  *time.Time       `json:"reviewed_at,omitempty" format:"date-time"`
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      Role      `json:"role" enum:"admin,member,viewer"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Member assigns a per-project role to a profile.
type Member struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role" enum:"admin,member,viewer"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Event struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts" format:"date-time"`
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	ActorID   string    `json:"actor_id"`
	Payload   string    `json:"payload_json"`
}
