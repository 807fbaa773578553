package store

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

// Postgres persists through database/sql with the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (s *Postgres) DB() *sql.DB { return s.db }

const pgSchema = `
create table if not exists profiles (
    id text primary key,
    email text not null unique,
    full_name text,
    avatar_url text,
    role text not null default 'member',
    created_at timestamptz not null default now()
);

create table if not exists projects (
    id text primary key,
    name text not null,
    description text,
    deadline timestamptz not null,
    status text not null,
    phase text not null,
    progress int not null default 0,
    requires_approval boolean not null default false,
    current_transition_id text,
    owner_id text not null,
    created_at timestamptz not null,
    updated_at timestamptz not null
);

create table if not exists tasks (
    id text primary key,
    project_id text not null references projects(id) on delete cascade,
    name text not null,
    completed boolean not null default false,
    assigned_to text,
    created_at timestamptz not null
);
create index if not exists tasks_project_idx on tasks(project_id);

create table if not exists phase_transitions (
    seq bigint generated always as identity,
    id text primary key,
    project_id text not null references projects(id) on delete cascade,
    from_phase text,
    to_phase text not null,
    status text not null default 'pending',
    requested_by text not null,
    approved_by text,
    comment text,
    requested_at timestamptz not null,
    reviewed_at timestamptz
);
create index if not exists transitions_project_idx on phase_transitions(project_id);

create table if not exists project_members (
    project_id text not null references projects(id) on delete cascade,
    user_id text not null,
    role text not null,
    created_at timestamptz not null,
    primary key (project_id, user_id)
);

create table if not exists api_keys (
    id text primary key,
    user_id text not null,
    name text,
    key_hash text not null unique,
    created_at timestamptz not null
);

create table if not exists events (
    id bigserial primary key,
    ts timestamptz not null,
    type text not null,
    project_id text,
    actor_id text not null,
    payload_json text not null
);
create index if not exists events_project_idx on events(project_id);
`

// Migrate applies the schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func scanPGProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var transitionID sql.NullString
	err := scan(&p.ID, &p.Name, &p.Description, &p.Deadline, &p.Status, &p.Phase, &p.Progress,
		&p.RequiresApproval, &transitionID, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if transitionID.Valid {
		p.CurrentTransitionID = &transitionID.String
	}
	return p, nil
}

const pgProjectSelect = `select id, name, coalesce(description,''), deadline, status, phase, progress, requires_approval, current_transition_id, owner_id, created_at, updated_at from projects`

func (s *Postgres) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, pgProjectSelect+` order by created_at desc, id desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanPGProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byProject, err := s.allTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Tasks = byProject[res[i].ID]
	}
	return res, nil
}

func (s *Postgres) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, pgProjectSelect+` where id=$1`, id)
	p, err := scanPGProject(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Tasks, err = s.ListTasks(ctx, id)
	return p, err
}

func (s *Postgres) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx,
		`insert into projects(id, name, description, deadline, status, phase, progress, requires_approval, current_transition_id, owner_id, created_at, updated_at)
		 values($1,$2,nullif($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.Name, p.Description, p.Deadline, p.Status, p.Phase, p.Progress,
		p.RequiresApproval, p.CurrentTransitionID, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Postgres) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx,
		`update projects set name=$1, description=nullif($2,''), deadline=$3, status=$4, phase=$5, progress=$6, requires_approval=$7, current_transition_id=$8, updated_at=$9 where id=$10`,
		p.Name, p.Description, p.Deadline, p.Status, p.Phase, p.Progress,
		p.RequiresApproval, p.CurrentTransitionID, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `delete from projects where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, completed, assigned_to, created_at from tasks where project_id=$1 order by created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var assignedTo sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Completed, &assignedTo, &t.CreatedAt); err != nil {
			return nil, err
		}
		if assignedTo.Valid {
			t.AssignedTo = &assignedTo.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *Postgres) allTasks(ctx context.Context) (map[string][]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, project_id, name, completed, assigned_to, created_at from tasks order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]domain.Task{}
	for rows.Next() {
		var t domain.Task
		var projectID string
		var assignedTo sql.NullString
		if err := rows.Scan(&t.ID, &projectID, &t.Name, &t.Completed, &assignedTo, &t.CreatedAt); err != nil {
			return nil, err
		}
		if assignedTo.Valid {
			t.AssignedTo = &assignedTo.String
		}
		res[projectID] = append(res[projectID], t)
	}
	return res, rows.Err()
}

func (s *Postgres) InsertTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error {
	_, err := tx.ExecContext(ctx,
		`insert into tasks(id, project_id, name, completed, assigned_to, created_at) values($1,$2,$3,$4,$5,$6)`,
		t.ID, projectID, t.Name, t.Completed, t.AssignedTo, t.CreatedAt)
	return err
}

func (s *Postgres) UpdateTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error {
	_, err := tx.ExecContext(ctx,
		`update tasks set name=$1, completed=$2, assigned_to=$3 where id=$4 and project_id=$5`,
		t.Name, t.Completed, t.AssignedTo, t.ID, projectID)
	return err
}

func (s *Postgres) DeleteTask(ctx context.Context, tx *sql.Tx, projectID, taskID string) error {
	_, err := tx.ExecContext(ctx, `delete from tasks where id=$1 and project_id=$2`, taskID, projectID)
	return err
}

const pgTransitionSelect = `select id, project_id, from_phase, to_phase, status, requested_by, approved_by, coalesce(comment,''), requested_at, reviewed_at from phase_transitions`

func scanPGTransition(scan func(dest ...any) error) (domain.PhaseTransition, error) {
	var t domain.PhaseTransition
	var fromPhase, approvedBy sql.NullString
	var reviewedAt sql.NullTime
	err := scan(&t.ID, &t.ProjectID, &fromPhase, &t.ToPhase, &t.Status, &t.RequestedBy,
		&approvedBy, &t.Comment, &t.RequestedAt, &reviewedAt)
	if err != nil {
		return t, err
	}
	if fromPhase.Valid {
		phase := domain.Phase(fromPhase.String)
		t.FromPhase = &phase
	}
	if approvedBy.Valid {
		t.ApprovedBy = &approvedBy.String
	}
	if reviewedAt.Valid {
		at := reviewedAt.Time
		t.ReviewedAt = &at
	}
	return t, nil
}

func (s *Postgres) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error {
	var fromPhase *string
	if t.FromPhase != nil {
		v := string(*t.FromPhase)
		fromPhase = &v
	}
	_, err := tx.ExecContext(ctx,
		`insert into phase_transitions(id, project_id, from_phase, to_phase, status, requested_by, approved_by, comment, requested_at, reviewed_at)
		 values($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9,$10)`,
		t.ID, t.ProjectID, fromPhase, t.ToPhase, t.Status, t.RequestedBy, t.ApprovedBy, t.Comment, t.RequestedAt, t.ReviewedAt)
	return err
}

func (s *Postgres) UpdateTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error {
	res, err := tx.ExecContext(ctx,
		`update phase_transitions set status=$1, approved_by=$2, comment=nullif($3,''), reviewed_at=$4 where id=$5`,
		t.Status, t.ApprovedBy, t.Comment, t.ReviewedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetTransition(ctx context.Context, id string) (domain.PhaseTransition, error) {
	row := s.db.QueryRowContext(ctx, pgTransitionSelect+` where id=$1`, id)
	t, err := scanPGTransition(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (s *Postgres) PendingTransition(ctx context.Context, projectID string) (domain.PhaseTransition, error) {
	row := s.db.QueryRowContext(ctx, pgTransitionSelect+` where project_id=$1 and status='pending' limit 1`, projectID)
	t, err := scanPGTransition(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (s *Postgres) ListTransitions(ctx context.Context, projectID string) ([]domain.PhaseTransition, error) {
	rows, err := s.db.QueryContext(ctx, pgTransitionSelect+` where project_id=$1 order by requested_at desc, seq desc`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PhaseTransition
	for rows.Next() {
		t, err := scanPGTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *Postgres) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(id, email, full_name, avatar_url, role, created_at) values($1,$2,nullif($3,''),nullif($4,''),$5,$6)
		 on conflict(id) do update set email=excluded.email, full_name=excluded.full_name, avatar_url=excluded.avatar_url, role=excluded.role`,
		p.ID, p.Email, p.FullName, p.AvatarURL, p.Role, p.CreatedAt)
	return err
}

func (s *Postgres) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRowContext(ctx,
		`select id, email, coalesce(full_name,''), coalesce(avatar_url,''), role, created_at from profiles where id=$1`, id).
		Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.Role, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (s *Postgres) AddMember(ctx context.Context, m domain.Member) error {
	_, err := s.db.ExecContext(ctx,
		`insert into project_members(project_id, user_id, role, created_at) values($1,$2,$3,$4)
		 on conflict(project_id, user_id) do update set role=excluded.role`,
		m.ProjectID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func (s *Postgres) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`select project_id, user_id, role, created_at from project_members where project_id=$1 order by created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Postgres) MemberRole(ctx context.Context, projectID, userID string) (domain.Role, error) {
	var role domain.Role
	err := s.db.QueryRowContext(ctx,
		`select role from project_members where project_id=$1 and user_id=$2`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (s *Postgres) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`insert into api_keys(id, user_id, name, key_hash, created_at) values($1,$2,nullif($3,''),$4,$5)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.CreatedAt)
	return err
}

func (s *Postgres) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, coalesce(name,''), key_hash, created_at from api_keys where key_hash=$1 limit 1`, hash).
		Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	return k, err
}

func (s *Postgres) AppendEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	_, err := tx.ExecContext(ctx,
		`insert into events(ts, type, project_id, actor_id, payload_json) values($1,$2,nullif($3,''),$4,$5)`,
		ev.TS, ev.Type, ev.ProjectID, ev.ActorID, ev.Payload)
	return err
}

func (s *Postgres) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `select id, ts, type, coalesce(project_id,''), actor_id, payload_json from events`
	args := []any{}
	if projectID != "" {
		query += ` where project_id=$1 order by id desc limit $2`
		args = append(args, projectID, limit)
	} else {
		query += ` order by id desc limit $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProjectID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *Postgres) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, ts, type, coalesce(project_id,''), actor_id, payload_json from events where id>$1 order by id asc limit $2`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProjectID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *Postgres) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `select coalesce(max(id),0) from events`).Scan(&id)
	return id, err
}
