package store

import (
	"context"
	"database/sql"
	"time"

	"phaseline/internal/domain"
)

// SQLite persists through database/sql with the modernc driver. Timestamps
// are stored as RFC 3339 text.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) DB() *sql.DB { return s.db }

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTS(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStrPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

const projectColumns = `id,name,description,deadline,status,phase,progress,requires_approval,current_transition_id,owner_id,created_at,updated_at`

func scanSQLiteProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var desc, transitionID sql.NullString
	var deadline, createdAt, updatedAt string
	err := scan(&p.ID, &p.Name, &desc, &deadline, &p.Status, &p.Phase, &p.Progress,
		&p.RequiresApproval, &transitionID, &p.OwnerID, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if transitionID.Valid {
		p.CurrentTransitionID = &transitionID.String
	}
	p.Deadline = parseTS(deadline)
	p.CreatedAt = parseTS(createdAt)
	p.UpdatedAt = parseTS(updatedAt)
	return p, nil
}

func (s *SQLite) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanSQLiteProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tasksByProject, err := s.allTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Tasks = tasksByProject[res[i].ID]
	}
	return res, nil
}

func (s *SQLite) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanSQLiteProject(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Tasks, err = s.ListTasks(ctx, id)
	return p, err
}

func (s *SQLite) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullableStr(p.Description), ts(p.Deadline), p.Status, p.Phase, p.Progress,
		p.RequiresApproval, nullableStrPtr(p.CurrentTransitionID), p.OwnerID, ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

func (s *SQLite) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, deadline=?, status=?, phase=?, progress=?, requires_approval=?, current_transition_id=?, updated_at=? WHERE id=?`,
		p.Name, nullableStr(p.Description), ts(p.Deadline), p.Status, p.Phase, p.Progress,
		p.RequiresApproval, nullableStrPtr(p.CurrentTransitionID), ts(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	// tasks and transitions cascade via foreign keys
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id,project_id,name,completed,assigned_to,created_at`

func (s *SQLite) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, _, err := scanSQLiteTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *SQLite) allTasks(ctx context.Context) (map[string][]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]domain.Task{}
	for rows.Next() {
		t, projectID, err := scanSQLiteTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res[projectID] = append(res[projectID], t)
	}
	return res, rows.Err()
}

func scanSQLiteTask(scan func(dest ...any) error) (domain.Task, string, error) {
	var t domain.Task
	var projectID, createdAt string
	var assignedTo sql.NullString
	if err := scan(&t.ID, &projectID, &t.Name, &t.Completed, &assignedTo, &createdAt); err != nil {
		return t, "", err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	t.CreatedAt = parseTS(createdAt)
	return t, projectID, nil
}

func (s *SQLite) InsertTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?)`,
		t.ID, projectID, t.Name, t.Completed, nullableStrPtr(t.AssignedTo), ts(t.CreatedAt))
	return err
}

func (s *SQLite) UpdateTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET name=?, completed=?, assigned_to=? WHERE id=? AND project_id=?`,
		t.Name, t.Completed, nullableStrPtr(t.AssignedTo), t.ID, projectID)
	return err
}

func (s *SQLite) DeleteTask(ctx context.Context, tx *sql.Tx, projectID, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND project_id=?`, taskID, projectID)
	return err
}

const transitionColumns = `id,project_id,from_phase,to_phase,status,requested_by,approved_by,comment,requested_at,reviewed_at`

func scanSQLiteTransition(scan func(dest ...any) error) (domain.PhaseTransition, error) {
	var t domain.PhaseTransition
	var fromPhase, approvedBy, comment, reviewedAt sql.NullString
	var requestedAt string
	err := scan(&t.ID, &t.ProjectID, &fromPhase, &t.ToPhase, &t.Status, &t.RequestedBy,
		&approvedBy, &comment, &requestedAt, &reviewedAt)
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
	if comment.Valid {
		t.Comment = comment.String
	}
	t.RequestedAt = parseTS(requestedAt)
	if reviewedAt.Valid {
		at := parseTS(reviewedAt.String)
		t.ReviewedAt = &at
	}
	return t, nil
}

func (s *SQLite) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error {
	var fromPhase any
	if t.FromPhase != nil {
		fromPhase = string(*t.FromPhase)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO phase_transitions(`+transitionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, fromPhase, t.ToPhase, t.Status, t.RequestedBy,
		nullableStrPtr(t.ApprovedBy), nullableStr(t.Comment), ts(t.RequestedAt), nullableTime(t.ReviewedAt))
	return err
}

func (s *SQLite) UpdateTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error {
	res, err := tx.ExecContext(ctx, `UPDATE phase_transitions SET status=?, approved_by=?, comment=?, reviewed_at=? WHERE id=?`,
		t.Status, nullableStrPtr(t.ApprovedBy), nullableStr(t.Comment), nullableTime(t.ReviewedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetTransition(ctx context.Context, id string) (domain.PhaseTransition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM phase_transitions WHERE id=?`, id)
	t, err := scanSQLiteTransition(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (s *SQLite) PendingTransition(ctx context.Context, projectID string) (domain.PhaseTransition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM phase_transitions WHERE project_id=? AND status='pending' LIMIT 1`, projectID)
	t, err := scanSQLiteTransition(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (s *SQLite) ListTransitions(ctx context.Context, projectID string) ([]domain.PhaseTransition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM phase_transitions WHERE project_id=? ORDER BY requested_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PhaseTransition
	for rows.Next() {
		t, err := scanSQLiteTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *SQLite) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles(id,email,full_name,avatar_url,role,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, full_name=excluded.full_name, avatar_url=excluded.avatar_url, role=excluded.role`,
		p.ID, p.Email, nullableStr(p.FullName), nullableStr(p.AvatarURL), p.Role, ts(p.CreatedAt))
	return err
}

func (s *SQLite) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	var fullName, avatarURL sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id,email,full_name,avatar_url,role,created_at FROM profiles WHERE id=?`, id).
		Scan(&p.ID, &p.Email, &fullName, &avatarURL, &p.Role, &createdAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if fullName.Valid {
		p.FullName = fullName.String
	}
	if avatarURL.Valid {
		p.AvatarURL = avatarURL.String
	}
	p.CreatedAt = parseTS(createdAt)
	return p, nil
}

func (s *SQLite) AddMember(ctx context.Context, m domain.Member) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`,
		m.ProjectID, m.UserID, m.Role, ts(m.CreatedAt))
	return err
}

func (s *SQLite) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var createdAt string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTS(createdAt)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *SQLite) MemberRole(ctx context.Context, projectID, userID string) (domain.Role, error) {
	var role domain.Role
	err := s.db.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (s *SQLite) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO api_keys(id,user_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		k.ID, k.UserID, nullableStr(k.Name), k.KeyHash, ts(k.CreatedAt))
	return err
}

func (s *SQLite) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	var name sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id,user_id,name,key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash).
		Scan(&k.ID, &k.UserID, &name, &k.KeyHash, &createdAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	if err != nil {
		return k, err
	}
	if name.Valid {
		k.Name = name.String
	}
	k.CreatedAt = parseTS(createdAt)
	return k, nil
}

func (s *SQLite) AppendEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts(ev.TS), ev.Type, nullableStr(ev.ProjectID), ev.ActorID, ev.Payload)
	return err
}

func (s *SQLite) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),actor_id,payload_json FROM events`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.Type, &ev.ProjectID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		ev.TS = parseTS(at)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *SQLite) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(project_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.Type, &ev.ProjectID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		ev.TS = parseTS(at)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *SQLite) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
