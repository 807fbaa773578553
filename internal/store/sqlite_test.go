package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"phaseline/internal/domain"
	"phaseline/internal/migrate"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLite(conn)
}

func inTx(t *testing.T, s *SQLite, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := s.DB().BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx fn: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func sampleProject(id string) domain.Project {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	return domain.Project{
		ID:               id,
		Name:             "sample",
		Deadline:         now.AddDate(0, 1, 0),
		Status:           domain.StatusTodo,
		Phase:            domain.PhaseDev,
		Progress:         25,
		RequiresApproval: true,
		OwnerID:          "alice",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	inTxErr := func(fn func(tx *sql.Tx) error) error {
		tx, err := s.DB().BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		return fn(tx)
	}
	if err := inTxErr(func(tx *sql.Tx) error {
		return s.UpdateProject(ctx, tx, sampleProject("missing"))
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: %v", err)
	}
	if err := inTxErr(func(tx *sql.Tx) error {
		return s.DeleteProject(ctx, tx, "missing")
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: %v", err)
	}
}

func TestProjectNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := sampleProject("p1")
	inTx(t, s, func(tx *sql.Tx) error { return s.InsertProject(ctx, tx, p) })

	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "" || got.CurrentTransitionID != nil {
		t.Fatalf("expected empty optionals, got %+v", got)
	}

	trID := "tr-1"
	got.Description = "filled in"
	got.CurrentTransitionID = &trID
	inTx(t, s, func(tx *sql.Tx) error { return s.UpdateProject(ctx, tx, got) })

	got, err = s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Description != "filled in" || got.CurrentTransitionID == nil || *got.CurrentTransitionID != "tr-1" {
		t.Fatalf("optionals lost: %+v", got)
	}
}

func TestMemberRoleAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inTx(t, s, func(tx *sql.Tx) error { return s.InsertProject(ctx, tx, sampleProject("p1")) })

	if _, err := s.MemberRole(ctx, "p1", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	m := domain.Member{ProjectID: "p1", UserID: "bob", Role: domain.RoleViewer, CreatedAt: time.Now().UTC()}
	if err := s.AddMember(ctx, m); err != nil {
		t.Fatalf("add: %v", err)
	}
	// adding again with a new role updates in place
	m.Role = domain.RoleAdmin
	if err := s.AddMember(ctx, m); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	role, err := s.MemberRole(ctx, "p1", "bob")
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != domain.RoleAdmin {
		t.Fatalf("role = %s, want admin", role)
	}
	members, err := s.ListMembers(ctx, "p1")
	if err != nil || len(members) != 1 {
		t.Fatalf("members = %v, err %v", members, err)
	}
}

func TestProfileUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := domain.Profile{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember, CreatedAt: time.Now().UTC()}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p.FullName = "User One"
	p.Role = domain.RoleAdmin
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName != "User One" || got.Role != domain.RoleAdmin {
		t.Fatalf("upsert lost fields: %+v", got)
	}
}

func TestAPIKeyLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := HashAPIKey("raw-secret")
	k := domain.APIKey{ID: "k1", UserID: "alice", Name: "ci", KeyHash: hash, CreatedAt: time.Now().UTC()}
	if err := s.InsertAPIKey(ctx, k); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "alice" {
		t.Fatalf("user = %q", got.UserID)
	}
	if _, err := s.GetAPIKeyByHash(ctx, HashAPIKey("wrong")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventCursors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inTx(t, s, func(tx *sql.Tx) error { return s.InsertProject(ctx, tx, sampleProject("p1")) })

	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		inTx(t, s, func(tx *sql.Tx) error {
			return s.AppendEvent(ctx, tx, domain.Event{
				TS: ts, Type: fmt.Sprintf("type.%d", i), ProjectID: "p1", ActorID: "alice", Payload: "{}",
			})
		})
	}

	latest, err := s.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 3 {
		t.Fatalf("latest = %d", latest)
	}

	after, err := s.EventsAfter(ctx, 1, 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after) != 2 || after[0].ID != 2 || after[1].ID != 3 {
		t.Fatalf("cursor read wrong: %+v", after)
	}

	recent, err := s.ListEvents(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != 3 {
		t.Fatalf("expected newest first, got %+v", recent)
	}
}

func TestTransitionOrderOnTiedTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *sql.Tx) error {
		return s.InsertProject(ctx, tx, sampleProject("p1"))
	})

	at := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	// ids chosen so lexical order disagrees with insertion order
	for _, id := range []string{"zz-first", "aa-second", "mm-third"} {
		tr := domain.PhaseTransition{
			ID:          id,
			ProjectID:   "p1",
			ToPhase:     domain.PhaseInt,
			Status:      domain.TransitionApproved,
			RequestedBy: "alice",
			RequestedAt: at,
		}
		inTx(t, s, func(tx *sql.Tx) error {
			return s.InsertTransition(ctx, tx, tr)
		})
	}

	history, err := s.ListTransitions(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	want := []string{"mm-third", "aa-second", "zz-first"}
	for i, id := range want {
		if history[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, history[i].ID, id)
		}
	}
}
