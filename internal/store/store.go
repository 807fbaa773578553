package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"phaseline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence adapter. Two implementations exist, one per
// supported backend (SQLite and PostgreSQL); the active one is chosen once
// at startup from configuration and injected into the engine.
//
// Multi-statement writes take a *sql.Tx opened by the caller on DB() so that
// composite operations (project with tasks, transition plus project update)
// commit or roll back as a unit.
type Store interface {
	DB() *sql.DB

	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error
	UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error
	DeleteProject(ctx context.Context, tx *sql.Tx, id string) error

	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error
	UpdateTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error
	DeleteTask(ctx context.Context, tx *sql.Tx, projectID, taskID string) error

	InsertTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error
	UpdateTransition(ctx context.Context, tx *sql.Tx, t domain.PhaseTransition) error
	GetTransition(ctx context.Context, id string) (domain.PhaseTransition, error)
	PendingTransition(ctx context.Context, projectID string) (domain.PhaseTransition, error)
	ListTransitions(ctx context.Context, projectID string) ([]domain.PhaseTransition, error)

	UpsertProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	AddMember(ctx context.Context, m domain.Member) error
	ListMembers(ctx context.Context, projectID string) ([]domain.Member, error)
	MemberRole(ctx context.Context, projectID, userID string) (domain.Role, error)

	InsertAPIKey(ctx context.Context, k domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)

	AppendEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error
	ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error)
	EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
