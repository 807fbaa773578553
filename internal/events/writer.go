package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"phaseline/internal/domain"
	"phaseline/internal/store"
)

// Writer appends audit rows inside the caller's transaction so state changes
// and their log entries commit together.
type Writer struct {
	Store store.Store
	Now   func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Store.AppendEvent(ctx, tx, domain.Event{
		TS:        now().UTC(),
		Type:      evtType,
		ProjectID: projectID,
		ActorID:   actorID,
		Payload:   string(data),
	})
}
