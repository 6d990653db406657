package tempaccess

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionRecorder appends login/logout events to a grant's history.
type SessionRecorder struct {
	store Store
	now   func() time.Time
}

// NewSessionRecorder builds a SessionRecorder. A nil clock falls back to
// time.Now.
func NewSessionRecorder(store Store, now func() time.Time) *SessionRecorder {
	if now == nil {
		now = time.Now
	}
	return &SessionRecorder{store: store, now: now}
}

// Open appends an open session record for a grant. The grant must be
// effectively ACTIVE at the time of the call.
func (r *SessionRecorder) Open(ctx context.Context, grantID, sourceAddr, clientID string) (*SessionRecord, error) {
	grant, err := r.store.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant.Status(r.now()) != StatusActive {
		return nil, ErrGrantNotUsable
	}

	record := &SessionRecord{
		ID:         uuid.NewString(),
		GrantID:    grantID,
		LoginTime:  r.now(),
		SourceAddr: sourceAddr,
		ClientID:   clientID,
	}
	if err := r.store.AppendSession(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Close stamps the logout time on an open session and derives its
// duration. Closing an already-closed session fails with
// ErrSessionClosed; a session left open by a crash simply stays open and
// reads as "duration unknown".
func (r *SessionRecorder) Close(ctx context.Context, sessionID string) (*SessionRecord, error) {
	return r.store.CloseSession(ctx, sessionID, r.now())
}

// History returns the grant's full session history, oldest first.
func (r *SessionRecorder) History(ctx context.Context, grantID string) ([]SessionRecord, error) {
	return r.store.Sessions(ctx, grantID)
}
