package tempaccess

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultLockoutThreshold is the number of consecutive failed logins
	// that forces a grant inactive.
	DefaultLockoutThreshold = 3

	minExpirationDays = 1
	maxExpirationDays = 90

	credentialLength = 16
)

// Credential character classes. Ambiguous glyphs (O/0, l/1) are left out.
const (
	credUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	credLower   = "abcdefghijkmnopqrstuvwxyz"
	credDigits  = "23456789"
	credSymbols = "!@#$%^&*"
)

// GrantSpec is the input for creating a grant.
type GrantSpec struct {
	Username       string         `json:"username"`
	FullName       string         `json:"fullName"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone,omitempty"`
	Company        string         `json:"company,omitempty"`
	Role           Role           `json:"role"`
	AccessLevel    AccessLevel    `json:"accessLevel"`
	ExpirationDays int            `json:"expirationDays"`
	Notes          string         `json:"notes,omitempty"`

	// Permissions optionally overrides the catalog row for the role. The
	// override is captured at creation time like any other snapshot.
	Permissions *PermissionSet `json:"permissions,omitempty"`
}

// Lifecycle enforces the grant state machine over a Store.
type Lifecycle struct {
	store            Store
	log              *zap.SugaredLogger
	lockoutThreshold int
	now              func() time.Time
}

// NewLifecycle builds a Lifecycle. A zero lockoutThreshold falls back to
// DefaultLockoutThreshold; a nil clock falls back to time.Now.
func NewLifecycle(store Store, log *zap.SugaredLogger, lockoutThreshold int, now func() time.Time) *Lifecycle {
	if lockoutThreshold <= 0 {
		lockoutThreshold = DefaultLockoutThreshold
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Lifecycle{
		store:            store,
		log:              log,
		lockoutThreshold: lockoutThreshold,
		now:              now,
	}
}

// Create validates the spec, snapshots the permission set, generates a
// one-time credential and persists the grant. The plaintext credential is
// returned exactly once; only its bcrypt hash is stored.
func (l *Lifecycle) Create(ctx context.Context, actor string, spec GrantSpec) (*AccessGrant, string, error) {
	if strings.TrimSpace(spec.Username) == "" ||
		strings.TrimSpace(spec.FullName) == "" ||
		strings.TrimSpace(spec.Email) == "" {
		return nil, "", fmt.Errorf("%w: username, full name and email are required", ErrInvalidInput)
	}
	if !spec.Role.Valid() {
		return nil, "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, spec.Role)
	}
	if !spec.AccessLevel.Valid() {
		return nil, "", fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, spec.AccessLevel)
	}
	if spec.ExpirationDays < minExpirationDays || spec.ExpirationDays > maxExpirationDays {
		return nil, "", fmt.Errorf("%w: expiration must be between %d and %d days",
			ErrInvalidInput, minExpirationDays, maxExpirationDays)
	}

	permissions := DerivePermissions(spec.Role)
	if spec.Permissions != nil {
		permissions = *spec.Permissions
	}

	credential, err := generateCredential(credentialLength)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash credential: %w", err)
	}

	now := l.now()
	grant := &AccessGrant{
		ID:             uuid.NewString(),
		Username:       spec.Username,
		FullName:       spec.FullName,
		Email:          spec.Email,
		Phone:          spec.Phone,
		Company:        spec.Company,
		Role:           spec.Role,
		AccessLevel:    spec.AccessLevel,
		Permissions:    permissions,
		CredentialHash: string(hash),
		CreatedBy:      actor,
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, spec.ExpirationDays),
		IsActive:       true,
		Notes:          spec.Notes,
		Version:        1,
	}

	if err := l.store.Create(ctx, grant); err != nil {
		l.audit(ctx, actor, "create_grant", "", spec.Username, false)
		return nil, "", err
	}

	l.audit(ctx, actor, "create_grant", grant.ID, spec.Username, true)
	return grant, credential, nil
}

// Revoke flips the grant administratively inactive. Revoking an
// already-revoked grant is a no-op returning the current state.
func (l *Lifecycle) Revoke(ctx context.Context, actor, id string) (*AccessGrant, error) {
	grant, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !grant.IsActive {
		return grant, nil
	}

	updated, err := l.store.Update(ctx, id, func(g *AccessGrant) error {
		g.IsActive = false
		return nil
	})
	if err != nil {
		l.audit(ctx, actor, "revoke_grant", id, "", false)
		return nil, err
	}

	l.audit(ctx, actor, "revoke_grant", id, "", true)
	return updated, nil
}

// Reactivate re-enables a revoked grant and resets its failed-login
// counter. A time-expired grant cannot be resurrected this way; it must be
// extended first.
func (l *Lifecycle) Reactivate(ctx context.Context, actor, id string) (*AccessGrant, error) {
	updated, err := l.store.Update(ctx, id, func(g *AccessGrant) error {
		if l.now().After(g.ExpiresAt) {
			return ErrGrantExpired
		}
		g.IsActive = true
		g.LoginAttempts = 0
		return nil
	})
	if err != nil {
		l.audit(ctx, actor, "reactivate_grant", id, "", false)
		return nil, err
	}

	l.audit(ctx, actor, "reactivate_grant", id, "", true)
	return updated, nil
}

// Extend moves the expiry forward by the given number of days. It is
// allowed in any status: extending an expired grant makes it eligible for
// reactivation but does not flip IsActive by itself.
func (l *Lifecycle) Extend(ctx context.Context, actor, id string, days int) (*AccessGrant, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: extension days must be positive", ErrInvalidInput)
	}

	updated, err := l.store.Update(ctx, id, func(g *AccessGrant) error {
		g.ExpiresAt = g.ExpiresAt.AddDate(0, 0, days)
		// The new expiry window gets its own notification when it lapses.
		g.ExpiryNotifiedAt = nil
		return nil
	})
	if err != nil {
		l.audit(ctx, actor, "extend_grant", id, fmt.Sprintf("+%dd", days), false)
		return nil, err
	}

	l.audit(ctx, actor, "extend_grant", id, fmt.Sprintf("+%dd", days), true)
	return updated, nil
}

// RecordFailedLogin bumps the failed-attempt counter. Crossing the lockout
// threshold auto-revokes the grant and surfaces ErrLockedOut to the login
// caller.
func (l *Lifecycle) RecordFailedLogin(ctx context.Context, id string) (*AccessGrant, error) {
	lockedOut := false
	updated, err := l.store.Update(ctx, id, func(g *AccessGrant) error {
		g.LoginAttempts++
		if g.LoginAttempts >= l.lockoutThreshold {
			g.IsActive = false
			lockedOut = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lockedOut {
		l.audit(ctx, updated.Username, "lockout", id,
			fmt.Sprintf("%d failed attempts", updated.LoginAttempts), true)
		return updated, ErrLockedOut
	}
	return updated, nil
}

// Delete hard-removes the grant and its session history, regardless of
// status. There is no undo.
func (l *Lifecycle) Delete(ctx context.Context, actor, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		l.audit(ctx, actor, "delete_grant", id, "", false)
		return err
	}

	l.audit(ctx, actor, "delete_grant", id, "", true)
	return nil
}

// Authenticate verifies a grantee's username and credential. Failures are
// counted toward lockout; a grant that is not effectively ACTIVE cannot
// log in even with a correct credential.
func (l *Lifecycle) Authenticate(ctx context.Context, username, credential string) (*AccessGrant, error) {
	grant, err := l.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if grant.Status(l.now()) != StatusActive {
		return nil, ErrGrantNotUsable
	}

	if err := bcrypt.CompareHashAndPassword([]byte(grant.CredentialHash), []byte(credential)); err != nil {
		if _, ferr := l.RecordFailedLogin(ctx, grant.ID); errors.Is(ferr, ErrLockedOut) {
			return nil, ErrLockedOut
		}
		return nil, ErrUnauthorized
	}

	login := l.now()
	updated, err := l.store.Update(ctx, grant.ID, func(g *AccessGrant) error {
		g.LastLogin = &login
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// audit records an administrative action; failures are logged and never
// block the operation itself.
func (l *Lifecycle) audit(ctx context.Context, actor, action, grantID, detail string, success bool) {
	entry := &AuditEntry{
		Actor:     actor,
		Action:    action,
		GrantID:   grantID,
		Detail:    detail,
		Success:   success,
		CreatedAt: l.now(),
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		l.log.Warnw("failed to record audit entry", "action", action, "grant", grantID, "error", err)
	}
}

// generateCredential produces a cryptographically random credential that
// contains at least one character from each class.
func generateCredential(length int) (string, error) {
	alphabet := credUpper + credLower + credDigits + credSymbols
	buf := make([]byte, length)
	for {
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return "", err
			}
			buf[i] = alphabet[n.Int64()]
		}
		s := string(buf)
		if strings.ContainsAny(s, credUpper) &&
			strings.ContainsAny(s, credLower) &&
			strings.ContainsAny(s, credDigits) &&
			strings.ContainsAny(s, credSymbols) {
			return s, nil
		}
	}
}
