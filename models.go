package tempaccess

import (
	"time"
)

// Role is the coarse role assigned to a grant. It is immutable once the
// grant is created; changing a role means revoke + recreate.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleAnalyst   Role = "analyst"
	RoleAdmin     Role = "admin"
	RoleExecutive Role = "executive"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleAnalyst, RoleAdmin, RoleExecutive:
		return true
	}
	return false
}

// AccessLevel is an axis independent of Role, used for coarse UI gating.
type AccessLevel string

const (
	AccessBasic    AccessLevel = "basic"
	AccessAdvanced AccessLevel = "advanced"
	AccessFull     AccessLevel = "full"
)

// Valid reports whether l is one of the known access levels.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessBasic, AccessAdvanced, AccessFull:
		return true
	}
	return false
}

// GrantStatus is the effective status of a grant, always derived from
// (IsActive, ExpiresAt, now) and never stored.
type GrantStatus string

const (
	StatusActive  GrantStatus = "ACTIVE"
	StatusExpired GrantStatus = "EXPIRED"
	StatusRevoked GrantStatus = "REVOKED"
)

// PermissionSet is the fixed set of boolean capabilities a grant carries.
// It is snapshotted from the catalog at creation time and never resynced.
type PermissionSet struct {
	ViewDashboard   bool `json:"viewDashboard"`
	ViewCompanies   bool `json:"viewCompanies"`
	ViewAgents      bool `json:"viewAgents"`
	ManageJobs      bool `json:"manageJobs"`
	ViewAnalytics   bool `json:"viewAnalytics"`
	AccessVault     bool `json:"accessVault"`
	UseVoiceAI      bool `json:"useVoiceAI"`
	DownloadReports bool `json:"downloadReports"`
}

// AccessGrant is a time-bounded, role-scoped grant of access to the
// administrative surface.
type AccessGrant struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Username string `gorm:"index;not null" json:"username"`
	FullName string `gorm:"not null" json:"fullName"`
	Email    string `gorm:"not null" json:"email"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`

	Role        Role          `gorm:"not null" json:"role"`
	AccessLevel AccessLevel   `gorm:"not null" json:"accessLevel"`
	Permissions PermissionSet `gorm:"embedded;embeddedPrefix:perm_" json:"permissions"`

	// CredentialHash is the bcrypt hash of the generated credential. The
	// plaintext is returned exactly once, on creation.
	CredentialHash string `gorm:"not null" json:"-"`

	CreatedBy     string     `gorm:"not null" json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `gorm:"index" json:"expiresAt"`
	IsActive      bool       `json:"isActive"`
	LoginAttempts int        `json:"loginAttempts"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	Notes         string     `json:"notes,omitempty"`

	// ExpiryNotifiedAt records that the sweep already emitted an expiry
	// event for this grant, so restarts do not re-emit.
	ExpiryNotifiedAt *time.Time `json:"-"`

	// Version is the optimistic-concurrency counter; every successful
	// update increments it.
	Version int64 `gorm:"not null;default:1" json:"-"`

	SessionHistory []SessionRecord `gorm:"foreignKey:GrantID;constraint:OnDelete:CASCADE" json:"-"`
}

// Status derives the effective status at the given instant. Revocation
// takes precedence over time-based expiry.
func (g *AccessGrant) Status(now time.Time) GrantStatus {
	if !g.IsActive {
		return StatusRevoked
	}
	if now.After(g.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// SessionRecord is one login/logout entry in a grant's append-only session
// history. A record with a nil LogoutTime is still open; readers treat it
// as historical with unknown duration.
type SessionRecord struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	GrantID    string     `gorm:"index;not null" json:"grantId"`
	LoginTime  time.Time  `gorm:"not null" json:"loginTime"`
	LogoutTime *time.Time `json:"logoutTime,omitempty"`
	SourceAddr string     `json:"sourceAddr"`
	ClientID   string     `json:"clientId"`

	// DurationSecs is computed when the session closes and is nil while
	// the session is open.
	DurationSecs *int64 `json:"durationSecs,omitempty"`
}

// Closed reports whether the session has been closed.
func (s *SessionRecord) Closed() bool { return s.LogoutTime != nil }

// AuditEntry tracks one administrative action against a grant.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Actor     string    `gorm:"index;not null" json:"actor"`
	Action    string    `gorm:"not null" json:"action"`
	GrantID   string    `gorm:"index" json:"grantId"`
	Detail    string    `json:"detail,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt"`
}
