package tempaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// updateRetries bounds the read-mutate-write cycle under version conflicts.
const updateRetries = 3

// GrantFilter narrows List results. Zero values mean "no filter".
type GrantFilter struct {
	Role   Role
	Status GrantStatus
	Search string
}

// Store is the persistence boundary for grants, their session history and
// the audit trail. The production implementation is GrantStore; tests use
// an in-memory double.
type Store interface {
	Create(ctx context.Context, grant *AccessGrant) error
	Get(ctx context.Context, id string) (*AccessGrant, error)
	GetByUsername(ctx context.Context, username string) (*AccessGrant, error)
	Update(ctx context.Context, id string, mutate func(*AccessGrant) error) (*AccessGrant, error)
	List(ctx context.Context, filter GrantFilter) ([]AccessGrant, error)
	Delete(ctx context.Context, id string) error

	AppendSession(ctx context.Context, record *SessionRecord) error
	CloseSession(ctx context.Context, sessionID string, logoutTime time.Time) (*SessionRecord, error)
	Sessions(ctx context.Context, grantID string) ([]SessionRecord, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, actor, grantID string) ([]AuditEntry, error)

	ExpiredUnnotified(ctx context.Context, now time.Time) ([]AccessGrant, error)
}

// GrantStore is the postgres-backed Store with an optional redis
// read-through cache in front of Get and List.
type GrantStore struct {
	db          *gorm.DB
	redisClient *redis.Client
	cacheTTL    time.Duration
	cachePrefix string
	now         func() time.Time
}

// NewGrantStore builds a GrantStore. redisClient may be nil, which
// disables caching.
func NewGrantStore(db *gorm.DB, redisClient *redis.Client, cacheTTL time.Duration, cachePrefix string, now func() time.Time) *GrantStore {
	if cachePrefix == "" {
		cachePrefix = "tempaccess:"
	}
	if now == nil {
		now = time.Now
	}
	return &GrantStore{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		cachePrefix: cachePrefix,
		now:         now,
	}
}

// Create persists a new grant. Usernames must be unique among non-deleted
// grants; a deleted grant's username may be reissued.
func (s *GrantStore) Create(ctx context.Context, grant *AccessGrant) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AccessGrant{}).
		Where("username = ?", grant.Username).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if count > 0 {
		return ErrUsernameTaken
	}

	if grant.Version == 0 {
		grant.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	s.invalidateGrant(ctx, grant.ID)
	return nil
}

// Get retrieves a grant by id.
func (s *GrantStore) Get(ctx context.Context, id string) (*AccessGrant, error) {
	if cached, ok := s.cachedGrant(ctx, id); ok {
		return cached, nil
	}

	var grant AccessGrant
	if err := s.db.WithContext(ctx).First(&grant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch grant: %w", err)
	}

	s.cacheGrant(ctx, &grant)
	return &grant, nil
}

// GetByUsername retrieves a grant by username. It always hits the
// database: the login path must never act on a stale copy.
func (s *GrantStore) GetByUsername(ctx context.Context, username string) (*AccessGrant, error) {
	var grant AccessGrant
	if err := s.db.WithContext(ctx).First(&grant, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch grant: %w", err)
	}
	return &grant, nil
}

// Update applies mutate under an optimistic-concurrency check on the
// version column. On a version mismatch it re-reads and retries; after
// updateRetries attempts it surfaces ErrVersionConflict.
func (s *GrantStore) Update(ctx context.Context, id string, mutate func(*AccessGrant) error) (*AccessGrant, error) {
	for attempt := 0; attempt < updateRetries; attempt++ {
		var grant AccessGrant
		if err := s.db.WithContext(ctx).First(&grant, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to fetch grant: %w", err)
		}

		current := grant.Version
		if err := mutate(&grant); err != nil {
			return nil, err
		}

		res := s.db.WithContext(ctx).Model(&AccessGrant{}).
			Where("id = ? AND version = ?", id, current).
			Updates(map[string]interface{}{
				"is_active":          grant.IsActive,
				"expires_at":         grant.ExpiresAt,
				"login_attempts":     grant.LoginAttempts,
				"last_login":         grant.LastLogin,
				"notes":              grant.Notes,
				"expiry_notified_at": grant.ExpiryNotifiedAt,
				"version":            current + 1,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update grant: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			grant.Version = current + 1
			s.invalidateGrant(ctx, id)
			return &grant, nil
		}
		// Lost the race; retry against the fresh version.
	}
	return nil, ErrVersionConflict
}

// List returns grants matching the filter, newest first. The status filter
// is evaluated against the derived status at call time; EXPIRED is never a
// stored flag.
func (s *GrantStore) List(ctx context.Context, filter GrantFilter) ([]AccessGrant, error) {
	if cached, ok := s.cachedList(ctx, filter); ok {
		return cached, nil
	}

	query := s.db.WithContext(ctx).Model(&AccessGrant{}).Order("created_at DESC")
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	switch filter.Status {
	case StatusRevoked:
		query = query.Where("is_active = ?", false)
	case StatusActive:
		query = query.Where("is_active = ? AND expires_at >= ?", true, s.now())
	case StatusExpired:
		query = query.Where("is_active = ? AND expires_at < ?", true, s.now())
	}
	if filter.Search != "" {
		term := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where(
			"LOWER(full_name) LIKE ? OR LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(company) LIKE ?",
			term, term, term, term)
	}

	var grants []AccessGrant
	if err := query.Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	s.cacheList(ctx, filter, grants)
	return grants, nil
}

// Delete hard-removes a grant and its whole session history. This is
// irreversible, unlike revocation.
func (s *GrantStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&AccessGrant{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if err := s.db.WithContext(ctx).Delete(&SessionRecord{}, "grant_id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete session history: %w", err)
	}

	s.invalidateGrant(ctx, id)
	return nil
}

// AppendSession appends a session record to a grant's history.
func (s *GrantStore) AppendSession(ctx context.Context, record *SessionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append session: %w", err)
	}
	return nil
}

// CloseSession stamps the logout time and duration on an open session.
// Closed records are append-only and cannot be touched again.
func (s *GrantStore) CloseSession(ctx context.Context, sessionID string, logoutTime time.Time) (*SessionRecord, error) {
	var record SessionRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	if record.Closed() {
		return nil, ErrSessionClosed
	}

	duration := int64(logoutTime.Sub(record.LoginTime).Seconds())
	record.LogoutTime = &logoutTime
	record.DurationSecs = &duration
	if err := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("id = ? AND logout_time IS NULL", sessionID).
		Updates(map[string]interface{}{
			"logout_time":   logoutTime,
			"duration_secs": duration,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	return &record, nil
}

// Sessions returns the full session history for a grant, oldest first.
func (s *GrantStore) Sessions(ctx context.Context, grantID string) ([]SessionRecord, error) {
	var records []SessionRecord
	if err := s.db.WithContext(ctx).
		Where("grant_id = ?", grantID).
		Order("login_time ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch session history: %w", err)
	}
	return records, nil
}

// ExpiredUnnotified returns administratively-enabled grants whose expiry
// has elapsed and for which no expiry event has been emitted yet.
func (s *GrantStore) ExpiredUnnotified(ctx context.Context, now time.Time) ([]AccessGrant, error) {
	var grants []AccessGrant
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at < ? AND expiry_notified_at IS NULL", true, now).
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch expired grants: %w", err)
	}
	return grants, nil
}
