package tempaccess

import (
	"context"
	"fmt"
)

// AppendAudit records an administrative action against a grant.
func (s *GrantStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit retrieves audit entries, optionally filtered by actor or grant.
func (s *GrantStore) ListAudit(ctx context.Context, actor, grantID string) ([]AuditEntry, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if actor != "" {
		query = query.Where("actor = ?", actor)
	}
	if grantID != "" {
		query = query.Where("grant_id = ?", grantID)
	}

	var entries []AuditEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch audit entries: %w", err)
	}
	return entries, nil
}
