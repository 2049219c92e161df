package store

import (
	"context"
	"time"
)

// BlacklistStore persists the per-target and global exclusion rules of
// spec.md §4.F.
type BlacklistStore struct {
	db *DB
}

// NewBlacklistStore constructs a BlacklistStore over the given handle.
func NewBlacklistStore(db *DB) *BlacklistStore {
	return &BlacklistStore{db: db}
}

// Create inserts a new rule.
func (s *BlacklistStore) Create(ctx context.Context, r *BlacklistRule) error {
	r.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(r).Error
}

// ForTarget returns every rule that applies to targetID: global rules
// (TargetID IS NULL) plus rules scoped to this target specifically.
func (s *BlacklistStore) ForTarget(ctx context.Context, targetID string) ([]BlacklistRule, error) {
	var rules []BlacklistRule
	err := s.db.WithContext(ctx).
		Where("target_id IS NULL OR target_id = ?", targetID).
		Find(&rules).Error
	return rules, err
}

// Delete removes a rule by id.
func (s *BlacklistStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&BlacklistRule{}, "id = ?", id).Error
}
