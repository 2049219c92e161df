package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	domainerrors "github.com/surfacectl/scanhub/pkg/domain/errors"
)

// TargetStore exposes CRUD over Target, the same Create/Get/Update/Delete
// shape the teacher used for session persistence, retargeted at a Target row.
type TargetStore struct {
	db *DB
}

// NewTargetStore constructs a TargetStore over the given handle.
func NewTargetStore(db *DB) *TargetStore {
	return &TargetStore{db: db}
}

// Create inserts a new target. The name-uniqueness invariant of §3 is
// enforced by the partial unique index on (name) WHERE deleted_at IS NULL.
func (s *TargetStore) Create(ctx context.Context, t *Target) error {
	t.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return domainerrors.New(domainerrors.CodeResourceAlreadyExists, "target", "create target", err)
	}
	return nil
}

// Get fetches a non-deleted target by id.
func (s *TargetStore) Get(ctx context.Context, id string) (*Target, error) {
	var t Target
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainerrors.New(domainerrors.CodeResourceNotFound, "target", "target not found: "+id, err)
		}
		return nil, domainerrors.New(domainerrors.CodeInternalError, "target", "get target", err)
	}
	return &t, nil
}

// GetByName fetches a non-deleted target by its unique name.
func (s *TargetStore) GetByName(ctx context.Context, name string) (*Target, error) {
	var t Target
	if err := s.db.WithContext(ctx).First(&t, "name = ?", name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainerrors.New(domainerrors.CodeResourceNotFound, "target", "target not found: "+name, err)
		}
		return nil, domainerrors.New(domainerrors.CodeInternalError, "target", "get target by name", err)
	}
	return &t, nil
}

// Update persists a mutated target.
func (s *TargetStore) Update(ctx context.Context, t *Target) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return domainerrors.New(domainerrors.CodeInternalError, "target", "update target", err)
	}
	return nil
}

// TouchLastScanned records that a scan just started against this target.
func (s *TargetStore) TouchLastScanned(ctx context.Context, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Target{}).Where("id = ?", id).
		Update("last_scanned_at", now).Error
}

// Delete soft-deletes the target (cascade to asset rows is the caller's
// responsibility, per the ownership rule in §3).
func (s *TargetStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Target{}, "id = ?", id).Error; err != nil {
		return domainerrors.New(domainerrors.CodeInternalError, "target", "delete target", err)
	}
	return nil
}
