// Package sink implements the Snapshot+Asset Sink of spec.md §4.D: for each
// record, emit one snapshot row (scoped to the scan) and upsert one asset
// row (scoped to the target) following the field-merge policy of §3. It is
// new domain code — no teacher file processes DB rows directly — grounded
// on the upsert pattern in evalgo-org-eve/db/postgres.go's
// PGRabbitLogUpdate, generalized to GORM's clause.OnConflict.
package sink

import (
	"context"
	"log/slog"

	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
	"github.com/surfacectl/scanhub/internal/writer"
	domainerrors "github.com/surfacectl/scanhub/pkg/domain/errors"
)

// ScanChecker answers whether a scan is still visible (not soft-deleted),
// consulted before every write per §4.D's "scan still exists" guard.
type ScanChecker interface {
	IsSoftDeleted(ctx context.Context, scanID string) (bool, error)
}

// Sink holds the shared dependencies every per-kind sink needs.
type Sink struct {
	db     *store.DB
	scans  ScanChecker
	logger *slog.Logger
}

// New constructs a Sink.
func New(db *store.DB, scans ScanChecker, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{db: db, scans: scans, logger: logger}
}

// guard checks the scan is alive before writing a batch; on soft-delete it
// logs and reports a no-op success (the batch is dropped silently, per §4.D
// and the "Scan soft-deleted mid-run" row of §7's error table).
func (s *Sink) guard(ctx context.Context, scanID string) (bool, error) {
	deleted, err := s.scans.IsSoftDeleted(ctx, scanID)
	if err != nil {
		return false, domainerrors.New(domainerrors.CodeTransientStorage, "sink", "check scan soft-delete", err)
	}
	if deleted {
		s.logger.Info("sink: dropping batch for soft-deleted scan", "scan_id", scanID)
		return false, nil
	}
	return true, nil
}

func wrapFlushErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return &writer.DataIntegrityError{Err: err}
	}
	return &writer.TransientError{Err: err}
}

// isUniqueViolation is a best-effort classifier shared across dialects
// (Postgres pq/pgx error codes, sqlite's "UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "unique constraint", "UNIQUE constraint", "duplicate key", "23505")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// dedupeLastWins deduplicates a batch by natural key, keeping the last
// occurrence, per spec.md §9's "natural-key deduplication inside one batch".
func dedupeLastWins[T any](items []T, key func(T) string) []T {
	idx := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for i, it := range items {
		k := key(it)
		if _, ok := idx[k]; !ok {
			order = append(order, k)
		}
		idx[k] = i
	}
	out := make([]T, 0, len(order))
	for _, k := range order {
		out = append(out, items[idx[k]])
	}
	return out
}

func onConflictUpdate(cols []clause.Column, updates []string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   cols,
		DoUpdates: clause.AssignmentColumns(updates),
	}
}

func onConflictIgnore(cols []clause.Column) clause.OnConflict {
	return clause.OnConflict{
		Columns:   cols,
		DoNothing: true,
	}
}
