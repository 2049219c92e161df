package sink

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// SubdomainSink implements writer.Sink[SubdomainRecord].
type SubdomainSink struct{ *Sink }

// Subdomains returns a SubdomainSink bound to this Sink's dependencies.
func (s *Sink) Subdomains() *SubdomainSink { return &SubdomainSink{s} }

// Flush writes one snapshot row per record (insert-ignore-on-conflict) and
// upserts one asset row per record (insert-on-conflict-do-nothing, since
// Subdomain has no mutable fields beyond its natural key).
func (s *SubdomainSink) Flush(ctx context.Context, batch []SubdomainRecord) error {
	if len(batch) == 0 {
		return nil
	}
	scanID := batch[0].ScanID
	alive, err := s.guard(ctx, scanID)
	if err != nil {
		return wrapFlushErr(err)
	}
	if !alive {
		return nil
	}

	batch = dedupeLastWins(batch, func(r SubdomainRecord) string { return r.TargetID + "\x00" + r.Name })
	now := time.Now()

	snaps := make([]store.SubdomainSnapshot, 0, len(batch))
	assets := make([]store.Subdomain, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.SubdomainSnapshot{
			ID: newID(), ScanID: r.ScanID, Name: r.Name, CreatedAt: now,
		})
		assets = append(assets, store.Subdomain{
			ID: newID(), TargetID: r.TargetID, Name: r.Name, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err := s.db.WithContext(ctx).
		Clauses(onConflictIgnore([]clause.Column{{Name: "scan_id"}, {Name: "name"}})).
		Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}
	if err := s.db.WithContext(ctx).
		Clauses(onConflictIgnore([]clause.Column{{Name: "target_id"}, {Name: "name"}})).
		Create(&assets).Error; err != nil {
		return wrapFlushErr(err)
	}
	return nil
}
