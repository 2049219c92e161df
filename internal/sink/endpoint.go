package sink

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// EndpointSink implements writer.Sink[EndpointRecord].
type EndpointSink struct{ *Sink }

// Endpoints returns an EndpointSink bound to this Sink's dependencies.
func (s *Sink) Endpoints() *EndpointSink { return &EndpointSink{s} }

// Flush mirrors WebSiteSink.Flush with the added MatchedPatterns union.
func (s *EndpointSink) Flush(ctx context.Context, batch []EndpointRecord) error {
	if len(batch) == 0 {
		return nil
	}
	alive, err := s.guard(ctx, batch[0].ScanID)
	if err != nil {
		return wrapFlushErr(err)
	}
	if !alive {
		return nil
	}

	batch = dedupeLastWins(batch, func(r EndpointRecord) string { return r.TargetID + "\x00" + r.URL })
	now := time.Now()

	snaps := make([]store.EndpointSnapshot, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.EndpointSnapshot{
			ID:              newID(),
			ScanID:          r.ScanID,
			URL:             r.URL,
			SiteFields:      fieldsFromRecord(r.SiteRecord),
			MatchedPatterns: store.StringSlice(r.MatchedPatterns),
			CreatedAt:       now,
		})
	}
	if err := s.db.WithContext(ctx).
		Clauses(onConflictIgnore([]clause.Column{{Name: "scan_id"}, {Name: "url"}})).
		Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range batch {
			if err := upsertEndpoint(tx, r, now); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapFlushErr(err)
}

// upsertEndpoint mirrors upsertWebsite's lost-race handling: retry as
// re-fetch+merge+Save instead of surfacing the unique violation as a
// batch-wide integrity error.
func upsertEndpoint(tx *gorm.DB, r EndpointRecord, now time.Time) error {
	var existing store.Endpoint
	err := tx.Where("target_id = ? AND url = ?", r.TargetID, r.URL).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		e := store.Endpoint{ID: newID(), TargetID: r.TargetID, URL: r.URL, CreatedAt: now, UpdatedAt: now}
		e.SiteFields = mergedSiteFields(store.SiteFields{}, r.SiteRecord, true)
		e.MatchedPatterns = store.StringSlice(r.MatchedPatterns)
		if err := tx.Create(&e).Error; err != nil {
			if isUniqueViolation(err) {
				return mergeExistingEndpoint(tx, r, now)
			}
			return err
		}
		return nil
	case err != nil:
		return err
	default:
		existing.SiteFields = mergedSiteFields(existing.SiteFields, r.SiteRecord, false)
		existing.MatchedPatterns = existing.MatchedPatterns.Union(r.MatchedPatterns)
		existing.UpdatedAt = now
		return tx.Save(&existing).Error
	}
}

// mergeExistingEndpoint re-fetches the row a concurrent transaction just
// won the insert race for and applies this record's fields on top of it.
func mergeExistingEndpoint(tx *gorm.DB, r EndpointRecord, now time.Time) error {
	var existing store.Endpoint
	if err := tx.Where("target_id = ? AND url = ?", r.TargetID, r.URL).First(&existing).Error; err != nil {
		return err
	}
	existing.SiteFields = mergedSiteFields(existing.SiteFields, r.SiteRecord, false)
	existing.MatchedPatterns = existing.MatchedPatterns.Union(r.MatchedPatterns)
	existing.UpdatedAt = now
	return tx.Save(&existing).Error
}
