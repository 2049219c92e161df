package sink

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// WebSiteSink implements writer.Sink[SiteRecord].
type WebSiteSink struct{ *Sink }

// WebSites returns a WebSiteSink bound to this Sink's dependencies.
func (s *Sink) WebSites() *WebSiteSink { return &WebSiteSink{s} }

// Flush writes one snapshot row per record and upserts one asset row per
// record applying the field-merge policy of §3: tech is set-union, other
// scalar fields overwrite unless the record is FillOnlyIfEmpty (the
// fingerprint stage), in which case they only fill currently-empty columns.
func (s *WebSiteSink) Flush(ctx context.Context, batch []SiteRecord) error {
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

	batch = dedupeLastWins(batch, func(r SiteRecord) string { return r.TargetID + "\x00" + r.URL })
	now := time.Now()

	snaps := make([]store.WebSiteSnapshot, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.WebSiteSnapshot{
			ID:         newID(),
			ScanID:     r.ScanID,
			URL:        r.URL,
			SiteFields: fieldsFromRecord(r),
			CreatedAt:  now,
		})
	}
	if err := s.db.WithContext(ctx).
		Clauses(onConflictIgnore([]clause.Column{{Name: "scan_id"}, {Name: "url"}})).
		Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range batch {
			if err := upsertWebsite(tx, r, now); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapFlushErr(err)
}

func fieldsFromRecord(r SiteRecord) store.SiteFields {
	return store.SiteFields{
		Host:          r.Host,
		Title:         r.Title,
		StatusCode:    r.StatusCode,
		ContentLength: r.ContentLength,
		ContentType:   r.ContentType,
		Server:        r.Server,
		RedirectLoc:   r.RedirectLoc,
		Tech:          store.StringSlice(r.Tech),
		RawHeaders:    r.RawHeaders,
		BodyPreview:   r.BodyPreview,
		VirtualHost:   r.VirtualHost,
	}
}

// upsertWebsite re-fetches and merges on a lost insert race rather than
// letting the unique-index violation surface as a batch-wide integrity
// error: two concurrent first-observations of the same (target_id, url) can
// both miss on First and both attempt Create, the way
// website_repository.py's own bulk_upsert race would if it weren't wrapped
// in a single Django update_conflicts statement. We can't express the
// tech-union / fill-only-if-empty merge policy as a single SQL DoUpdates
// clause, so the loser retries as re-fetch+merge+Save instead.
func upsertWebsite(tx *gorm.DB, r SiteRecord, now time.Time) error {
	var existing store.WebSite
	err := tx.Where("target_id = ? AND url = ?", r.TargetID, r.URL).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		w := store.WebSite{ID: newID(), TargetID: r.TargetID, URL: r.URL, CreatedAt: now, UpdatedAt: now}
		w.SiteFields = mergedSiteFields(store.SiteFields{}, r, true)
		if err := tx.Create(&w).Error; err != nil {
			if isUniqueViolation(err) {
				return mergeExistingWebsite(tx, r, now)
			}
			return err
		}
		return nil
	case err != nil:
		return err
	default:
		existing.SiteFields = mergedSiteFields(existing.SiteFields, r, false)
		existing.UpdatedAt = now
		return tx.Save(&existing).Error
	}
}

// mergeExistingWebsite re-fetches the row a concurrent transaction just
// won the insert race for and applies this record's fields on top of it.
func mergeExistingWebsite(tx *gorm.DB, r SiteRecord, now time.Time) error {
	var existing store.WebSite
	if err := tx.Where("target_id = ? AND url = ?", r.TargetID, r.URL).First(&existing).Error; err != nil {
		return err
	}
	existing.SiteFields = mergedSiteFields(existing.SiteFields, r, false)
	existing.UpdatedAt = now
	return tx.Save(&existing).Error
}

// mergedSiteFields applies the field-merge policy: tech is always a set
// union; other fields overwrite unless the record says fill-only-if-empty,
// in which case they're applied only where the current value is zero.
func mergedSiteFields(cur store.SiteFields, r SiteRecord, isNew bool) store.SiteFields {
	out := cur
	out.Tech = out.Tech.Union(r.Tech)

	fillOnly := r.FillOnlyIfEmpty && !isNew
	setStr := func(dst *string, val string) {
		if val == "" {
			return
		}
		if !fillOnly || *dst == "" {
			*dst = val
		}
	}
	setInt := func(dst *int, val int) {
		if val == 0 {
			return
		}
		if !fillOnly || *dst == 0 {
			*dst = val
		}
	}
	setInt64 := func(dst *int64, val int64) {
		if val == 0 {
			return
		}
		if !fillOnly || *dst == 0 {
			*dst = val
		}
	}

	setStr(&out.Host, r.Host)
	setStr(&out.Title, r.Title)
	setInt(&out.StatusCode, r.StatusCode)
	setInt64(&out.ContentLength, r.ContentLength)
	setStr(&out.ContentType, r.ContentType)
	setStr(&out.Server, r.Server)
	setStr(&out.RedirectLoc, r.RedirectLoc)
	if r.RawHeaders != "" {
		out.RawHeaders = r.RawHeaders
	}
	if r.BodyPreview != "" {
		out.BodyPreview = r.BodyPreview
	}
	if r.VirtualHost {
		out.VirtualHost = true
	}
	return out
}
