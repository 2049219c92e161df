package sink

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// DirectorySink implements writer.Sink[DirectoryRecord].
type DirectorySink struct{ *Sink }

// Directories returns a DirectorySink bound to this Sink's dependencies.
func (s *Sink) Directories() *DirectorySink { return &DirectorySink{s} }

// Flush writes one snapshot row per record and upserts the asset row,
// overwriting the probe fields unconditionally: a directory hit re-probed in
// a later scan reflects the target's current state, there's nothing to union.
func (s *DirectorySink) Flush(ctx context.Context, batch []DirectoryRecord) error {
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

	batch = dedupeLastWins(batch, func(r DirectoryRecord) string { return r.TargetID + "\x00" + r.URL })
	now := time.Now()

	snaps := make([]store.DirectorySnapshot, 0, len(batch))
	assets := make([]store.Directory, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.DirectorySnapshot{
			ID:            newID(),
			ScanID:        r.ScanID,
			URL:           r.URL,
			StatusCode:    r.StatusCode,
			ContentLength: r.ContentLength,
			WordCount:     r.WordCount,
			LineCount:     r.LineCount,
			ContentType:   r.ContentType,
			LatencyMillis: r.LatencyMillis,
			CreatedAt:     now,
		})
		assets = append(assets, store.Directory{
			ID:            newID(),
			TargetID:      r.TargetID,
			URL:           r.URL,
			StatusCode:    r.StatusCode,
			ContentLength: r.ContentLength,
			WordCount:     r.WordCount,
			LineCount:     r.LineCount,
			ContentType:   r.ContentType,
			LatencyMillis: r.LatencyMillis,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	snapCols := []clause.Column{{Name: "scan_id"}, {Name: "url"}}
	if err := s.db.WithContext(ctx).Clauses(onConflictIgnore(snapCols)).Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}

	assetCols := []clause.Column{{Name: "target_id"}, {Name: "url"}}
	updateCols := []string{"status_code", "content_length", "word_count", "line_count", "content_type", "latency_millis", "updated_at"}
	if err := s.db.WithContext(ctx).Clauses(onConflictUpdate(assetCols, updateCols)).Create(&assets).Error; err != nil {
		return wrapFlushErr(err)
	}
	return nil
}
