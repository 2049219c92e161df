package sink

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// VulnerabilitySink implements writer.Sink[VulnerabilityRecord].
type VulnerabilitySink struct{ *Sink }

// Vulnerabilities returns a VulnerabilitySink bound to this Sink's dependencies.
func (s *Sink) Vulnerabilities() *VulnerabilitySink { return &VulnerabilitySink{s} }

// Flush writes one snapshot row and one asset row per record. There is no
// merge policy here: a (target, url, vuln_type, source) natural key that
// already exists is left untouched rather than updated, since a finding's
// severity/description is a property of the source tool's run, not something
// later runs should overwrite in place.
func (s *VulnerabilitySink) Flush(ctx context.Context, batch []VulnerabilityRecord) error {
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

	batch = dedupeLastWins(batch, func(r VulnerabilityRecord) string {
		return r.TargetID + "\x00" + r.URL + "\x00" + r.VulnType + "\x00" + r.Source
	})
	now := time.Now()

	snaps := make([]store.VulnerabilitySnapshot, 0, len(batch))
	assets := make([]store.Vulnerability, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.VulnerabilitySnapshot{
			ID:          newID(),
			ScanID:      r.ScanID,
			URL:         r.URL,
			VulnType:    r.VulnType,
			Source:      r.Source,
			Severity:    r.Severity,
			CVSSScore:   r.CVSSScore,
			Description: r.Description,
			RawOutput:   r.RawOutput,
			CreatedAt:   now,
		})
		assets = append(assets, store.Vulnerability{
			ID:          newID(),
			TargetID:    r.TargetID,
			URL:         r.URL,
			VulnType:    r.VulnType,
			Source:      r.Source,
			Severity:    r.Severity,
			CVSSScore:   r.CVSSScore,
			Description: r.Description,
			RawOutput:   r.RawOutput,
			CreatedAt:   now,
		})
	}

	snapCols := []clause.Column{{Name: "scan_id"}, {Name: "url"}, {Name: "vuln_type"}, {Name: "source"}}
	if err := s.db.WithContext(ctx).Clauses(onConflictIgnore(snapCols)).Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}

	assetCols := []clause.Column{{Name: "target_id"}, {Name: "url"}, {Name: "vuln_type"}, {Name: "source"}}
	if err := s.db.WithContext(ctx).Clauses(onConflictIgnore(assetCols)).Create(&assets).Error; err != nil {
		return wrapFlushErr(err)
	}
	return nil
}
