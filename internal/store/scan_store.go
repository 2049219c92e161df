package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	domainerrors "github.com/surfacectl/scanhub/pkg/domain/errors"
)

// ScanStore exposes CRUD plus the lifecycle transitions over Scan.
type ScanStore struct {
	db *DB
}

// NewScanStore constructs a ScanStore over the given handle.
func NewScanStore(db *DB) *ScanStore {
	return &ScanStore{db: db}
}

// Create inserts a new scan row with status INITIATED (the caller is
// expected to have already set that status on the passed row).
func (s *ScanStore) Create(ctx context.Context, sc *Scan) error {
	sc.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(sc).Error; err != nil {
		return domainerrors.New(domainerrors.CodeResourceAlreadyExists, "scan", "create scan", err)
	}
	return nil
}

// Get fetches a non-deleted scan by id.
func (s *ScanStore) Get(ctx context.Context, id string) (*Scan, error) {
	var sc Scan
	if err := s.db.WithContext(ctx).First(&sc, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainerrors.New(domainerrors.CodeResourceNotFound, "scan", "scan not found: "+id, err)
		}
		return nil, domainerrors.New(domainerrors.CodeInternalError, "scan", "get scan", err)
	}
	return &sc, nil
}

// Update persists a mutated scan row.
func (s *ScanStore) Update(ctx context.Context, sc *Scan) error {
	if err := s.db.WithContext(ctx).Save(sc).Error; err != nil {
		return domainerrors.New(domainerrors.CodeInternalError, "scan", "update scan", err)
	}
	return nil
}

// UpdateStatus performs an allowed status transition. Terminal statuses
// (completed, failed, cancelled) are monotonic: once set they are never
// overwritten by a subsequent call, per §3's invariant.
func (s *ScanStore) UpdateStatus(ctx context.Context, id string, status ScanStatus, errMsg string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sc Scan
		if err := tx.First(&sc, "id = ?", id).Error; err != nil {
			return err
		}
		if isTerminal(sc.Status) {
			return nil
		}
		updates := map[string]interface{}{"status": status}
		if errMsg != "" {
			updates["error_message"] = errMsg
		}
		if isTerminal(status) {
			now := time.Now()
			updates["stopped_at"] = now
		}
		return tx.Model(&Scan{}).Where("id = ?", id).Updates(updates).Error
	})
}

func isTerminal(s ScanStatus) bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	default:
		return false
	}
}

// UpdateProgress stores the current stage name, stage-progress list, and
// overall percentage in one write.
func (s *ScanStore) UpdateProgress(ctx context.Context, id string, currentStage string, stages []StageProgress, percentage int) error {
	return s.db.WithContext(ctx).Model(&Scan{}).Where("id = ?", id).Updates(map[string]interface{}{
		"current_stage":  currentStage,
		"stage_progress": JSON[[]StageProgress]{Val: stages},
		"progress":       percentage,
	}).Error
}

// SetDispatchResult records the worker/container id a dispatch succeeded with.
func (s *ScanStore) SetDispatchResult(ctx context.Context, id, workerID, containerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sc Scan
		if err := tx.First(&sc, "id = ?", id).Error; err != nil {
			return err
		}
		sc.ContainerIDs = append(sc.ContainerIDs, containerID)
		return tx.Model(&Scan{}).Where("id = ?", id).Updates(map[string]interface{}{
			"worker_id":     workerID,
			"container_ids": sc.ContainerIDs,
		}).Error
	})
}

// RefreshCachedCounts recomputes AssetCounts from the live tables (FULL
// mode) or snapshot tables (QUICK mode), run on the RUNNING→COMPLETED
// transition per §4.J.
func (s *ScanStore) RefreshCachedCounts(ctx context.Context, sc *Scan) error {
	var counts AssetCounts
	var subdomains, hostPorts, websites, endpoints, directories int64
	db := s.db.WithContext(ctx)

	if sc.Mode == ModeQuick {
		db.Model(&SubdomainSnapshot{}).Where("scan_id = ?", sc.ID).Count(&subdomains)
		db.Model(&HostPortMappingSnapshot{}).Where("scan_id = ?", sc.ID).Count(&hostPorts)
		db.Model(&WebSiteSnapshot{}).Where("scan_id = ?", sc.ID).Count(&websites)
		db.Model(&EndpointSnapshot{}).Where("scan_id = ?", sc.ID).Count(&endpoints)
		db.Model(&DirectorySnapshot{}).Where("scan_id = ?", sc.ID).Count(&directories)
		s.countSeveritySnapshot(db, sc.ID, &counts)
	} else {
		db.Model(&Subdomain{}).Where("target_id = ?", sc.TargetID).Count(&subdomains)
		db.Model(&HostPortMapping{}).Where("target_id = ?", sc.TargetID).Count(&hostPorts)
		db.Model(&WebSite{}).Where("target_id = ?", sc.TargetID).Count(&websites)
		db.Model(&Endpoint{}).Where("target_id = ?", sc.TargetID).Count(&endpoints)
		db.Model(&Directory{}).Where("target_id = ?", sc.TargetID).Count(&directories)
		s.countSeverity(db, sc.TargetID, &counts)
	}
	counts.Subdomains, counts.HostPorts, counts.Websites = int(subdomains), int(hostPorts), int(websites)
	counts.Endpoints, counts.Directories = int(endpoints), int(directories)

	sc.CachedCounts = JSON[AssetCounts]{Val: counts}
	return db.Model(&Scan{}).Where("id = ?", sc.ID).Update("cached_counts", sc.CachedCounts).Error
}

func countPtr(i *int) *int64 {
	v := int64(*i)
	return &v
}

func (s *ScanStore) countSeverity(db *gorm.DB, targetID string, counts *AssetCounts) {
	rows, err := db.Model(&Vulnerability{}).
		Select("severity, count(*) as n").
		Where("target_id = ?", targetID).
		Group("severity").Rows()
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var sev string
		var n int
		if rows.Scan(&sev, &n) == nil {
			assignSeverity(counts, sev, n)
		}
	}
}

func (s *ScanStore) countSeveritySnapshot(db *gorm.DB, scanID string, counts *AssetCounts) {
	rows, err := db.Model(&VulnerabilitySnapshot{}).
		Select("severity, count(*) as n").
		Where("scan_id = ?", scanID).
		Group("severity").Rows()
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var sev string
		var n int
		if rows.Scan(&sev, &n) == nil {
			assignSeverity(counts, sev, n)
		}
	}
}

func assignSeverity(counts *AssetCounts, sev string, n int) {
	switch Severity(sev) {
	case SeverityCritical:
		counts.VulnCritical = n
	case SeverityHigh:
		counts.VulnHigh = n
	case SeverityMedium:
		counts.VulnMedium = n
	case SeverityLow:
		counts.VulnLow = n
	case SeverityInfo:
		counts.VulnInfo = n
	default:
		counts.VulnUnknown = n
	}
}

// SoftDelete marks scans as deleted (phase one of the two-phase delete).
func (s *ScanStore) SoftDelete(ctx context.Context, ids []string) error {
	return s.db.WithContext(ctx).Delete(&Scan{}, "id IN ?", ids).Error
}

// HardDelete permanently removes soft-deleted scan rows (phase two,
// invoked by a background job per §4.J).
func (s *ScanStore) HardDelete(ctx context.Context, ids []string) error {
	return s.db.WithContext(ctx).Unscoped().Delete(&Scan{}, "id IN ?", ids).Error
}

// ResultsDirs returns each scan's on-disk results directory, including
// soft-deleted rows, so the hard-delete job can remove them from disk before
// the row itself is purged.
func (s *ScanStore) ResultsDirs(ctx context.Context, ids []string) (map[string]string, error) {
	var rows []Scan
	if err := s.db.WithContext(ctx).Unscoped().Select("id", "results_dir").
		Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.ResultsDir
	}
	return out, nil
}

// IsSoftDeleted reports whether the scan is still visible to the sink; used
// by internal/sink to drop late-arriving batches per §4.D.
func (s *ScanStore) IsSoftDeleted(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&Scan{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
