package provider

import (
	"context"

	"gorm.io/gorm"

	"github.com/surfacectl/scanhub/internal/store"
)

// Snapshot is the Snapshot Provider variant: queries the snapshot tables of
// a given scan_id. Blacklist is always nil — snapshots are considered
// already filtered by the stage that produced them (§4.E).
type Snapshot struct {
	db         *store.DB
	scanID     string
	targetName string
}

// NewSnapshot constructs a Snapshot provider bound to one scan.
func NewSnapshot(db *store.DB, scanID, targetName string) *Snapshot {
	return &Snapshot{db: db, scanID: scanID, targetName: targetName}
}

func (p *Snapshot) TargetName(ctx context.Context) (string, bool) {
	if p.targetName == "" {
		return "", false
	}
	return p.targetName, true
}

func (p *Snapshot) BlacklistFilter(ctx context.Context) (Filter, error) {
	return nil, nil
}

func (p *Snapshot) Subdomains(ctx context.Context) (Iterator, error) {
	var names []string
	var batch []store.SubdomainSnapshot
	err := p.db.WithContext(ctx).Where("scan_id = ?", p.scanID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, s := range batch {
				names = append(names, s.Name)
			}
			return nil
		}).Error
	return NewSliceIterator(names), err
}

func (p *Snapshot) HostPortURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.HostPortMappingSnapshot
	err := p.db.WithContext(ctx).Where("scan_id = ?", p.scanID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, h := range batch {
				host := h.Host
				if host == "" {
					host = h.IP
				}
				urls = append(urls, hostPortURL(host, h.Port))
			}
			return nil
		}).Error
	return NewSliceIterator(urls), err
}

func (p *Snapshot) WebsiteURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.WebSiteSnapshot
	err := p.db.WithContext(ctx).Where("scan_id = ?", p.scanID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, w := range batch {
				urls = append(urls, w.URL)
			}
			return nil
		}).Error
	return NewSliceIterator(urls), err
}

func (p *Snapshot) EndpointURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.EndpointSnapshot
	err := p.db.WithContext(ctx).Where("scan_id = ?", p.scanID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, e := range batch {
				urls = append(urls, e.URL)
			}
			return nil
		}).Error
	return NewSliceIterator(urls), err
}

func (p *Snapshot) DefaultURLs(ctx context.Context) (Iterator, error) {
	// Snapshots have no Target row to expand; default URLs degrade to the
	// host:port URLs already observed by this scan.
	return p.HostPortURLs(ctx)
}
