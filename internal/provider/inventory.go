package provider

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"github.com/surfacectl/scanhub/internal/blacklist"
	"github.com/surfacectl/scanhub/internal/store"
	"github.com/surfacectl/scanhub/internal/target"
)

const chunkSize = 1000

// BlacklistLoader resolves the per-target plus global rules for a target;
// implemented by internal/lifecycle against the relational store so this
// package does not need its own rule-storage schema.
type BlacklistLoader func(ctx context.Context, targetID string) ([]blacklist.Rule, error)

// Inventory is the Inventory Provider variant: queries the asset tables of
// a given target_id, filtering every iterator through the blacklist.
type Inventory struct {
	db       *store.DB
	targetID string
	loadRules BlacklistLoader

	filter     *blacklist.Filter
	filterOnce bool
}

// NewInventory constructs an Inventory provider. The blacklist is loaded
// lazily on first use and cached for the provider's lifetime per §4.E.
func NewInventory(db *store.DB, targetID string, loadRules BlacklistLoader) *Inventory {
	return &Inventory{db: db, targetID: targetID, loadRules: loadRules}
}

func (p *Inventory) TargetName(ctx context.Context) (string, bool) {
	var t store.Target
	if err := p.db.WithContext(ctx).First(&t, "id = ?", p.targetID).Error; err != nil {
		return "", false
	}
	return t.Name, true
}

func (p *Inventory) BlacklistFilter(ctx context.Context) (Filter, error) {
	if !p.filterOnce {
		rules, err := p.loadRules(ctx, p.targetID)
		if err != nil {
			return nil, err
		}
		f, err := blacklist.Compile(rules)
		if err != nil {
			return nil, err
		}
		p.filter = f
		p.filterOnce = true
	}
	return p.filter, nil
}

func (p *Inventory) filtered(ctx context.Context, values []string) Iterator {
	f, err := p.BlacklistFilter(ctx)
	if err != nil || f == nil {
		return NewFilteredIterator(values, len(values))
	}
	allowed, rawCount := f.(*blacklist.Filter).FilterAll(values)
	return NewFilteredIterator(allowed, rawCount)
}

func (p *Inventory) Subdomains(ctx context.Context) (Iterator, error) {
	var names []string
	var batch []store.Subdomain
	err := p.db.WithContext(ctx).Where("target_id = ?", p.targetID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, s := range batch {
				names = append(names, s.Name)
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return p.filtered(ctx, names), nil
}

func (p *Inventory) HostPortURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.HostPortMapping
	err := p.db.WithContext(ctx).Where("target_id = ?", p.targetID).
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
	if err != nil {
		return nil, err
	}
	return p.filtered(ctx, urls), nil
}

func (p *Inventory) WebsiteURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.WebSite
	err := p.db.WithContext(ctx).Where("target_id = ?", p.targetID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, w := range batch {
				urls = append(urls, w.URL)
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return p.filtered(ctx, urls), nil
}

func (p *Inventory) EndpointURLs(ctx context.Context) (Iterator, error) {
	var urls []string
	var batch []store.Endpoint
	err := p.db.WithContext(ctx).Where("target_id = ?", p.targetID).
		FindInBatches(&batch, chunkSize, func(tx *gorm.DB, batchNum int) error {
			for _, e := range batch {
				urls = append(urls, e.URL)
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return p.filtered(ctx, urls), nil
}

func (p *Inventory) DefaultURLs(ctx context.Context) (Iterator, error) {
	var t store.Target
	if err := p.db.WithContext(ctx).First(&t, "id = ?", p.targetID).Error; err != nil {
		return nil, err
	}
	urls, err := target.DefaultURLs(t.Type, t.Name)
	if err != nil {
		return nil, err
	}
	return p.filtered(ctx, urls), nil
}

func hostPortURL(host string, port int) string {
	switch port {
	case 443, 8443:
		return "https://" + host + portSuffix(port, 443)
	default:
		return "http://" + host + portSuffix(port, 80)
	}
}

func portSuffix(port, implicit int) string {
	if port == implicit {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
