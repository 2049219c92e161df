package sink

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm/clause"

	"github.com/surfacectl/scanhub/internal/store"
)

// HostPortSink implements writer.Sink[HostPortRecord].
type HostPortSink struct{ *Sink }

// HostPorts returns a HostPortSink bound to this Sink's dependencies.
func (s *Sink) HostPorts() *HostPortSink { return &HostPortSink{s} }

func hostPortKey(targetID, host, ip string, port int) string {
	return targetID + "\x00" + host + "\x00" + ip + "\x00" + strconv.Itoa(port)
}

// Flush mirrors SubdomainSink.Flush: HostPortMapping has no mutable fields
// beyond its natural key, so both writes are insert-ignore-on-conflict.
func (s *HostPortSink) Flush(ctx context.Context, batch []HostPortRecord) error {
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

	batch = dedupeLastWins(batch, func(r HostPortRecord) string {
		return hostPortKey(r.TargetID, r.Host, r.IP, r.Port)
	})
	now := time.Now()

	snaps := make([]store.HostPortMappingSnapshot, 0, len(batch))
	assets := make([]store.HostPortMapping, 0, len(batch))
	for _, r := range batch {
		snaps = append(snaps, store.HostPortMappingSnapshot{
			ID: newID(), ScanID: r.ScanID, Host: r.Host, IP: r.IP, Port: r.Port, CreatedAt: now,
		})
		assets = append(assets, store.HostPortMapping{
			ID: newID(), TargetID: r.TargetID, Host: r.Host, IP: r.IP, Port: r.Port, CreatedAt: now, UpdatedAt: now,
		})
	}

	snapCols := []clause.Column{{Name: "scan_id"}, {Name: "host"}, {Name: "ip"}, {Name: "port"}}
	assetCols := []clause.Column{{Name: "target_id"}, {Name: "host"}, {Name: "ip"}, {Name: "port"}}

	if err := s.db.WithContext(ctx).Clauses(onConflictIgnore(snapCols)).Create(&snaps).Error; err != nil {
		return wrapFlushErr(err)
	}
	if err := s.db.WithContext(ctx).Clauses(onConflictIgnore(assetCols)).Create(&assets).Error; err != nil {
		return wrapFlushErr(err)
	}
	return nil
}
