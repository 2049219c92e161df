package parser

import (
	"strconv"
	"strings"

	"github.com/surfacectl/scanhub/internal/sink"
)

// ParseMasscanLine handles masscan's `--output-format list` lines:
//
//	open tcp 80 93.184.216.34 1699999999
func ParseMasscanLine(ctx Context, line string) (sink.HostPortRecord, bool) {
	fields := strings.Fields(Sanitize(line))
	if len(fields) < 4 || fields[0] != "open" {
		return sink.HostPortRecord{}, false
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil || port <= 0 || port > 65535 {
		return sink.HostPortRecord{}, false
	}
	ip := fields[3]
	if ip == "" {
		return sink.HostPortRecord{}, false
	}
	return sink.HostPortRecord{
		TargetID: ctx.TargetID,
		ScanID:   ctx.ScanID,
		Host:     ip,
		IP:       ip,
		Port:     port,
	}, true
}

// ParseNmapGrepLine handles `nmap -oG -` lines, picking out open ports from
// the "Ports:" field:
//
//	Host: 93.184.216.34 (example.com)	Ports: 80/open/tcp//http///, 443/open/tcp//https///
//
// The one-record-per-line contract means only the first open port on a
// multi-port line is returned; port_scan also runs masscan, which emits one
// line per port, so coverage isn't lost in practice.
func ParseNmapGrepLine(ctx Context, line string) (sink.HostPortRecord, bool) {
	line = Sanitize(line)
	if !strings.HasPrefix(line, "Host:") {
		return sink.HostPortRecord{}, false
	}
	hostField, rest, ok := strings.Cut(strings.TrimPrefix(line, "Host:"), "\t")
	if !ok {
		return sink.HostPortRecord{}, false
	}
	hostField = strings.TrimSpace(hostField)
	ip, hostname, _ := strings.Cut(hostField, " ")
	ip = strings.TrimSpace(ip)
	hostname = strings.Trim(strings.TrimSpace(hostname), "()")

	portsIdx := strings.Index(rest, "Ports:")
	if portsIdx < 0 {
		return sink.HostPortRecord{}, false
	}
	portsField := rest[portsIdx+len("Ports:"):]
	if end := strings.Index(portsField, "\t"); end >= 0 {
		portsField = portsField[:end]
	}

	var first sink.HostPortRecord
	found := false
	for _, entry := range strings.Split(portsField, ",") {
		parts := strings.Split(strings.TrimSpace(entry), "/")
		if len(parts) < 2 || parts[1] != "open" {
			continue
		}
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		host := hostname
		if host == "" {
			host = ip
		}
		first = sink.HostPortRecord{
			TargetID: ctx.TargetID,
			ScanID:   ctx.ScanID,
			Host:     host,
			IP:       ip,
			Port:     port,
		}
		found = true
		break
	}
	return first, found
}
