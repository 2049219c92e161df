package parser

import (
	"strings"

	"github.com/surfacectl/scanhub/internal/sink"
)

// ParseSubfinderLine handles subfinder/dnsx's `-silent` plain-text output:
// one resolved subdomain name per line, nothing else.
func ParseSubfinderLine(ctx Context, line string) (sink.SubdomainRecord, bool) {
	name := strings.ToLower(strings.TrimSpace(Sanitize(line)))
	if name == "" || strings.ContainsAny(name, " \t") {
		return sink.SubdomainRecord{}, false
	}
	return sink.SubdomainRecord{
		TargetID: ctx.TargetID,
		ScanID:   ctx.ScanID,
		Name:     name,
	}, true
}
