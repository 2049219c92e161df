package parser

import (
	"encoding/json"

	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/store"
)

// nucleiFinding is the subset of nuclei's `-jsonl` output fields this parser
// uses.
type nucleiFinding struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Severity string `json:"severity"`
	} `json:"info"`
	MatchedAt string `json:"matched-at"`
	CVSSScore float64 `json:"cvss-score"`
}

// ParseNucleiLine handles nuclei's `-jsonl` output, one finding per line.
func ParseNucleiLine(ctx Context, line string) (sink.VulnerabilityRecord, bool) {
	var f nucleiFinding
	if err := json.Unmarshal([]byte(Sanitize(line)), &f); err != nil || f.TemplateID == "" || f.MatchedAt == "" {
		return sink.VulnerabilityRecord{}, false
	}
	return sink.VulnerabilityRecord{
		TargetID:  ctx.TargetID,
		ScanID:    ctx.ScanID,
		URL:       f.MatchedAt,
		VulnType:  f.TemplateID,
		Source:    "nuclei",
		Severity:  normalizeSeverity(f.Info.Severity),
		CVSSScore: f.CVSSScore,
		RawOutput: Sanitize(line),
	}, true
}

func normalizeSeverity(s string) store.Severity {
	switch s {
	case "critical":
		return store.SeverityCritical
	case "high":
		return store.SeverityHigh
	case "medium":
		return store.SeverityMedium
	case "low":
		return store.SeverityLow
	case "info", "informational":
		return store.SeverityInfo
	default:
		return store.SeverityUnknown
	}
}
