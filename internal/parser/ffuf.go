package parser

import (
	"encoding/json"

	"github.com/surfacectl/scanhub/internal/sink"
)

// ffufResult is one entry of ffuf's `-json-stream` per-line result object.
type ffufResult struct {
	URL            string `json:"url"`
	Status         int    `json:"status"`
	Length         int64  `json:"length"`
	Words          int    `json:"words"`
	Lines          int    `json:"lines"`
	ContentType    string `json:"content-type"`
	DurationMillis int64  `json:"duration"`
}

// ParseFFUFLine handles ffuf's `-json-stream` output, one result object per
// line (as opposed to the default `-of json` single-document-per-run mode).
func ParseFFUFLine(ctx Context, line string) (sink.DirectoryRecord, bool) {
	var r ffufResult
	if err := json.Unmarshal([]byte(Sanitize(line)), &r); err != nil || r.URL == "" {
		return sink.DirectoryRecord{}, false
	}
	return sink.DirectoryRecord{
		TargetID:      ctx.TargetID,
		ScanID:        ctx.ScanID,
		URL:           r.URL,
		StatusCode:    r.Status,
		ContentLength: r.Length,
		WordCount:     r.Words,
		LineCount:     r.Lines,
		ContentType:   r.ContentType,
		LatencyMillis: r.DurationMillis,
	}, true
}
