package parser

import (
	"encoding/json"

	"github.com/surfacectl/scanhub/internal/sink"
)

// httpxLine is the subset of httpx's `-json` output fields this parser uses.
type httpxLine struct {
	URL           string   `json:"url"`
	Host          string   `json:"host"`
	Title         string   `json:"title"`
	StatusCode    int      `json:"status_code"`
	ContentLength int64    `json:"content_length"`
	ContentType   string   `json:"content_type"`
	WebServer     string   `json:"webserver"`
	Location      string   `json:"location"`
	Tech          []string `json:"tech"`
	RawHeader     string   `json:"raw_header"`
	VHost         bool     `json:"vhost"`
}

// ParseHTTPXLine handles httpx's `-json` output, one JSON object per line.
// Used by both site_scan (FillOnlyIfEmpty=false, a later non-empty value
// overwrites the stored one)
// and fingerprint_detect (FillOnlyIfEmpty=true, per spec.md §4.H).
func ParseHTTPXLine(ctx Context, line string) (sink.SiteRecord, bool) {
	return parseHTTPXLine(ctx, line, false)
}

// ParseHTTPXFingerprintLine is ParseHTTPXLine with FillOnlyIfEmpty set, for
// the fingerprint_detect stage which must not clobber already-probed fields.
func ParseHTTPXFingerprintLine(ctx Context, line string) (sink.SiteRecord, bool) {
	return parseHTTPXLine(ctx, line, true)
}

func parseHTTPXLine(ctx Context, line string, fillOnlyIfEmpty bool) (sink.SiteRecord, bool) {
	var h httpxLine
	if err := json.Unmarshal([]byte(Sanitize(line)), &h); err != nil || h.URL == "" {
		return sink.SiteRecord{}, false
	}
	return sink.SiteRecord{
		TargetID:        ctx.TargetID,
		ScanID:          ctx.ScanID,
		URL:             h.URL,
		Host:            h.Host,
		Title:           Sanitize(h.Title),
		StatusCode:      h.StatusCode,
		ContentLength:   h.ContentLength,
		ContentType:     h.ContentType,
		Server:          h.WebServer,
		RedirectLoc:     h.Location,
		Tech:            h.Tech,
		RawHeaders:      Sanitize(h.RawHeader),
		VirtualHost:     h.VHost,
		FillOnlyIfEmpty: fillOnlyIfEmpty,
	}, true
}
