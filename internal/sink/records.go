package sink

import "github.com/surfacectl/scanhub/internal/store"

// SubdomainRecord is what internal/parser hands to the writer for the
// subdomain_discovery stage.
type SubdomainRecord struct {
	TargetID string
	ScanID   string
	Name     string
}

// HostPortRecord is what internal/parser hands to the writer for port_scan.
type HostPortRecord struct {
	TargetID string
	ScanID   string
	Host     string
	IP       string
	Port     int
}

// SiteRecord covers both WebSite and Endpoint rows (they share every field
// except Endpoint's MatchedPatterns); site_scan and url_fetch produce these
// for WebSite, fingerprint_detect updates WebSite rows with the
// merge-but-only-fill-empty policy.
type SiteRecord struct {
	TargetID      string
	ScanID        string
	URL           string
	Host          string
	Title         string
	StatusCode    int
	ContentLength int64
	ContentType   string
	Server        string
	RedirectLoc   string
	Tech          []string
	RawHeaders    string
	BodyPreview   string
	VirtualHost   bool

	// FillOnlyIfEmpty marks this record as coming from the fingerprint
	// stage, which must not overwrite a non-empty title/server/status_code/
	// content_length (spec.md §4.H Fingerprint Detect).
	FillOnlyIfEmpty bool
}

// EndpointRecord is a SiteRecord plus matched sensitive-URL-pattern tags.
type EndpointRecord struct {
	SiteRecord
	MatchedPatterns []string
}

// DirectoryRecord is what internal/parser hands to the writer for directory_scan.
type DirectoryRecord struct {
	TargetID      string
	ScanID        string
	URL           string
	StatusCode    int
	ContentLength int64
	WordCount     int
	LineCount     int
	ContentType   string
	LatencyMillis int64
}

// VulnerabilityRecord is what internal/parser hands to the writer for vuln_scan.
type VulnerabilityRecord struct {
	TargetID    string
	ScanID      string
	URL         string
	VulnType    string
	Source      string
	Severity    store.Severity
	CVSSScore   float64
	Description string
	RawOutput   string
}
