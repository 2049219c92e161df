// Package store defines the relational models for targets, scans, and the
// asset/snapshot entities each scan stage writes to, plus thin repositories
// over a *gorm.DB handle.
package store

import (
	"time"

	"gorm.io/gorm"
)

// TargetType enumerates the kinds of scannable targets.
type TargetType string

const (
	TargetDomain TargetType = "DOMAIN"
	TargetIP     TargetType = "IP"
	TargetCIDR   TargetType = "CIDR"
)

// Target is the unit of work: the thing being scanned.
type Target struct {
	ID            string     `gorm:"primaryKey"`
	Name          string     `gorm:"uniqueIndex:idx_target_name_live,where:deleted_at IS NULL;not null"`
	Type          TargetType `gorm:"not null"`
	CreatedAt     time.Time
	LastScannedAt *time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// ScanStatus is the scan lifecycle state.
type ScanStatus string

const (
	ScanInitiated ScanStatus = "initiated"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// ScanMode selects whether a stage's inputs come from the live asset
// inventory (FULL) or from the snapshots of the current run (QUICK).
type ScanMode string

const (
	ModeFull  ScanMode = "FULL"
	ModeQuick ScanMode = "QUICK"
)

// StageProgress is one entry of a scan's stage-progress list.
type StageProgress struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pending|running|completed|failed|skipped|cancelled
}

// AssetCounts caches derived counts so list views don't need live joins.
type AssetCounts struct {
	Subdomains      int `json:"subdomains"`
	HostPorts       int `json:"host_ports"`
	Websites        int `json:"websites"`
	Endpoints       int `json:"endpoints"`
	Directories     int `json:"directories"`
	VulnCritical    int `json:"vuln_critical"`
	VulnHigh        int `json:"vuln_high"`
	VulnMedium      int `json:"vuln_medium"`
	VulnLow         int `json:"vuln_low"`
	VulnInfo        int `json:"vuln_info"`
	VulnUnknown     int `json:"vuln_unknown"`
}

// Scan is one execution of the orchestrator against one Target.
type Scan struct {
	ID               string `gorm:"primaryKey"`
	TargetID         string `gorm:"index;not null"`
	EngineIDs        StringSlice `gorm:"type:text"`
	EngineNames      StringSlice `gorm:"type:text"`
	Config           string      `gorm:"type:text"`
	Mode             ScanMode
	Status           ScanStatus `gorm:"index;not null"`
	CreatedAt        time.Time
	StoppedAt        *time.Time
	WorkerID         *string
	ResultsDir       string `gorm:"uniqueIndex"`
	ContainerIDs     StringSlice `gorm:"type:text"`
	ErrorMessage     string
	Progress         int
	CurrentStage     string
	StageProgress    JSON[[]StageProgress] `gorm:"type:text"`
	CachedCounts     JSON[AssetCounts]     `gorm:"type:text"`
	DeletedAt        gorm.DeletedAt        `gorm:"index"`
}

// TableName pins the explicit table name (GORM would otherwise pluralize).
func (Scan) TableName() string { return "scans" }

// Subdomain is an asset row: a discovered subdomain of a target.
type Subdomain struct {
	ID        string `gorm:"primaryKey"`
	TargetID  string `gorm:"uniqueIndex:idx_subdomain_natural,priority:1;not null"`
	Name      string `gorm:"uniqueIndex:idx_subdomain_natural,priority:2;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// SubdomainSnapshot mirrors Subdomain but is scoped to one scan, append-only.
type SubdomainSnapshot struct {
	ID        string `gorm:"primaryKey"`
	ScanID    string `gorm:"uniqueIndex:idx_subdomain_snap_natural,priority:1;not null"`
	Name      string `gorm:"uniqueIndex:idx_subdomain_snap_natural,priority:2;not null"`
	CreatedAt time.Time
}

// HostPortMapping is an asset row keyed (target, host, ip, port).
type HostPortMapping struct {
	ID        string `gorm:"primaryKey"`
	TargetID  string `gorm:"uniqueIndex:idx_hostport_natural,priority:1;not null"`
	Host      string `gorm:"uniqueIndex:idx_hostport_natural,priority:2;not null"`
	IP        string `gorm:"uniqueIndex:idx_hostport_natural,priority:3"`
	Port      int    `gorm:"uniqueIndex:idx_hostport_natural,priority:4;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// HostPortMappingSnapshot mirrors HostPortMapping, scoped to one scan.
type HostPortMappingSnapshot struct {
	ID        string `gorm:"primaryKey"`
	ScanID    string `gorm:"uniqueIndex:idx_hostport_snap_natural,priority:1;not null"`
	Host      string `gorm:"uniqueIndex:idx_hostport_snap_natural,priority:2;not null"`
	IP        string `gorm:"uniqueIndex:idx_hostport_snap_natural,priority:3"`
	Port      int    `gorm:"uniqueIndex:idx_hostport_snap_natural,priority:4;not null"`
	CreatedAt time.Time
}

// SiteFields are the attributes shared by WebSite and Endpoint (§3).
type SiteFields struct {
	Host            string
	Title           string
	StatusCode      int
	ContentLength   int64
	ContentType     string
	Server          string
	RedirectLoc     string
	Tech            StringSlice `gorm:"type:text"`
	RawHeaders      string      `gorm:"type:text"`
	BodyPreview     string      `gorm:"type:text"`
	VirtualHost     bool
}

// WebSite is an asset row keyed (target, url).
type WebSite struct {
	ID        string `gorm:"primaryKey"`
	TargetID  string `gorm:"uniqueIndex:idx_website_natural,priority:1;not null"`
	URL       string `gorm:"uniqueIndex:idx_website_natural,priority:2;not null"`
	SiteFields
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// WebSiteSnapshot mirrors WebSite, scoped to one scan.
type WebSiteSnapshot struct {
	ID        string `gorm:"primaryKey"`
	ScanID    string `gorm:"uniqueIndex:idx_website_snap_natural,priority:1;not null"`
	URL       string `gorm:"uniqueIndex:idx_website_snap_natural,priority:2;not null"`
	SiteFields
	CreatedAt time.Time
}

// Endpoint is an asset row keyed (target, url); same fields as WebSite plus
// a set of matched sensitive-URL-pattern tags.
type Endpoint struct {
	ID              string `gorm:"primaryKey"`
	TargetID        string `gorm:"uniqueIndex:idx_endpoint_natural,priority:1;not null"`
	URL             string `gorm:"uniqueIndex:idx_endpoint_natural,priority:2;not null"`
	SiteFields
	MatchedPatterns StringSlice `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

// EndpointSnapshot mirrors Endpoint, scoped to one scan.
type EndpointSnapshot struct {
	ID              string `gorm:"primaryKey"`
	ScanID          string `gorm:"uniqueIndex:idx_endpoint_snap_natural,priority:1;not null"`
	URL             string `gorm:"uniqueIndex:idx_endpoint_snap_natural,priority:2;not null"`
	SiteFields
	MatchedPatterns StringSlice `gorm:"type:text"`
	CreatedAt       time.Time
}

// Directory is an asset row keyed (target, url): a single directory-scan hit.
type Directory struct {
	ID            string `gorm:"primaryKey"`
	TargetID      string `gorm:"uniqueIndex:idx_directory_natural,priority:1;not null"`
	URL           string `gorm:"uniqueIndex:idx_directory_natural,priority:2;not null"`
	StatusCode    int
	ContentLength int64
	WordCount     int
	LineCount     int
	ContentType   string
	LatencyMillis int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// DirectorySnapshot mirrors Directory, scoped to one scan.
type DirectorySnapshot struct {
	ID            string `gorm:"primaryKey"`
	ScanID        string `gorm:"uniqueIndex:idx_directory_snap_natural,priority:1;not null"`
	URL           string `gorm:"uniqueIndex:idx_directory_snap_natural,priority:2;not null"`
	StatusCode    int
	ContentLength int64
	WordCount     int
	LineCount     int
	ContentType   string
	LatencyMillis int64
	CreatedAt     time.Time
}

// Severity is the vulnerability severity taxonomy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
)

// Vulnerability is an asset row keyed (target, url, vuln_type, source); no
// merge on conflict — distinct natural keys simply insert additional rows.
type Vulnerability struct {
	ID          string `gorm:"primaryKey"`
	TargetID    string `gorm:"uniqueIndex:idx_vuln_natural,priority:1;not null"`
	URL         string `gorm:"uniqueIndex:idx_vuln_natural,priority:2;not null"`
	VulnType    string `gorm:"uniqueIndex:idx_vuln_natural,priority:3;not null"`
	Source      string `gorm:"uniqueIndex:idx_vuln_natural,priority:4;not null"`
	Severity    Severity
	CVSSScore   float64
	Description string `gorm:"type:text"`
	RawOutput   string `gorm:"type:text"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// VulnerabilitySnapshot mirrors Vulnerability, scoped to one scan.
type VulnerabilitySnapshot struct {
	ID          string `gorm:"primaryKey"`
	ScanID      string `gorm:"uniqueIndex:idx_vuln_snap_natural,priority:1;not null"`
	URL         string `gorm:"uniqueIndex:idx_vuln_snap_natural,priority:2;not null"`
	VulnType    string `gorm:"uniqueIndex:idx_vuln_snap_natural,priority:3;not null"`
	Source      string `gorm:"uniqueIndex:idx_vuln_snap_natural,priority:4;not null"`
	Severity    Severity
	CVSSScore   float64
	Description string `gorm:"type:text"`
	RawOutput   string `gorm:"type:text"`
	CreatedAt   time.Time
}

// BlacklistRule is a persisted exclusion rule consulted by the Inventory
// provider (spec.md §4.F). A nil TargetID is a global rule applied to every
// target; a non-nil one scopes the rule to that target alone.
type BlacklistRule struct {
	ID        string `gorm:"primaryKey"`
	TargetID  *string `gorm:"index"`
	Pattern   string  `gorm:"not null"`
	Kind      string  `gorm:"not null"` // exact|suffix|substring|glob|regex
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// AllModels lists every model for AutoMigrate call sites (tests, cmd/scanhubctl).
func AllModels() []interface{} {
	return []interface{}{
		&Target{}, &Scan{},
		&Subdomain{}, &SubdomainSnapshot{},
		&HostPortMapping{}, &HostPortMappingSnapshot{},
		&WebSite{}, &WebSiteSnapshot{},
		&Endpoint{}, &EndpointSnapshot{},
		&Directory{}, &DirectorySnapshot{},
		&Vulnerability{}, &VulnerabilitySnapshot{},
		&BlacklistRule{},
	}
}
