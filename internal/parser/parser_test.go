package parser

import (
	"testing"

	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/store"
)

var ctx = Context{TargetID: "t1", ScanID: "s1", TargetName: "example.com"}

func TestParseSubfinderLine(t *testing.T) {
	rec, ok := ParseSubfinderLine(ctx, "www.Example.com\n")
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Name != "www.example.com" {
		t.Fatalf("got %q", rec.Name)
	}

	if _, ok := ParseSubfinderLine(ctx, "  "); ok {
		t.Fatal("expected blank line to be rejected")
	}
	if _, ok := ParseSubfinderLine(ctx, "not a subdomain line"); ok {
		t.Fatal("expected line with spaces to be rejected")
	}
}

func TestParseMasscanLine(t *testing.T) {
	rec, ok := ParseMasscanLine(ctx, "open tcp 80 93.184.216.34 1699999999")
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Port != 80 || rec.IP != "93.184.216.34" {
		t.Fatalf("got %+v", rec)
	}
	if _, ok := ParseMasscanLine(ctx, "closed tcp 80 93.184.216.34 1699999999"); ok {
		t.Fatal("expected closed port to be rejected")
	}
}

func TestParseNmapGrepLine(t *testing.T) {
	line := "Host: 93.184.216.34 (example.com)\tPorts: 80/open/tcp//http///, 443/closed/tcp//https///\tIgnored State: "
	rec, ok := ParseNmapGrepLine(ctx, line)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Port != 80 || rec.Host != "example.com" || rec.IP != "93.184.216.34" {
		t.Fatalf("got %+v", rec)
	}
	if _, ok := ParseNmapGrepLine(ctx, "# Nmap done at ..."); ok {
		t.Fatal("expected comment line to be rejected")
	}
}

func TestParseHTTPXLine(t *testing.T) {
	line := `{"url":"https://example.com","host":"example.com","title":"Example","status_code":200,"content_length":1256,"tech":["nginx"]}`
	rec, ok := ParseHTTPXLine(ctx, line)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.StatusCode != 200 || rec.Title != "Example" || rec.FillOnlyIfEmpty {
		t.Fatalf("got %+v", rec)
	}

	fprec, ok := ParseHTTPXFingerprintLine(ctx, line)
	if !ok || !fprec.FillOnlyIfEmpty {
		t.Fatalf("expected FillOnlyIfEmpty set, got %+v", fprec)
	}

	if _, ok := ParseHTTPXLine(ctx, "not json"); ok {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestParseFFUFLine(t *testing.T) {
	line := `{"url":"https://example.com/admin","status":301,"length":0,"words":1,"lines":1,"content-type":"text/html","duration":12345000}`
	rec, ok := ParseFFUFLine(ctx, line)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.StatusCode != 301 || rec.URL != "https://example.com/admin" {
		t.Fatalf("got %+v", rec)
	}
}

func TestParseNucleiLine(t *testing.T) {
	line := `{"template-id":"exposed-panel","info":{"severity":"high"},"matched-at":"https://example.com/admin","cvss-score":7.5}`
	rec, ok := ParseNucleiLine(ctx, line)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Severity != store.SeverityHigh || rec.Source != "nuclei" {
		t.Fatalf("got %+v", rec)
	}
}

func TestForToolDispatch(t *testing.T) {
	fn, ok := ForTool("httpx")
	if !ok {
		t.Fatal("expected httpx parser registered")
	}
	v, ok := fn(ctx, `{"url":"https://example.com"}`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if _, ok := v.(sink.SiteRecord); !ok {
		t.Fatalf("expected sink.SiteRecord, got %T", v)
	}

	if _, ok := ForTool("unknown-tool"); ok {
		t.Fatal("expected no parser for unknown tool")
	}
}
