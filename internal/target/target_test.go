package target

import (
	"testing"

	"github.com/surfacectl/scanhub/internal/store"
)

func TestNormalizeDomainLowercases(t *testing.T) {
	got, err := Normalize(store.TargetDomain, "EXAMPLE.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeIPUnchanged(t *testing.T) {
	got, err := Normalize(store.TargetIP, "93.184.216.34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "93.184.216.34" {
		t.Fatalf("got %q", got)
	}
}

func TestDefaultURLsDomain(t *testing.T) {
	urls, err := DefaultURLs(store.TargetDomain, "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"http://example.com", "https://example.com"}
	if len(urls) != 2 || urls[0] != want[0] || urls[1] != want[1] {
		t.Fatalf("got %v", urls)
	}
}

func TestDefaultURLsSingleAddressCIDR(t *testing.T) {
	urls, err := DefaultURLs(store.TargetCIDR, "93.184.216.34/32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "http://93.184.216.34" || urls[1] != "https://93.184.216.34" {
		t.Fatalf("got %v", urls)
	}
}

func TestDefaultURLsCIDRExpandsEveryHost(t *testing.T) {
	urls, err := DefaultURLs(store.TargetCIDR, "10.0.0.0/30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// /30 has 4 addresses, 2 URLs each.
	if len(urls) != 8 {
		t.Fatalf("got %d urls: %v", len(urls), urls)
	}
}
