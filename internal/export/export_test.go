package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/surfacectl/scanhub/internal/provider"
)

type fakeProvider struct {
	endpoints, websites, hostPorts, subdomains, defaults provider.Iterator
}

func (f *fakeProvider) TargetName(ctx context.Context) (string, bool) { return "example.com", true }
func (f *fakeProvider) Subdomains(ctx context.Context) (provider.Iterator, error) {
	return f.subdomains, nil
}
func (f *fakeProvider) HostPortURLs(ctx context.Context) (provider.Iterator, error) {
	return f.hostPorts, nil
}
func (f *fakeProvider) WebsiteURLs(ctx context.Context) (provider.Iterator, error) {
	return f.websites, nil
}
func (f *fakeProvider) EndpointURLs(ctx context.Context) (provider.Iterator, error) {
	return f.endpoints, nil
}
func (f *fakeProvider) DefaultURLs(ctx context.Context) (provider.Iterator, error) {
	return f.defaults, nil
}
func (f *fakeProvider) BlacklistFilter(ctx context.Context) (provider.Filter, error) {
	return nil, nil
}

func empty() provider.Iterator { return provider.NewSliceIterator(nil) }

func TestExportFallsThroughEmptySources(t *testing.T) {
	p := &fakeProvider{
		endpoints: empty(),
		websites:  empty(),
		hostPorts: provider.NewSliceIterator([]string{"http://example.com:8080"}),
		subdomains: empty(),
		defaults:  empty(),
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	res, err := Export(context.Background(), p, []Source{SourceEndpoints, SourceWebsites, SourceHostPorts, SourceSubdomains, SourceDefault}, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SourceUsed != SourceHostPorts || res.Count != 1 {
		t.Fatalf("got %+v", res)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if string(content) != "http://example.com:8080\n" {
		t.Fatalf("got %q", content)
	}
}

func TestExportStopsOnAllBlacklisted(t *testing.T) {
	p := &fakeProvider{
		endpoints:  provider.NewFilteredIterator(nil, 3), // raw had 3, all blacklisted
		websites:   provider.NewSliceIterator([]string{"https://example.com"}),
		hostPorts:  empty(),
		subdomains: empty(),
		defaults:   empty(),
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	_, err := Export(context.Background(), p, []Source{SourceEndpoints, SourceWebsites}, out)
	if err != ErrNoSourceProduced {
		t.Fatalf("expected ErrNoSourceProduced, got %v", err)
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Fatal("expected no output file to be written")
	}
}

func TestExportNoSourcesProduceAnything(t *testing.T) {
	p := &fakeProvider{
		endpoints: empty(), websites: empty(), hostPorts: empty(), subdomains: empty(), defaults: empty(),
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	_, err := Export(context.Background(), p, []Source{SourceEndpoints, SourceDefault}, out)
	if err != ErrNoSourceProduced {
		t.Fatalf("expected ErrNoSourceProduced, got %v", err)
	}
}
