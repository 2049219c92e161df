// Package export implements the Export Task of spec.md §4.G: walk an
// ordered list of sources, write the first one that produces output to a
// file, and stop without falling through if a source was non-empty before
// blacklist filtering but empty after (the operator's exclusion was
// intentional). Grounded on reconpipe's per-stage raw-file write pattern
// (cmd/reconpipe/scan.go's stage closures, each doing os.WriteFile of its
// stage's output).
package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/surfacectl/scanhub/internal/provider"
)

// Source names a Provider iterator method, in the order spec.md §4.G lists.
type Source string

const (
	SourceEndpoints Source = "endpoints"
	SourceWebsites  Source = "websites"
	SourceHostPorts Source = "host_ports"
	SourceSubdomains Source = "subdomains"
	SourceDefault   Source = "default"
)

// Result is what Export returns: how many lines were written and which
// source produced them.
type Result struct {
	Count      int
	SourceUsed Source
}

// ErrNoSourceProduced means every source in the list was empty (or
// intentionally blacklisted-empty) and nothing was written.
var ErrNoSourceProduced = fmt.Errorf("export: no source produced output")

// Export walks sources in order and writes the first one that yields ≥ 1
// line to outPath.
func Export(ctx context.Context, p provider.Provider, sources []Source, outPath string) (Result, error) {
	for _, src := range sources {
		it, err := iteratorFor(ctx, p, src)
		if err != nil {
			return Result{}, fmt.Errorf("export: %s: %w", src, err)
		}
		values, err := provider.Drain(ctx, it)
		if err != nil {
			return Result{}, fmt.Errorf("export: %s: %w", src, err)
		}
		raw := provider.RawCount(it, len(values))

		if len(values) == 0 {
			if raw > 0 {
				// Non-empty before filtering, empty after: the operator meant
				// to exclude this source entirely. Stop, don't fall through.
				return Result{}, ErrNoSourceProduced
			}
			continue
		}

		if err := writeLines(outPath, values); err != nil {
			return Result{}, fmt.Errorf("export: writing %s: %w", outPath, err)
		}
		return Result{Count: len(values), SourceUsed: src}, nil
	}
	return Result{}, ErrNoSourceProduced
}

func iteratorFor(ctx context.Context, p provider.Provider, src Source) (provider.Iterator, error) {
	switch src {
	case SourceEndpoints:
		return p.EndpointURLs(ctx)
	case SourceWebsites:
		return p.WebsiteURLs(ctx)
	case SourceHostPorts:
		return p.HostPortURLs(ctx)
	case SourceSubdomains:
		return p.Subdomains(ctx)
	case SourceDefault:
		return p.DefaultURLs(ctx)
	default:
		return nil, fmt.Errorf("unknown export source %q", src)
	}
}

// WriteSummary renders a short human-readable report of one stage's export,
// alongside the raw line-per-record file Export already wrote — operator
// context only, never read back by any stage. Grounded on reconpipe's
// report.WriteSubdomainReport/WritePortReport, which render a plain-text
// summary next to each stage's raw JSON and only warn (never fail the
// stage) if the write itself fails.
func WriteSummary(summaryPath, stageName string, res Result, target string) error {
	f, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("export: writing summary %s: %w", summaryPath, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# %s — %s\n\n", stageName, target)
	fmt.Fprintf(w, "- generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "- source: %s\n", res.SourceUsed)
	fmt.Fprintf(w, "- records: %d\n", res.Count)
	return w.Flush()
}

func writeLines(outPath string, values []string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range values {
		if _, err := w.WriteString(v); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
