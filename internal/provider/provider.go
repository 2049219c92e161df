// Package provider implements the Target Provider abstraction of spec.md
// §4.E: an iterator-producing interface with two concrete kinds (Inventory,
// Snapshot) that every stage is polymorphic over, grounded on the
// GetStep/ListSteps polymorphism of workflow.StepProvider
// (pkg/domain/workflow/interfaces.go).
package provider

import "context"

// Provider is the seven-method interface named in spec.md §4.E. Every
// iterator method returns a closeable Iterator so the DB cursor backing it
// (the "streaming iterators" design note in spec.md §9) is released on every
// exit path.
type Provider interface {
	TargetName(ctx context.Context) (string, bool)
	Subdomains(ctx context.Context) (Iterator, error)
	HostPortURLs(ctx context.Context) (Iterator, error)
	WebsiteURLs(ctx context.Context) (Iterator, error)
	EndpointURLs(ctx context.Context) (Iterator, error)
	DefaultURLs(ctx context.Context) (Iterator, error)
	BlacklistFilter(ctx context.Context) (Filter, error)
}

// Filter is the subset of blacklist.Filter a provider needs, kept as a
// local interface so this package does not import internal/blacklist's
// concrete type into its public surface.
type Filter interface {
	IsAllowed(v string) bool
}

// Iterator yields strings one at a time and must be Close()'d on every exit
// path, per spec.md §9's streaming-iterator design note.
type Iterator interface {
	Next(ctx context.Context) (string, bool, error)
	Close() error
}

// RawCounter is an optional capability an Iterator may implement: the number
// of values the underlying query produced *before* blacklist filtering. The
// Export Task (spec.md §4.G) needs this to distinguish "source empty" from
// "source non-empty but entirely blacklisted" — the two cases are handled
// differently by the fall-through rule. An Iterator that doesn't implement
// this is assumed to have raw count equal to its yielded count, which is
// also what a NewSliceIterator (the Snapshot provider's, which never
// filters) reports.
type RawCounter interface {
	RawCount() int
}

// sliceIterator adapts an in-memory []string (already chunk-streamed from
// storage by the caller) to the Iterator interface.
type sliceIterator struct {
	values   []string
	i        int
	rawCount int
	hasRaw   bool
}

// NewSliceIterator wraps a pre-fetched slice as an Iterator.
func NewSliceIterator(values []string) Iterator {
	return &sliceIterator{values: values}
}

// NewFilteredIterator wraps an already-blacklist-filtered slice as an
// Iterator that also reports the pre-filter raw count.
func NewFilteredIterator(allowed []string, rawCount int) Iterator {
	return &sliceIterator{values: allowed, rawCount: rawCount, hasRaw: true}
}

func (s *sliceIterator) RawCount() int {
	if s.hasRaw {
		return s.rawCount
	}
	return len(s.values)
}

func (s *sliceIterator) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.i >= len(s.values) {
		return "", false, nil
	}
	v := s.values[s.i]
	s.i++
	return v, true, nil
}

func (s *sliceIterator) Close() error { return nil }

// Drain reads every value out of it, closing it on return.
func Drain(ctx context.Context, it Iterator) ([]string, error) {
	defer it.Close()
	var out []string
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// RawCount returns its pre-filter count if it implements RawCounter,
// otherwise falls back to the given filtered count.
func RawCount(it Iterator, filteredCount int) int {
	if rc, ok := it.(RawCounter); ok {
		return rc.RawCount()
	}
	return filteredCount
}
