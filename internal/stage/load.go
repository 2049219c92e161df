package stage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gate is the backpressure check of spec.md §4.H step 1: every stage waits
// for it to clear before doing any work.
type Gate interface {
	Wait(ctx context.Context) error
}

// NoOpGate never blocks — used by tests and any deployment that hasn't
// configured a load threshold.
type NoOpGate struct{}

func (NoOpGate) Wait(context.Context) error { return nil }

// LoadGate polls Sample until the reported 1-minute load average drops to
// or below Threshold. No pack example wires an OS load-average library and
// the read is two stdlib calls, so this stays on the standard library
// rather than reaching for a dependency (see DESIGN.md).
type LoadGate struct {
	Sample       func() (float64, error)
	Threshold    float64
	PollInterval time.Duration
}

// WaitForLoad samples /proc/loadavg and blocks until its 1-minute average
// is at or below threshold.
func WaitForLoad(ctx context.Context, threshold float64, pollInterval time.Duration) error {
	g := LoadGate{Sample: ReadLoadAverage, Threshold: threshold, PollInterval: pollInterval}
	return g.Wait(ctx)
}

func (g LoadGate) Wait(ctx context.Context) error {
	if g.Sample == nil {
		return nil
	}
	interval := g.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		load, err := g.Sample()
		if err != nil {
			return fmt.Errorf("stage: sampling system load: %w", err)
		}
		if load <= g.Threshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ReadLoadAverage reads the 1-minute load average from /proc/loadavg. On
// platforms without it (e.g. a non-Linux dev machine), it returns 0 so the
// gate never blocks rather than failing the stage outright.
func ReadLoadAverage() (float64, error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stage: reading /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("stage: empty /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("stage: parsing /proc/loadavg: %w", err)
	}
	return load, nil
}
