package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/provider"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/store"
	"github.com/surfacectl/scanhub/internal/target"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stagePortScan = "port_scan"

// defaultPortCount is the size of the port set scanned when a tool's
// options don't say otherwise (the conventional top-1000 TCP ports).
const defaultPortCount = 1000

const masscanArgsTemplate = "-iL {{.InputFile}} --top-ports {{.Ports}} --rate {{.Rate}} --output-format list --output-filename {{.OutputFile}}"

// PortScanStage takes the union of the expanded target name and the
// subdomains discovered so far, runs each configured tool sequentially
// against it, and writes HostPortMapping records, per spec.md §4.H.
type PortScanStage struct {
	sink *sink.Sink
	deps deps
}

func NewPortScanStage(sk *sink.Sink, d deps) *PortScanStage {
	return &PortScanStage{sink: sk, deps: d}
}

func (s *PortScanStage) Name() string { return stagePortScan }

func (s *PortScanStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stagePortScan)
	}
	dir := run.StageDir(stagePortScan)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: creating stage dir: %w", stagePortScan, err)
	}

	tools := enabledTools(s.deps.Config, stagePortScan)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	hosts, err := s.scanInputs(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("%s: building scan inputs: %w", stagePortScan, err)
	}
	if len(hosts) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}
	inputPath := filepath.Join(dir, "input.txt")
	if err := writeHostList(inputPath, hosts); err != nil {
		return nil, fmt.Errorf("%s: writing input list: %w", stagePortScan, err)
	}

	w := writer.New(s.sink.HostPorts(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)

	var runs []toolRun
	for name, opts := range tools {
		runs = append(runs, s.runTool(ctx, name, opts, inputPath, len(hosts), dir, pctx, w))
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stagePortScan, err)
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

// scanInputs builds the union of target_name (CIDR-expanded) and the
// subdomains already discovered for this scan.
func (s *PortScanStage) scanInputs(ctx context.Context, run *stage.Run) ([]string, error) {
	seen := make(map[string]struct{})
	var hosts []string
	add := func(h string) {
		if h == "" {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	switch store.TargetType(run.TargetKind) {
	case store.TargetCIDR:
		expanded, err := target.ExpandHosts(run.TargetName)
		if err != nil {
			return nil, err
		}
		for _, h := range expanded {
			add(h)
		}
	default:
		add(run.TargetName)
	}

	it, err := run.Provider.Subdomains(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := provider.Drain(ctx, it)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		add(sub)
	}
	return hosts, nil
}

func (s *PortScanStage) runTool(ctx context.Context, name string, opts config.ToolOptions, inputPath string, targetCount int, dir string, pctx parser.Context, w *writer.Writer[sink.HostPortRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	rate := opts.Rate
	if rate <= 0 {
		rate = 1000
	}
	outPath := filepath.Join(dir, name+".out")
	args, err := renderArgs(masscanArgsTemplate, opts, struct {
		InputFile  string
		Ports      int
		Rate       int
		OutputFile string
	}{inputPath, defaultPortCount, rate, outPath})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}

	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = autoPortScanTimeout(targetCount, defaultPortCount)
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, func(line string) (sink.HostPortRecord, bool) {
		return parser.ParseMasscanLine(pctx, line)
	}, w)
}

// autoPortScanTimeout implements spec.md §4.H's `target_count × port_count
// × 0.5s`, floored at 60s.
func autoPortScanTimeout(targetCount, portCount int) time.Duration {
	d := time.Duration(float64(targetCount*portCount)*0.5) * time.Second
	if d < 60*time.Second {
		return 60 * time.Second
	}
	return d
}

func writeHostList(path string, hosts []string) error {
	return writeLinesToFile(path, hosts)
}
