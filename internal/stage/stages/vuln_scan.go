package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stageVulnScan = "vuln_scan"

const nucleiArgsTemplate = "-l {{.InputFile}} -jsonl -silent -rate-limit {{.Rate}}"

// VulnScanStage takes endpoint URLs, runs the configured scanners, and
// persists raw findings with severity-taxonomy normalization (done in
// internal/parser.ParseNucleiLine), per spec.md §4.H.
type VulnScanStage struct {
	sink *sink.Sink
	deps deps
}

func NewVulnScanStage(sk *sink.Sink, d deps) *VulnScanStage {
	return &VulnScanStage{sink: sk, deps: d}
}

func (s *VulnScanStage) Name() string { return stageVulnScan }

func (s *VulnScanStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageVulnScan)
	}

	inputPath, skip, err := exportInput(ctx, run, stageVulnScan, []export.Source{export.SourceEndpoints})
	if err != nil {
		return nil, err
	}
	if skip {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	tools := enabledTools(s.deps.Config, stageVulnScan)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	lines, err := readLines(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading input: %w", stageVulnScan, err)
	}

	dir := run.StageDir(stageVulnScan)
	w := writer.New(s.sink.Vulnerabilities(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)

	var runs []toolRun
	for name, opts := range tools {
		runs = append(runs, s.runTool(ctx, name, opts, inputPath, len(lines), dir, pctx, w))
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stageVulnScan, err)
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

func (s *VulnScanStage) runTool(ctx context.Context, name string, opts config.ToolOptions, inputPath string, lineCount int, dir string, pctx parser.Context, w *writer.Writer[sink.VulnerabilityRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	rate := opts.Rate
	if rate <= 0 {
		rate = 150
	}
	args, err := renderArgs(nucleiArgsTemplate, opts, struct {
		InputFile string
		Rate      int
	}{inputPath, rate})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		// spec.md §4.H names no formula for this stage; scanners run
		// materially longer per URL than an HTTP probe does, so this
		// reuses site_scan's line-scaled shape with a larger floor.
		timeout = autoLineScaledTimeout(lineCount, 2*time.Second, 120*time.Second)
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, func(line string) (sink.VulnerabilityRecord, bool) {
		return parser.ParseNucleiLine(pctx, line)
	}, w)
}
