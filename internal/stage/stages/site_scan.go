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

const stageSiteScan = "site_scan"

const httpxArgsTemplate = "-l {{.InputFile}} -json -silent"

// SiteScanStage takes host:port URLs, runs an HTTP prober, and persists a
// WebSite snapshot + upsert, per spec.md §4.H.
type SiteScanStage struct {
	sink *sink.Sink
	deps deps
}

func NewSiteScanStage(sk *sink.Sink, d deps) *SiteScanStage {
	return &SiteScanStage{sink: sk, deps: d}
}

func (s *SiteScanStage) Name() string { return stageSiteScan }

func (s *SiteScanStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageSiteScan)
	}

	inputPath, skip, err := exportInput(ctx, run, stageSiteScan, []export.Source{export.SourceHostPorts})
	if err != nil {
		return nil, err
	}
	if skip {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	tools := enabledTools(s.deps.Config, stageSiteScan)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	lines, err := readLines(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading input: %w", stageSiteScan, err)
	}

	dir := run.StageDir(stageSiteScan)
	w := writer.New(s.sink.WebSites(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)

	var runs []toolRun
	for name, opts := range tools {
		runs = append(runs, s.runTool(ctx, name, opts, inputPath, len(lines), dir, pctx, w))
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stageSiteScan, err)
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

func (s *SiteScanStage) runTool(ctx context.Context, name string, opts config.ToolOptions, inputPath string, lineCount int, dir string, pctx parser.Context, w *writer.Writer[sink.SiteRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	args, err := renderArgs(httpxArgsTemplate, opts, struct{ InputFile string }{inputPath})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = autoLineScaledTimeout(lineCount, time.Second, 60*time.Second)
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, func(line string) (sink.SiteRecord, bool) {
		return parser.ParseHTTPXLine(pctx, line)
	}, w)
}

// autoLineScaledTimeout implements the common `max(lines*perLine, floor)`
// auto-timeout shape used by site_scan and fingerprint_detect.
func autoLineScaledTimeout(lines int, perLine, floor time.Duration) time.Duration {
	d := time.Duration(lines) * perLine
	if d < floor {
		return floor
	}
	return d
}
