package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stageFingerprintDetect = "fingerprint_detect"

const httpxFingerprintArgsTemplate = "-l {{.InputFile}} -json -silent -tech-detect"

// FingerprintDetectStage takes website URLs, runs a fingerprint tool, and
// applies the merge-but-only-fill-empty policy of spec.md §4.H: tech is
// unioned; title/server/status-code/content-length fill only if currently
// empty. internal/sink.WebSiteSink.Flush carries out the actual merge —
// this stage only has to mark every record FillOnlyIfEmpty.
type FingerprintDetectStage struct {
	sink *sink.Sink
	deps deps
}

func NewFingerprintDetectStage(sk *sink.Sink, d deps) *FingerprintDetectStage {
	return &FingerprintDetectStage{sink: sk, deps: d}
}

func (s *FingerprintDetectStage) Name() string { return stageFingerprintDetect }

func (s *FingerprintDetectStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageFingerprintDetect)
	}

	inputPath, skip, err := exportInput(ctx, run, stageFingerprintDetect, []export.Source{export.SourceWebsites})
	if err != nil {
		return nil, err
	}
	if skip {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	tools := enabledTools(s.deps.Config, stageFingerprintDetect)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	lines, err := readLines(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading input: %w", stageFingerprintDetect, err)
	}

	dir := run.StageDir(stageFingerprintDetect)
	w := writer.New(s.sink.WebSites(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)

	var runs []toolRun
	for name, opts := range tools {
		runs = append(runs, s.runTool(ctx, name, opts, inputPath, len(lines), dir, pctx, w))
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stageFingerprintDetect, err)
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

func (s *FingerprintDetectStage) runTool(ctx context.Context, name string, opts config.ToolOptions, inputPath string, lineCount int, dir string, pctx parser.Context, w *writer.Writer[sink.SiteRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	args, err := renderArgs(httpxFingerprintArgsTemplate, opts, struct {
		InputFile string
		Libs      string
	}{inputPath, strings.Join(opts.FingerprintLibs, ",")})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = autoLineScaledTimeout(lineCount, 10*time.Second, 300*time.Second)
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, func(line string) (sink.SiteRecord, bool) {
		return parser.ParseHTTPXFingerprintLine(pctx, line)
	}, w)
}
