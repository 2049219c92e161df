package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stageScreenshot = "screenshot"

const defaultScreenshotConcurrency = 5

const gowitnessArgsTemplate = "single {{.URL}} --screenshot-path {{.OutputDir}} -s {{.URL}}"

// ScreenshotStage renders a bounded-concurrency snapshot for each website
// URL, per spec.md §4.H. Screenshots are files, not database rows, so this
// stage has no writer/sink — its Result just reports per-tool counts.
type ScreenshotStage struct {
	deps deps
}

func NewScreenshotStage(d deps) *ScreenshotStage {
	return &ScreenshotStage{deps: d}
}

func (s *ScreenshotStage) Name() string { return stageScreenshot }

func (s *ScreenshotStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageScreenshot)
	}

	inputPath, skip, err := exportInput(ctx, run, stageScreenshot, []export.Source{export.SourceWebsites})
	if err != nil {
		return nil, err
	}
	if skip {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	tools := enabledTools(s.deps.Config, stageScreenshot)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	urls, err := readLines(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading input: %w", stageScreenshot, err)
	}
	if len(urls) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	dir := run.StageDir(stageScreenshot)

	var runs []toolRun
	var mu sync.Mutex
	for name, opts := range tools {
		if !runner.CheckAvailable(name) {
			runs = append(runs, toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)})
			continue
		}
		concurrency := opts.Concurrency
		if concurrency <= 0 {
			concurrency = defaultScreenshotConcurrency
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		var produced int64
		var firstErr error
		var errCount int

		for _, url := range urls {
			url := url
			g.Go(func() error {
				err := s.shootOne(gctx, name, opts, url, dir)
				mu.Lock()
				if err != nil {
					errCount++
					if firstErr == nil {
						firstErr = err
					}
				} else {
					produced++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		var toolErr error
		if errCount > 0 && produced == 0 {
			toolErr = fmt.Errorf("%s: all %d URLs failed: %w", name, errCount, firstErr)
		}
		runs = append(runs, toolRun{Tool: name, Produced: int(produced), Err: toolErr})
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, writer.Outcome{})}, nil
}

func (s *ScreenshotStage) shootOne(ctx context.Context, name string, opts config.ToolOptions, url, dir string) error {
	args, err := renderArgs(gowitnessArgsTemplate, opts, struct {
		URL       string
		OutputDir string
	}{url, dir})
	if err != nil {
		return err
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	lines, errs := s.deps.runner().Run(ctx, name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, sanitizeFilename(url)+".log"),
	})
	for range lines {
		// gowitness's own stdout isn't parsed into any record; the
		// screenshot file on disk is the product of this stage.
	}
	return <-errs
}
